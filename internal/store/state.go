package store

import (
	"time"

	"warden/internal/domain"
)

// StateVersion is bumped when the persisted document shape changes.
const StateVersion = 1

// State is the single persisted document holding every verification-related
// collection. All mutation funnels through Manager.Update so a logical
// transaction maps to exactly one durable save.
type State struct {
	Version         int                                  `json:"version"`
	Verifications   map[string]domain.VerificationRecord `json:"verification_data"`
	Blacklist       []string                             `json:"blacklist"`
	Whitelist       []string                             `json:"whitelist"`
	FailedAttempts  map[string]domain.FailedAttempt      `json:"failed_attempts"`
	IPBans          map[string]domain.IPBanRecord        `json:"ip_bans"`
	Invites         map[string]domain.InviteAttribution  `json:"invite_data"`
	InviteSnapshots map[string]map[string]int            `json:"invite_snapshots"`
	Profiles        map[string]domain.UserProfile        `json:"user_profiles"`
	LastUpdated     time.Time                            `json:"last_updated"`
}

// NewState returns an empty state with all collections initialized.
func NewState() *State {
	return &State{
		Version:         StateVersion,
		Verifications:   make(map[string]domain.VerificationRecord),
		Blacklist:       []string{},
		Whitelist:       []string{},
		FailedAttempts:  make(map[string]domain.FailedAttempt),
		IPBans:          make(map[string]domain.IPBanRecord),
		Invites:         make(map[string]domain.InviteAttribution),
		InviteSnapshots: make(map[string]map[string]int),
		Profiles:        make(map[string]domain.UserProfile),
	}
}

// normalize re-initializes nil collections after a load from an older or
// partially written document.
func (s *State) normalize() {
	if s.Version == 0 {
		s.Version = StateVersion
	}
	if s.Verifications == nil {
		s.Verifications = make(map[string]domain.VerificationRecord)
	}
	if s.Blacklist == nil {
		s.Blacklist = []string{}
	}
	if s.Whitelist == nil {
		s.Whitelist = []string{}
	}
	if s.FailedAttempts == nil {
		s.FailedAttempts = make(map[string]domain.FailedAttempt)
	}
	if s.IPBans == nil {
		s.IPBans = make(map[string]domain.IPBanRecord)
	}
	if s.Invites == nil {
		s.Invites = make(map[string]domain.InviteAttribution)
	}
	if s.InviteSnapshots == nil {
		s.InviteSnapshots = make(map[string]map[string]int)
	}
	if s.Profiles == nil {
		s.Profiles = make(map[string]domain.UserProfile)
	}
}

// Clone deep-copies the state. Update works on a clone so a failed save
// never leaves the in-memory state ahead of the durable one.
func (s *State) Clone() *State {
	c := &State{
		Version:         s.Version,
		Verifications:   make(map[string]domain.VerificationRecord, len(s.Verifications)),
		Blacklist:       append([]string{}, s.Blacklist...),
		Whitelist:       append([]string{}, s.Whitelist...),
		FailedAttempts:  make(map[string]domain.FailedAttempt, len(s.FailedAttempts)),
		IPBans:          make(map[string]domain.IPBanRecord, len(s.IPBans)),
		Invites:         make(map[string]domain.InviteAttribution, len(s.Invites)),
		InviteSnapshots: make(map[string]map[string]int, len(s.InviteSnapshots)),
		Profiles:        make(map[string]domain.UserProfile, len(s.Profiles)),
		LastUpdated:     s.LastUpdated,
	}
	for k, v := range s.Verifications {
		c.Verifications[k] = v
	}
	for k, v := range s.FailedAttempts {
		c.FailedAttempts[k] = v
	}
	for k, v := range s.IPBans {
		c.IPBans[k] = v
	}
	for k, v := range s.Invites {
		c.Invites[k] = v
	}
	for guild, counts := range s.InviteSnapshots {
		snap := make(map[string]int, len(counts))
		for code, uses := range counts {
			snap[code] = uses
		}
		c.InviteSnapshots[guild] = snap
	}
	for k, v := range s.Profiles {
		p := v
		p.Guilds = make(map[string]domain.GuildSnapshot, len(v.Guilds))
		for g, gs := range v.Guilds {
			p.Guilds[g] = gs
		}
		p.VerificationHistory = append([]domain.VerificationEvent{}, v.VerificationHistory...)
		c.Profiles[k] = p
	}
	return c
}

// InBlacklist reports blacklist membership.
func (s *State) InBlacklist(userID string) bool { return contains(s.Blacklist, userID) }

// InWhitelist reports whitelist membership. Whitelisting grants redacted
// export visibility, not a blacklist bypass.
func (s *State) InWhitelist(userID string) bool { return contains(s.Whitelist, userID) }

// AddToBlacklist inserts idempotently and reports whether the entry is new.
func (s *State) AddToBlacklist(userID string) bool {
	if contains(s.Blacklist, userID) {
		return false
	}
	s.Blacklist = append(s.Blacklist, userID)
	return true
}

// RemoveFromBlacklist drops the entry and the user's failed-attempt counter,
// matching the rule that blacklist removal resets attempts.
func (s *State) RemoveFromBlacklist(userID string) bool {
	if !contains(s.Blacklist, userID) {
		return false
	}
	s.Blacklist = remove(s.Blacklist, userID)
	delete(s.FailedAttempts, userID)
	return true
}

// AddToWhitelist inserts idempotently and reports whether the entry is new.
func (s *State) AddToWhitelist(userID string) bool {
	if contains(s.Whitelist, userID) {
		return false
	}
	s.Whitelist = append(s.Whitelist, userID)
	return true
}

// RemoveFromWhitelist drops the entry.
func (s *State) RemoveFromWhitelist(userID string) bool {
	if !contains(s.Whitelist, userID) {
		return false
	}
	s.Whitelist = remove(s.Whitelist, userID)
	return true
}

// RecordProfile folds a committed verification into the user's profile.
func (s *State) RecordProfile(rec domain.VerificationRecord) {
	profile, ok := s.Profiles[rec.UserID]
	if !ok {
		profile = domain.UserProfile{
			UserID: rec.UserID,
			Guilds: make(map[string]domain.GuildSnapshot),
		}
	}
	if profile.Guilds == nil {
		profile.Guilds = make(map[string]domain.GuildSnapshot)
	}
	profile.Guilds[rec.GuildID] = domain.GuildSnapshot{
		GuildID:     rec.GuildID,
		DisplayName: rec.DisplayName,
		VerifiedAt:  rec.VerifiedAt,
	}
	profile.VerificationHistory = append(profile.VerificationHistory, domain.VerificationEvent{
		GuildID:    rec.GuildID,
		HWID:       rec.HWID,
		IPHash:     rec.IPHash,
		VerifiedAt: rec.VerifiedAt,
	})
	profile.TotalVerifications++
	s.Profiles[rec.UserID] = profile
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
