// Package invites attributes new members to the invite that brought them in
// by diffing the guild's invite listing against the last persisted snapshot.
package invites

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/audit"
	"warden/internal/chat"
	"warden/internal/domain"
	"warden/internal/store"
)

// Attributor resolves and records invite attribution at join time.
type Attributor struct {
	mgr       *store.Manager
	publisher *audit.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Attributor.
type Option func(*Attributor)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Attributor) { a.now = now }
}

// NewAttributor builds an attributor. publisher may be nil.
func NewAttributor(mgr *store.Manager, publisher *audit.Publisher, logger *slog.Logger, opts ...Option) *Attributor {
	a := &Attributor{mgr: mgr, publisher: publisher, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnMemberJoin diffs the current invite listing against the stored snapshot
// and credits the first invite, in listing order, whose use count increased.
// The snapshot is always advanced even when no invite can be credited, so
// one missed join does not poison later diffs. Attribution is write-once: a
// rejoining member keeps their original record.
func (a *Attributor) OnMemberJoin(ctx context.Context, guildID, memberID string, listing []chat.Invite) (domain.InviteAttribution, bool, error) {
	var (
		attribution domain.InviteAttribution
		attributed  bool
		written     bool
	)
	err := a.mgr.Update(ctx, func(s *store.State) error {
		prev := s.InviteSnapshots[guildID]

		var credited *chat.Invite
		for i := range listing {
			if listing[i].Uses > prev[listing[i].Code] {
				credited = &listing[i]
				break
			}
		}

		next := make(map[string]int, len(listing))
		for _, inv := range listing {
			next[inv.Code] = inv.Uses
		}
		s.InviteSnapshots[guildID] = next

		if existing, ok := s.Invites[memberID]; ok {
			attribution = existing
			attributed = true
			return nil
		}
		if credited == nil {
			return nil
		}
		attribution = domain.InviteAttribution{
			InviterID:  credited.InviterID,
			InviteCode: credited.Code,
			JoinedAt:   a.now().UTC(),
			UsesAtJoin: credited.Uses,
		}
		s.Invites[memberID] = attribution
		attributed = true
		written = true
		return nil
	})
	if err != nil {
		return domain.InviteAttribution{}, false, err
	}
	// Only a freshly written attribution is an auditable join; a rejoin
	// returns the original record without re-crediting the invite.
	if written && a.publisher != nil {
		a.publisher.Emit(ctx, audit.Event{
			Action:  audit.ActionMemberJoined,
			Subject: memberID,
			GuildID: guildID,
			Reason:  "invite " + attribution.InviteCode,
		})
	}
	if !attributed {
		a.logger.Info("member joined with no attributable invite",
			"guild_id", guildID, "member_id", memberID)
	}
	return attribution, attributed, nil
}

// AttributionOf returns the stored attribution for a member.
func (a *Attributor) AttributionOf(memberID string) (domain.InviteAttribution, bool) {
	var (
		attribution domain.InviteAttribution
		ok          bool
	)
	a.mgr.View(func(s *store.State) {
		attribution, ok = s.Invites[memberID]
	})
	return attribution, ok
}
