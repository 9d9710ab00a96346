package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// VerificationRecord is the active verification for one user. At most one
// record exists per user; re-verification overwrites it and an explicit
// unverify deletes it.
type VerificationRecord struct {
	UserID      string    `json:"user_id"`
	HWID        string    `json:"hwid"`
	IPHash      string    `json:"ip_hash"`
	IPRaw       string    `json:"ip_raw,omitempty"`
	VerifiedAt  time.Time `json:"verified_at"`
	GuildID     string    `json:"guild_id"`
	DisplayName string    `json:"display_name"`
}

// Redacted returns a copy safe for non-owner export: the raw IP is stripped
// while the hash is retained.
func (r VerificationRecord) Redacted() VerificationRecord {
	r.IPRaw = ""
	return r
}

// HashIP derives the stored IP hash: truncated hex SHA-256 of the raw
// address. The truncation is load-bearing for stored data compatibility.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:16]
}

// FailedAttempt tracks verification failures for a user who has not yet
// verified. Cleared on success and on blacklist removal.
type FailedAttempt struct {
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// IPBanRecord is keyed by the raw IP string. Unban is a soft delete: the
// record stays for history with Active set to false.
type IPBanRecord struct {
	IP       string    `json:"ip"`
	BannedAt time.Time `json:"banned_at"`
	Reason   string    `json:"reason"`
	BannedBy string    `json:"banned_by"`
	Active   bool      `json:"active"`
}

// InviteAttribution records which invite brought a member in. Written once
// at join time and never updated on rejoin.
type InviteAttribution struct {
	InviterID  string    `json:"inviter_id"`
	InviteCode string    `json:"invite_code"`
	JoinedAt   time.Time `json:"joined_at"`
	UsesAtJoin int       `json:"uses_at_join"`
}

// GuildSnapshot is the per-guild slice of a user profile.
type GuildSnapshot struct {
	GuildID     string    `json:"guild_id"`
	DisplayName string    `json:"display_name"`
	VerifiedAt  time.Time `json:"verified_at"`
}

// VerificationEvent is one entry in a profile's history.
type VerificationEvent struct {
	GuildID    string    `json:"guild_id"`
	HWID       string    `json:"hwid"`
	IPHash     string    `json:"ip_hash"`
	VerifiedAt time.Time `json:"verified_at"`
}

// UserProfile aggregates a user's verification activity across guilds. It is
// denormalized from VerificationRecord and InviteAttribution and is never
// consulted for ban or blacklist decisions.
type UserProfile struct {
	UserID              string                   `json:"user_id"`
	Guilds              map[string]GuildSnapshot `json:"guilds"`
	VerificationHistory []VerificationEvent      `json:"verification_history"`
	TotalVerifications  int                      `json:"total_verifications"`
}
