// Package audit captures an append-only trail of decisions and moderation
// actions. Events are emitted from domain logic, buffered on a channel, and
// persisted by a background worker so emission never blocks the pipeline.
package audit

import (
	"context"
	"time"
)

// Category classifies events for routing and retention.
type Category string

const (
	// CategorySecurity covers enforcement outcomes: blacklists, IP bans,
	// duplicate and risk flags.
	CategorySecurity Category = "security"
	// CategoryModeration covers operator-initiated actions.
	CategoryModeration Category = "moderation"
	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations Category = "operations"
)

// Action names. Keep these stable; downstream consumers key on them.
const (
	ActionVerificationCommitted = "verification_committed"
	ActionVerificationRejected  = "verification_rejected"
	ActionDuplicateFlagged      = "duplicate_hwid_flagged"
	ActionRiskFlagged           = "risk_flagged"
	ActionAutoBlacklist         = "auto_blacklist_triggered"
	ActionBlacklistUpdated      = "blacklist_updated"
	ActionWhitelistUpdated      = "whitelist_updated"
	ActionIPBanned              = "ip_banned"
	ActionIPUnbanned            = "ip_unbanned"
	ActionIPBanEnforced         = "ip_ban_enforced"
	ActionUserUnverified        = "user_unverified"
	ActionMemberJoined          = "member_joined"
	ActionExportGenerated       = "export_generated"
	ActionAttemptsSwept         = "attempts_swept"
)

var actionCategories = map[string]Category{
	ActionVerificationCommitted: CategoryOperations,
	ActionVerificationRejected:  CategoryOperations,
	ActionDuplicateFlagged:      CategorySecurity,
	ActionRiskFlagged:           CategorySecurity,
	ActionAutoBlacklist:         CategorySecurity,
	ActionBlacklistUpdated:      CategoryModeration,
	ActionWhitelistUpdated:      CategoryModeration,
	ActionIPBanned:              CategorySecurity,
	ActionIPUnbanned:            CategoryModeration,
	ActionIPBanEnforced:         CategorySecurity,
	ActionUserUnverified:        CategoryModeration,
	ActionMemberJoined:          CategoryOperations,
	ActionExportGenerated:       CategoryModeration,
	ActionAttemptsSwept:         CategoryOperations,
}

// CategoryOf maps an action to its category, defaulting to operations.
func CategoryOf(action string) Category {
	if cat, ok := actionCategories[action]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is one audit trail entry. Subject is the user or IP the action is
// about; Actor is who caused it (empty for pipeline-originated events).
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Actor     string    `json:"actor,omitempty"`
	GuildID   string    `json:"guild_id,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Store persists audit events. Append-only; listing exists for operator
// lookups and tests.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
