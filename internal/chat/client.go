// Package chat defines the boundary to the external chat platform. The core
// consumes this interface only; transport specifics (gateway, REST, retries)
// live behind an implementation wired in cmd/server.
package chat

import "context"

// Member is the platform's view of a guild member.
type Member struct {
	ID          string
	DisplayName string
	RoleIDs     []string
	IsAdmin     bool
	IsModerator bool
	IsBot       bool
}

// HasRole reports whether the member currently holds the role.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Invite is one entry of a guild's invite listing. Order of the listing is
// platform-defined and significant for invite attribution.
type Invite struct {
	Code      string
	Uses      int
	InviterID string
}

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks

// Client is the platform surface the core depends on. Implementations must
// return sentinel.ErrNotFound for missing members and sentinel.ErrForbidden
// for permission rejections so callers can classify failures.
type Client interface {
	SendMessage(ctx context.Context, channelID, content string) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	AssignRole(ctx context.Context, guildID, memberID, roleID string) error
	RevokeRole(ctx context.Context, guildID, memberID, roleID string) error
	BanMember(ctx context.Context, guildID, memberID, reason string) error
	ListInvites(ctx context.Context, guildID string) ([]Invite, error)
	GetMember(ctx context.Context, guildID, memberID string) (*Member, error)
	ListMembers(ctx context.Context, guildID string) ([]Member, error)
}
