// Package moderation applies decisions to the chat platform: role grants and
// revocations, holds on suspicious members, and member bans. Every call is
// idempotent against the member's current roles and bounded by a timeout so
// a slow platform cannot stall the pipeline worker.
package moderation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"warden/internal/chat"
	"warden/internal/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
)

const defaultCallTimeout = 5 * time.Second

// SettingsSource supplies the current guild configuration.
type SettingsSource interface {
	Snapshot() domain.Settings
}

// Actuator translates outcomes into platform role changes.
type Actuator struct {
	client      chat.Client
	settings    SettingsSource
	logger      *slog.Logger
	callTimeout time.Duration
}

// Option configures an Actuator.
type Option func(*Actuator)

// WithCallTimeout bounds each platform call.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Actuator) { a.callTimeout = d }
}

// NewActuator builds an actuator over the platform client.
func NewActuator(client chat.Client, settings SettingsSource, logger *slog.Logger, opts ...Option) *Actuator {
	a := &Actuator{
		client:      client,
		settings:    settings,
		logger:      logger,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ApplyVerified grants the verified role set and drops the unverified role.
// Roles left unconfigured are skipped.
func (a *Actuator) ApplyVerified(ctx context.Context, guildID, memberID string) error {
	cfg := a.settings.Snapshot()
	member, err := a.member(ctx, guildID, memberID)
	if err != nil {
		return err
	}
	if err := a.assign(ctx, guildID, member, cfg.VerificationRole); err != nil {
		return err
	}
	if cfg.AutoroleEnabled {
		if err := a.assign(ctx, guildID, member, cfg.AutoroleRole); err != nil {
			return err
		}
	}
	return a.revoke(ctx, guildID, member, cfg.UnverifiedRole)
}

// ApplyUnverified moves a member back to the unverified role set.
func (a *Actuator) ApplyUnverified(ctx context.Context, guildID, memberID string) error {
	cfg := a.settings.Snapshot()
	member, err := a.member(ctx, guildID, memberID)
	if err != nil {
		return err
	}
	if cfg.AutoUnverifiedEnabled {
		if err := a.assign(ctx, guildID, member, cfg.UnverifiedRole); err != nil {
			return err
		}
	}
	return a.revoke(ctx, guildID, member, cfg.VerificationRole)
}

// ApplyDuplicateHold mutes a member flagged for a shared fingerprint so a
// moderator can review before any record is written.
func (a *Actuator) ApplyDuplicateHold(ctx context.Context, guildID, memberID string) error {
	return a.hold(ctx, guildID, memberID)
}

// ApplyRiskHold mutes a member flagged by risk evaluation.
func (a *Actuator) ApplyRiskHold(ctx context.Context, guildID, memberID string) error {
	return a.hold(ctx, guildID, memberID)
}

// EnforceIPBan bans the member from the guild.
func (a *Actuator) EnforceIPBan(ctx context.Context, guildID, memberID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	if err := a.client.BanMember(ctx, guildID, memberID, reason); err != nil {
		return a.classify(err, "ban member")
	}
	a.logger.Info("member banned for banned address",
		"guild_id", guildID, "member_id", memberID)
	return nil
}

func (a *Actuator) hold(ctx context.Context, guildID, memberID string) error {
	cfg := a.settings.Snapshot()
	member, err := a.member(ctx, guildID, memberID)
	if err != nil {
		return err
	}
	return a.assign(ctx, guildID, member, cfg.MuteRole)
}

func (a *Actuator) member(ctx context.Context, guildID, memberID string) (*chat.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	member, err := a.client.GetMember(ctx, guildID, memberID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "member not in guild")
		}
		return nil, a.classify(err, "get member")
	}
	return member, nil
}

func (a *Actuator) assign(ctx context.Context, guildID string, member *chat.Member, roleID string) error {
	if roleID == "" || member.HasRole(roleID) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	if err := a.client.AssignRole(ctx, guildID, member.ID, roleID); err != nil {
		return a.classify(err, "assign role")
	}
	return nil
}

func (a *Actuator) revoke(ctx context.Context, guildID string, member *chat.Member, roleID string) error {
	if roleID == "" || !member.HasRole(roleID) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	if err := a.client.RevokeRole(ctx, guildID, member.ID, roleID); err != nil {
		return a.classify(err, "revoke role")
	}
	return nil
}

// classify maps platform failures onto the actuation taxonomy. Permission
// rejections and transport failures both come back as actuation failures:
// the decision stands either way, only the side effect is missing.
func (a *Actuator) classify(err error, op string) error {
	if errors.Is(err, sentinel.ErrForbidden) {
		return dErrors.Wrap(err, dErrors.CodeActuationFailed, op+": missing platform permission")
	}
	return dErrors.Wrap(err, dErrors.CodeActuationFailed, op)
}
