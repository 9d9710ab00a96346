package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/alerts"
	"warden/internal/audit"
	"warden/internal/chat"
	"warden/internal/invites"
	"warden/internal/ipban"
	"warden/internal/moderation"
	"warden/internal/store"
)

const inviteListTimeout = 5 * time.Second

// JoinHandler reacts to member-join events: invite attribution, the auto
// unverified role, and enforcement of active IP bans against the joining
// member's last verified address.
type JoinHandler struct {
	mgr        *store.Manager
	attributor *invites.Attributor
	registry   *ipban.Registry
	actuator   *moderation.Actuator
	alerts     *alerts.Dispatcher
	client     chat.Client
	settings   SettingsSource
	publisher  *audit.Publisher
	logger     *slog.Logger
}

// NewJoinHandler wires a join handler. publisher may be nil.
func NewJoinHandler(
	mgr *store.Manager,
	attributor *invites.Attributor,
	registry *ipban.Registry,
	actuator *moderation.Actuator,
	dispatcher *alerts.Dispatcher,
	client chat.Client,
	settings SettingsSource,
	publisher *audit.Publisher,
	logger *slog.Logger,
) *JoinHandler {
	return &JoinHandler{
		mgr:        mgr,
		attributor: attributor,
		registry:   registry,
		actuator:   actuator,
		alerts:     dispatcher,
		client:     client,
		settings:   settings,
		publisher:  publisher,
		logger:     logger,
	}
}

// OnMemberJoin handles one join. Attribution and role assignment are
// best-effort; ban enforcement failures are surfaced in the returned error
// because letting a banned address in silently violates the ban.
func (h *JoinHandler) OnMemberJoin(ctx context.Context, guildID, memberID string) error {
	cfg := h.settings.Snapshot()

	if cfg.InviteTrackingEnabled {
		h.trackInvite(ctx, guildID, memberID, cfg.InviteTrackingChannel)
	}

	if cfg.AutoUnverifiedEnabled {
		if err := h.actuator.ApplyUnverified(ctx, guildID, memberID); err != nil {
			h.logger.Warn("auto unverified role failed",
				"guild_id", guildID, "member_id", memberID, "error", err)
		}
	}

	return h.enforceIPBan(ctx, guildID, memberID)
}

func (h *JoinHandler) trackInvite(ctx context.Context, guildID, memberID, noticeChannel string) {
	lctx, cancel := context.WithTimeout(ctx, inviteListTimeout)
	listing, err := h.client.ListInvites(lctx, guildID)
	cancel()
	if err != nil {
		h.logger.Warn("invite listing failed",
			"guild_id", guildID, "member_id", memberID, "error", err)
		return
	}

	attribution, attributed, err := h.attributor.OnMemberJoin(ctx, guildID, memberID, listing)
	if err != nil {
		h.logger.Error("invite attribution failed",
			"guild_id", guildID, "member_id", memberID, "error", err)
		return
	}
	if !attributed || noticeChannel == "" {
		return
	}
	msg := fmt.Sprintf("<@%s> joined using invite %s from <@%s>.",
		memberID, attribution.InviteCode, attribution.InviterID)
	if err := h.client.SendMessage(ctx, noticeChannel, msg); err != nil {
		h.logger.Warn("invite notice failed",
			"guild_id", guildID, "channel_id", noticeChannel, "error", err)
	}
}

// enforceIPBan bans the joining member when their last verified raw address
// carries an active ban.
func (h *JoinHandler) enforceIPBan(ctx context.Context, guildID, memberID string) error {
	var ip string
	h.mgr.View(func(s *store.State) {
		if rec, ok := s.Verifications[memberID]; ok {
			ip = rec.IPRaw
		}
	})
	if ip == "" || !h.registry.IsBanned(ctx, ip) {
		return nil
	}

	if err := h.actuator.EnforceIPBan(ctx, guildID, memberID, "joined from a banned address"); err != nil {
		h.logger.Error("ip ban enforcement failed",
			"guild_id", guildID, "member_id", memberID, "error", err)
		return err
	}
	h.alerts.Notify(ctx, guildID, alerts.AudienceAdmin,
		fmt.Sprintf("User <@%s> was banned on join: their verified address carries an active ban.", memberID),
		"banned address")
	if h.publisher != nil {
		h.publisher.Emit(ctx, audit.Event{
			Action:  audit.ActionIPBanEnforced,
			Subject: memberID,
			GuildID: guildID,
			Reason:  "joined from banned address",
		})
	}
	return nil
}
