// Package alerts delivers operator notifications to the configured log
// channel, mentioning the audience tier that should act. Alert delivery is
// best-effort: a failed send is logged and never fails the caller.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warden/internal/chat"
	"warden/internal/domain"
)

// Audience selects who gets mentioned in an alert.
type Audience string

const (
	// AudienceAdmin mentions guild administrators.
	AudienceAdmin Audience = "admin"
	// AudienceStaff mentions holders of the configured staff role.
	AudienceStaff Audience = "staff"
	// AudienceModerator mentions guild moderators.
	AudienceModerator Audience = "moderator"
)

// maxMentions caps mention fan-out so one alert cannot ping a whole guild.
const maxMentions = 10

// SettingsSource supplies the current guild configuration.
type SettingsSource interface {
	Snapshot() domain.Settings
}

// Dispatcher resolves audiences and posts alerts.
type Dispatcher struct {
	client   chat.Client
	settings SettingsSource
	logger   *slog.Logger
	now      func() time.Time
	onAlert  func(audience string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithAlertHook registers a callback per delivered alert, used for metrics.
func WithAlertHook(fn func(audience string)) Option {
	return func(d *Dispatcher) { d.onAlert = fn }
}

// NewDispatcher builds a dispatcher over the platform client.
func NewDispatcher(client chat.Client, settings SettingsSource, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{client: client, settings: settings, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify posts one alert to the log channel with the audience mentioned. A
// missing log channel or a platform failure is logged and swallowed.
func (d *Dispatcher) Notify(ctx context.Context, guildID string, audience Audience, message, reason string) {
	cfg := d.settings.Snapshot()
	if cfg.LogChannel == "" {
		d.logger.Warn("alert dropped, no log channel configured",
			"guild_id", guildID, "audience", string(audience))
		return
	}

	mentions, err := d.resolve(ctx, guildID, audience, cfg)
	if err != nil {
		d.logger.Warn("alert audience resolution failed",
			"guild_id", guildID, "audience", string(audience), "error", err)
	}

	var b strings.Builder
	if len(mentions) > 0 {
		b.WriteString(strings.Join(mentions, " "))
		b.WriteString("\n")
	}
	b.WriteString(message)
	if reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}
	fmt.Fprintf(&b, "\nAt: %s", d.now().UTC().Format(time.RFC3339))

	if err := d.client.SendMessage(ctx, cfg.LogChannel, b.String()); err != nil {
		d.logger.Error("alert delivery failed",
			"guild_id", guildID, "audience", string(audience), "error", err)
		return
	}
	if d.onAlert != nil {
		d.onAlert(string(audience))
	}
}

// resolve returns up to maxMentions mention strings for the audience.
func (d *Dispatcher) resolve(ctx context.Context, guildID string, audience Audience, cfg domain.Settings) ([]string, error) {
	members, err := d.client.ListMembers(ctx, guildID)
	if err != nil {
		return nil, err
	}
	var mentions []string
	for _, m := range members {
		if m.IsBot {
			continue
		}
		var match bool
		switch audience {
		case AudienceAdmin:
			match = m.IsAdmin
		case AudienceModerator:
			match = m.IsModerator
		case AudienceStaff:
			match = cfg.StaffRole != "" && m.HasRole(cfg.StaffRole)
		}
		if !match {
			continue
		}
		mentions = append(mentions, "<@"+m.ID+">")
		if len(mentions) == maxMentions {
			break
		}
	}
	return mentions, nil
}
