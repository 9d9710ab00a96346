// Package attempts tracks failed verification attempts and escalates repeat
// offenders onto the blacklist once the configured ceiling is crossed.
package attempts

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/audit"
	"warden/internal/domain"
	"warden/internal/store"
)

// SettingsSource supplies the current guild configuration.
type SettingsSource interface {
	Snapshot() domain.Settings
}

// Tracker increments and sweeps failure counters. All writes go through the
// state manager so a counter bump and the blacklist insert it may trigger
// land in the same durable save.
type Tracker struct {
	mgr       *store.Manager
	settings  SettingsSource
	publisher *audit.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker builds a tracker. publisher may be nil when auditing is off.
func NewTracker(mgr *store.Manager, settings SettingsSource, publisher *audit.Publisher, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		mgr:       mgr,
		settings:  settings,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure bumps the user's counter and, when auto-blacklisting is
// enabled and the ceiling is reached, inserts the user into the blacklist.
// It reports true only when the blacklist insert is new, so a user already
// blacklisted does not trigger a second alert.
func (t *Tracker) RecordFailure(ctx context.Context, userID string) (bool, error) {
	cfg := t.settings.Snapshot()
	var blacklisted bool
	err := t.mgr.Update(ctx, func(s *store.State) error {
		attempt := s.FailedAttempts[userID]
		attempt.Count++
		attempt.LastUpdated = t.now().UTC()
		s.FailedAttempts[userID] = attempt

		if cfg.AutoBlacklistEnabled && attempt.Count >= cfg.MaxFailedAttempts {
			blacklisted = s.AddToBlacklist(userID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if blacklisted {
		t.logger.Warn("user auto-blacklisted after repeated failures",
			"user_id", userID, "max_failed_attempts", cfg.MaxFailedAttempts)
		if t.publisher != nil {
			t.publisher.Emit(ctx, audit.Event{
				Action:  audit.ActionAutoBlacklist,
				Subject: userID,
				Reason:  "failed attempt ceiling reached",
			})
		}
	}
	return blacklisted, nil
}

// Sweep drops counters untouched for longer than the retention window and
// returns how many were removed. Blacklist entries are never swept.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	cfg := t.settings.Snapshot()
	if cfg.DataRetentionDays <= 0 {
		return 0, nil
	}
	cutoff := t.now().UTC().AddDate(0, 0, -cfg.DataRetentionDays)

	var removed int
	err := t.mgr.Update(ctx, func(s *store.State) error {
		for userID, attempt := range s.FailedAttempts {
			if attempt.LastUpdated.Before(cutoff) {
				delete(s.FailedAttempts, userID)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		t.logger.Info("swept stale failed attempts", "removed", removed)
		if t.publisher != nil {
			t.publisher.Emit(ctx, audit.Event{
				Action:  audit.ActionAttemptsSwept,
				Subject: "failed_attempts",
				Reason:  "retention sweep",
			})
		}
	}
	return removed, nil
}
