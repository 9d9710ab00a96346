// Package settings manages the runtime guild configuration document. Keys are
// set individually by operators, validated on write, and persisted as one
// JSON file with an atomic replace.
package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"warden/internal/domain"
	dErrors "warden/pkg/domain-errors"
)

// accessor converts one settings key between its typed field and the string
// form operators supply.
type accessor struct {
	get func(domain.Settings) string
	set func(*domain.Settings, string) error
}

var accessors = map[string]accessor{
	"verification_channel": stringKey(
		func(s domain.Settings) *string { return &s.VerificationChannel },
		func(s *domain.Settings) *string { return &s.VerificationChannel }),
	"verification_website": stringKey(
		func(s domain.Settings) *string { return &s.VerificationWebsite },
		func(s *domain.Settings) *string { return &s.VerificationWebsite }),
	"verification_role": stringKey(
		func(s domain.Settings) *string { return &s.VerificationRole },
		func(s *domain.Settings) *string { return &s.VerificationRole }),
	"unverified_role": stringKey(
		func(s domain.Settings) *string { return &s.UnverifiedRole },
		func(s *domain.Settings) *string { return &s.UnverifiedRole }),
	"mute_role": stringKey(
		func(s domain.Settings) *string { return &s.MuteRole },
		func(s *domain.Settings) *string { return &s.MuteRole }),
	"staff_role": stringKey(
		func(s domain.Settings) *string { return &s.StaffRole },
		func(s *domain.Settings) *string { return &s.StaffRole }),
	"log_channel": stringKey(
		func(s domain.Settings) *string { return &s.LogChannel },
		func(s *domain.Settings) *string { return &s.LogChannel }),
	"autorole_role": stringKey(
		func(s domain.Settings) *string { return &s.AutoroleRole },
		func(s *domain.Settings) *string { return &s.AutoroleRole }),
	"invite_tracking_channel": stringKey(
		func(s domain.Settings) *string { return &s.InviteTrackingChannel },
		func(s *domain.Settings) *string { return &s.InviteTrackingChannel }),
	"autorole_enabled": boolKey(
		func(s domain.Settings) bool { return s.AutoroleEnabled },
		func(s *domain.Settings) *bool { return &s.AutoroleEnabled }),
	"auto_unverified_enabled": boolKey(
		func(s domain.Settings) bool { return s.AutoUnverifiedEnabled },
		func(s *domain.Settings) *bool { return &s.AutoUnverifiedEnabled }),
	"auto_blacklist_enabled": boolKey(
		func(s domain.Settings) bool { return s.AutoBlacklistEnabled },
		func(s *domain.Settings) *bool { return &s.AutoBlacklistEnabled }),
	"invite_tracking_enabled": boolKey(
		func(s domain.Settings) bool { return s.InviteTrackingEnabled },
		func(s *domain.Settings) *bool { return &s.InviteTrackingEnabled }),
	"max_failed_attempts": {
		get: func(s domain.Settings) string { return strconv.Itoa(s.MaxFailedAttempts) },
		set: func(s *domain.Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return dErrors.New(dErrors.CodeValidation, "max_failed_attempts must be a positive integer")
			}
			s.MaxFailedAttempts = n
			return nil
		},
	},
	"data_retention_days": {
		get: func(s domain.Settings) string { return strconv.Itoa(s.DataRetentionDays) },
		set: func(s *domain.Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return dErrors.New(dErrors.CodeValidation, "data_retention_days must be a non-negative integer")
			}
			s.DataRetentionDays = n
			return nil
		},
	},
	"risk_threshold": {
		get: func(s domain.Settings) string { return strconv.FormatFloat(s.RiskThreshold, 'f', -1, 64) },
		set: func(s *domain.Settings, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				return dErrors.New(dErrors.CodeValidation, "risk_threshold must be between 0 and 1")
			}
			s.RiskThreshold = f
			return nil
		},
	},
}

func stringKey(get func(domain.Settings) *string, set func(*domain.Settings) *string) accessor {
	return accessor{
		get: func(s domain.Settings) string { return *get(s) },
		set: func(s *domain.Settings, v string) error {
			*set(s) = v
			return nil
		},
	}
}

func boolKey(get func(domain.Settings) bool, set func(*domain.Settings) *bool) accessor {
	return accessor{
		get: func(s domain.Settings) string { return strconv.FormatBool(get(s)) },
		set: func(s *domain.Settings, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return dErrors.New(dErrors.CodeValidation, "value must be true or false")
			}
			*set(s) = b
			return nil
		},
	}
}

// Keys returns the settable key names, sorted.
func Keys() []string {
	keys := make([]string, 0, len(accessors))
	for k := range accessors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConfigStore holds the current settings and persists changes to one JSON
// file. Reads are lock-cheap snapshots; the pipeline reads a snapshot once
// per submission so a concurrent change never splits a single run.
type ConfigStore struct {
	mu      sync.RWMutex
	path    string
	current domain.Settings
	logger  *slog.Logger
}

// NewConfigStore loads settings from path, falling back to defaults when the
// file is missing or unreadable.
func NewConfigStore(path string, logger *slog.Logger) (*ConfigStore, error) {
	c := &ConfigStore{path: path, current: domain.DefaultSettings(), logger: logger}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "read settings file")
	}
	loaded := domain.DefaultSettings()
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Warn("settings file is corrupt, using defaults", "path", path, "error", err)
		return c, nil
	}
	c.current = loaded
	return c, nil
}

// Snapshot returns the current settings by value.
func (c *ConfigStore) Snapshot() domain.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Get returns the string form of one key.
func (c *ConfigStore) Get(key string) (string, error) {
	acc, ok := accessors[key]
	if !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown setting %q", key)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return acc.get(c.current), nil
}

// Set validates and applies one key, then persists the whole document. An
// invalid value or failed write leaves the current settings unchanged.
func (c *ConfigStore) Set(_ context.Context, key, value string) error {
	acc, ok := accessors[key]
	if !ok {
		return dErrors.Newf(dErrors.CodeValidation, "unknown setting %q", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	working := c.current
	if err := acc.set(&working, value); err != nil {
		return err
	}
	if err := c.write(working); err != nil {
		return err
	}
	c.current = working
	c.logger.Info("setting updated", "key", key)
	return nil
}

func (c *ConfigStore) write(s domain.Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal settings")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "create settings directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".settings-*")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "create temp settings file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return dErrors.Wrap(err, dErrors.CodePersistence, "write settings file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return dErrors.Wrap(err, dErrors.CodePersistence, "sync settings file")
	}
	if err := tmp.Close(); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "close settings file")
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "replace settings file")
	}
	return nil
}
