// Package export produces tiered data dumps. The owner sees everything
// including raw addresses; whitelisted actors see verification records with
// raw addresses stripped; everyone else is denied.
package export

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/audit"
	"warden/internal/domain"
	"warden/internal/store"
	dErrors "warden/pkg/domain-errors"
)

// Scope labels what a document contains.
type Scope string

const (
	ScopeFull     Scope = "full"
	ScopeRedacted Scope = "redacted"
)

// SettingsSource supplies the current guild configuration.
type SettingsSource interface {
	Snapshot() domain.Settings
}

// Document is one export. Redacted documents carry verification records only.
type Document struct {
	GeneratedAt    time.Time                            `json:"generated_at"`
	Scope          Scope                                `json:"scope"`
	Verifications  map[string]domain.VerificationRecord `json:"verification_data"`
	Blacklist      []string                             `json:"blacklist,omitempty"`
	Whitelist      []string                             `json:"whitelist,omitempty"`
	FailedAttempts map[string]domain.FailedAttempt      `json:"failed_attempts,omitempty"`
	IPBans         map[string]domain.IPBanRecord        `json:"ip_bans,omitempty"`
	Invites        map[string]domain.InviteAttribution  `json:"invite_data,omitempty"`
	Profiles       map[string]domain.UserProfile        `json:"user_profiles,omitempty"`
	Settings       *domain.Settings                     `json:"settings,omitempty"`
}

// Exporter gates exports by actor.
type Exporter struct {
	mgr       *store.Manager
	settings  SettingsSource
	ownerID   string
	publisher *audit.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// NewExporter builds an exporter. ownerID is the single actor entitled to
// full dumps. publisher may be nil.
func NewExporter(mgr *store.Manager, settings SettingsSource, ownerID string, publisher *audit.Publisher, logger *slog.Logger, opts ...Option) *Exporter {
	e := &Exporter{
		mgr:       mgr,
		settings:  settings,
		ownerID:   ownerID,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export builds a document for the actor or denies them.
func (e *Exporter) Export(ctx context.Context, actorID string) (Document, error) {
	var (
		doc     Document
		allowed bool
	)
	e.mgr.View(func(s *store.State) {
		switch {
		case actorID != "" && actorID == e.ownerID:
			doc = e.full(s)
			allowed = true
		case s.InWhitelist(actorID):
			doc = e.redacted(s)
			allowed = true
		}
	})
	if !allowed {
		return Document{}, dErrors.New(dErrors.CodePermissionDenied, "actor is not entitled to export")
	}
	if e.publisher != nil {
		e.publisher.Emit(ctx, audit.Event{
			Action:  audit.ActionExportGenerated,
			Subject: actorID,
			Actor:   actorID,
			Reason:  string(doc.Scope),
		})
	}
	e.logger.Info("export generated", "actor", actorID, "scope", string(doc.Scope))
	return doc, nil
}

func (e *Exporter) full(s *store.State) Document {
	cfg := e.settings.Snapshot()
	doc := Document{
		GeneratedAt:    e.now().UTC(),
		Scope:          ScopeFull,
		Verifications:  make(map[string]domain.VerificationRecord, len(s.Verifications)),
		Blacklist:      append([]string{}, s.Blacklist...),
		Whitelist:      append([]string{}, s.Whitelist...),
		FailedAttempts: make(map[string]domain.FailedAttempt, len(s.FailedAttempts)),
		IPBans:         make(map[string]domain.IPBanRecord, len(s.IPBans)),
		Invites:        make(map[string]domain.InviteAttribution, len(s.Invites)),
		Profiles:       make(map[string]domain.UserProfile, len(s.Profiles)),
		Settings:       &cfg,
	}
	for k, v := range s.Verifications {
		doc.Verifications[k] = v
	}
	for k, v := range s.FailedAttempts {
		doc.FailedAttempts[k] = v
	}
	for k, v := range s.IPBans {
		doc.IPBans[k] = v
	}
	for k, v := range s.Invites {
		doc.Invites[k] = v
	}
	for k, v := range s.Profiles {
		doc.Profiles[k] = v
	}
	return doc
}

func (e *Exporter) redacted(s *store.State) Document {
	doc := Document{
		GeneratedAt:   e.now().UTC(),
		Scope:         ScopeRedacted,
		Verifications: make(map[string]domain.VerificationRecord, len(s.Verifications)),
	}
	for k, v := range s.Verifications {
		doc.Verifications[k] = v.Redacted()
	}
	return doc
}
