// Package pipeline sequences one verification submission through presence,
// blacklist, duplicate, and risk checks to a committed record and its side
// effects. The durable write in Commit is the single point of no return:
// everything before it leaves no trace, everything after it is idempotent
// and downgrades to a non-fatal actuation failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/alerts"
	"warden/internal/attempts"
	"warden/internal/audit"
	"warden/internal/chat"
	"warden/internal/dedupe"
	"warden/internal/domain"
	"warden/internal/moderation"
	"warden/internal/risk"
	"warden/internal/store"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
)

const memberLookupTimeout = 5 * time.Second

// SettingsSource supplies the current guild configuration. The pipeline
// snapshots it once per run so a concurrent settings change cannot split a
// single submission's policy.
type SettingsSource interface {
	Snapshot() domain.Settings
}

// Pipeline runs submissions. It must only be driven from the worker queue's
// single consumer; it performs read-modify-write cycles that assume no
// interleaving for the same user.
type Pipeline struct {
	mgr       *store.Manager
	index     *dedupe.Index
	tracker   *attempts.Tracker
	actuator  *moderation.Actuator
	alerts    *alerts.Dispatcher
	client    chat.Client
	settings  SettingsSource
	publisher *audit.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	onOutcome func(outcome string)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithOutcomeHook registers a callback per terminal outcome, used for
// metrics.
func WithOutcomeHook(fn func(outcome string)) Option {
	return func(p *Pipeline) { p.onOutcome = fn }
}

// New wires a pipeline. publisher may be nil.
func New(
	mgr *store.Manager,
	index *dedupe.Index,
	tracker *attempts.Tracker,
	actuator *moderation.Actuator,
	dispatcher *alerts.Dispatcher,
	client chat.Client,
	settings SettingsSource,
	publisher *audit.Publisher,
	logger *slog.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		mgr:       mgr,
		index:     index,
		tracker:   tracker,
		actuator:  actuator,
		alerts:    dispatcher,
		client:    client,
		settings:  settings,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("warden/pipeline"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one submission to a terminal outcome. A returned error means
// the run aborted with no decision recorded; a Result always carries a
// decision, possibly with ActuationFailed set.
func (p *Pipeline) Process(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	ctx, span := p.tracer.Start(ctx, "verification.process",
		trace.WithAttributes(
			attribute.String("guild.id", sub.GuildID),
			attribute.String("user.id", sub.UserID),
		))
	defer span.End()

	if err := validate(sub); err != nil {
		return domain.Result{}, err
	}

	result, err := p.run(ctx, sub)
	if err != nil {
		span.SetAttributes(attribute.String("verification.error", err.Error()))
		return domain.Result{}, err
	}
	span.SetAttributes(attribute.String("verification.outcome", string(result.Outcome)))
	if p.onOutcome != nil {
		p.onOutcome(string(result.Outcome))
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	cfg := p.settings.Snapshot()

	member, err := p.lookupMember(ctx, sub)
	if err != nil {
		return domain.Result{}, err
	}
	if member == nil {
		return p.rejectNotAMember(ctx, sub)
	}

	var blacklisted bool
	p.mgr.View(func(s *store.State) {
		blacklisted = s.InBlacklist(sub.UserID)
	})
	if blacklisted {
		return p.rejectBlacklisted(ctx, sub)
	}

	if holders := p.index.CheckDuplicate(sub.HWID, sub.UserID); len(holders) > 0 {
		return p.flagDuplicate(ctx, sub, holders)
	}

	riskCfg := risk.DefaultConfig()
	riskCfg.Threshold = cfg.RiskThreshold
	signals := append(risk.SignalsFromUserAgent(sub.UserAgent), sub.Signals...)
	verdict := risk.Evaluate(riskCfg, sub.IP, signals)
	if verdict.Flagged {
		return p.flagRisk(ctx, sub, verdict)
	}

	return p.commit(ctx, sub, member, cfg)
}

// lookupMember resolves the submitting member. A missing member is a
// decision (nil, nil); a transport failure is an abort.
func (p *Pipeline) lookupMember(ctx context.Context, sub domain.Submission) (*chat.Member, error) {
	lctx, cancel := context.WithTimeout(ctx, memberLookupTimeout)
	defer cancel()
	member, err := p.client.GetMember(lctx, sub.GuildID, sub.UserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "member lookup")
	}
	return member, nil
}

func (p *Pipeline) rejectNotAMember(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	autoBlacklisted, err := p.tracker.RecordFailure(ctx, sub.UserID)
	if err != nil {
		return domain.Result{}, err
	}
	if autoBlacklisted {
		p.alerts.Notify(ctx, sub.GuildID, alerts.AudienceAdmin,
			fmt.Sprintf("User <@%s> was blacklisted after repeated verification attempts while not a member.", sub.UserID),
			"failed attempt ceiling reached")
	}
	p.emit(ctx, audit.Event{
		Action:   audit.ActionVerificationRejected,
		Subject:  sub.UserID,
		GuildID:  sub.GuildID,
		Decision: string(domain.OutcomeRejectedNotAMember),
	})
	p.logger.Info("submission rejected, user not a member",
		"guild_id", sub.GuildID, "user_id", sub.UserID, "auto_blacklisted", autoBlacklisted)
	return domain.Result{
		Outcome:         domain.OutcomeRejectedNotAMember,
		AutoBlacklisted: autoBlacklisted,
	}, nil
}

func (p *Pipeline) rejectBlacklisted(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	p.emit(ctx, audit.Event{
		Action:   audit.ActionVerificationRejected,
		Subject:  sub.UserID,
		GuildID:  sub.GuildID,
		Decision: string(domain.OutcomeRejectedBlacklisted),
	})
	p.logger.Info("submission rejected, user blacklisted",
		"guild_id", sub.GuildID, "user_id", sub.UserID)
	return domain.Result{Outcome: domain.OutcomeRejectedBlacklisted}, nil
}

// flagDuplicate holds the member for review. No record is written: silently
// overwriting or merging records for a shared fingerprint would destroy the
// evidence a moderator needs.
func (p *Pipeline) flagDuplicate(ctx context.Context, sub domain.Submission, holders []string) (domain.Result, error) {
	result := domain.Result{
		Outcome:     domain.OutcomeFlaggedDuplicate,
		DuplicateOf: holders,
	}
	if err := p.actuator.ApplyDuplicateHold(ctx, sub.GuildID, sub.UserID); err != nil {
		result.ActuationFailed = true
		p.logger.Warn("duplicate hold failed",
			"guild_id", sub.GuildID, "user_id", sub.UserID, "error", err)
	}
	p.alerts.Notify(ctx, sub.GuildID, alerts.AudienceModerator,
		fmt.Sprintf("User <@%s> submitted a hardware fingerprint already held by %d other member(s).", sub.UserID, len(holders)),
		"duplicate hardware fingerprint")
	p.emit(ctx, audit.Event{
		Action:   audit.ActionDuplicateFlagged,
		Subject:  sub.UserID,
		GuildID:  sub.GuildID,
		Decision: string(domain.OutcomeFlaggedDuplicate),
	})
	p.logger.Warn("submission flagged for duplicate fingerprint",
		"guild_id", sub.GuildID, "user_id", sub.UserID, "holders", len(holders))
	return result, nil
}

// flagRisk blacklists the user. The blacklist insert is durable before any
// side effect runs; a failed save aborts the run with nothing recorded.
func (p *Pipeline) flagRisk(ctx context.Context, sub domain.Submission, verdict risk.Verdict) (domain.Result, error) {
	err := p.mgr.Update(ctx, func(s *store.State) error {
		s.AddToBlacklist(sub.UserID)
		s.LastUpdated = p.now().UTC()
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}

	result := domain.Result{
		Outcome:        domain.OutcomeFlaggedRisk,
		RiskReasons:    verdict.Reasons,
		RiskConfidence: verdict.Confidence,
	}
	if err := p.actuator.ApplyRiskHold(ctx, sub.GuildID, sub.UserID); err != nil {
		result.ActuationFailed = true
		p.logger.Warn("risk hold failed",
			"guild_id", sub.GuildID, "user_id", sub.UserID, "error", err)
	}
	p.alerts.Notify(ctx, sub.GuildID, alerts.AudienceAdmin,
		fmt.Sprintf("User <@%s> was flagged by risk evaluation (confidence %.2f) and blacklisted.", sub.UserID, verdict.Confidence),
		fmt.Sprintf("%v", verdict.Reasons))
	p.emit(ctx, audit.Event{
		Action:   audit.ActionRiskFlagged,
		Subject:  sub.UserID,
		GuildID:  sub.GuildID,
		Decision: string(domain.OutcomeFlaggedRisk),
		Reason:   fmt.Sprintf("confidence %.2f", verdict.Confidence),
	})
	p.logger.Warn("submission flagged by risk evaluation",
		"guild_id", sub.GuildID, "user_id", sub.UserID, "confidence", verdict.Confidence)
	return result, nil
}

// commit writes the record, folds it into the profile, and clears the
// attempt counter in one durable save, then applies roles and notifies.
// The counter clear is inlined rather than routed through the tracker so
// it cannot land in a save separate from the record write.
func (p *Pipeline) commit(ctx context.Context, sub domain.Submission, member *chat.Member, cfg domain.Settings) (domain.Result, error) {
	record := domain.VerificationRecord{
		UserID:      sub.UserID,
		HWID:        sub.HWID,
		IPHash:      domain.HashIP(sub.IP),
		IPRaw:       sub.IP,
		VerifiedAt:  p.now().UTC(),
		GuildID:     sub.GuildID,
		DisplayName: member.DisplayName,
	}

	var previousHWID string
	err := p.mgr.Update(ctx, func(s *store.State) error {
		if prev, ok := s.Verifications[sub.UserID]; ok && prev.HWID != sub.HWID {
			previousHWID = prev.HWID
		}
		s.Verifications[sub.UserID] = record
		s.RecordProfile(record)
		delete(s.FailedAttempts, sub.UserID)
		s.LastUpdated = record.VerifiedAt
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}

	if previousHWID != "" {
		p.index.Remove(previousHWID, sub.UserID)
	}
	p.index.Add(sub.HWID, sub.UserID)

	result := domain.Result{Outcome: domain.OutcomeDone}

	if err := p.actuator.ApplyVerified(ctx, sub.GuildID, sub.UserID); err != nil {
		result.ActuationFailed = true
		p.logger.Warn("role sync failed after commit",
			"guild_id", sub.GuildID, "user_id", sub.UserID, "error", err)
	}
	if !p.notify(ctx, sub, cfg) {
		result.ActuationFailed = true
	}

	p.emit(ctx, audit.Event{
		Action:   audit.ActionVerificationCommitted,
		Subject:  sub.UserID,
		GuildID:  sub.GuildID,
		Decision: string(domain.OutcomeDone),
	})
	p.logger.Info("verification committed",
		"guild_id", sub.GuildID, "user_id", sub.UserID,
		"actuation_failed", result.ActuationFailed)
	return result, nil
}

// Unverify deletes a member's verification record, drops their fingerprint
// from the duplicate index, and moves them back to the unverified role set.
// The record delete is the durable step; a failed role sync afterwards is
// logged but does not resurrect the record.
func (p *Pipeline) Unverify(ctx context.Context, guildID, userID string) error {
	var removed domain.VerificationRecord
	err := p.mgr.Update(ctx, func(s *store.State) error {
		rec, ok := s.Verifications[userID]
		if !ok {
			return dErrors.Newf(dErrors.CodeNotFound, "no verification record for user %q", userID)
		}
		removed = rec
		delete(s.Verifications, userID)
		s.LastUpdated = p.now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	p.index.Remove(removed.HWID, userID)

	if err := p.actuator.ApplyUnverified(ctx, guildID, userID); err != nil {
		p.logger.Warn("role sync failed after un-verify",
			"guild_id", guildID, "user_id", userID, "error", err)
	}
	p.emit(ctx, audit.Event{
		Action:  audit.ActionUserUnverified,
		Subject: userID,
		GuildID: guildID,
	})
	p.logger.Info("verification removed", "guild_id", guildID, "user_id", userID)
	return nil
}

// notify tells the requester and the verification channel. Both sends are
// best-effort; false means at least one failed.
func (p *Pipeline) notify(ctx context.Context, sub domain.Submission, cfg domain.Settings) bool {
	ok := true
	if err := p.client.SendDirectMessage(ctx, sub.UserID, "You have been verified. Welcome!"); err != nil {
		ok = false
		p.logger.Warn("verified notice to user failed",
			"user_id", sub.UserID, "error", err)
	}
	if cfg.VerificationChannel != "" {
		msg := fmt.Sprintf("<@%s> is now verified.", sub.UserID)
		if err := p.client.SendMessage(ctx, cfg.VerificationChannel, msg); err != nil {
			ok = false
			p.logger.Warn("verified notice to channel failed",
				"channel_id", cfg.VerificationChannel, "error", err)
		}
	}
	return ok
}

func (p *Pipeline) emit(ctx context.Context, event audit.Event) {
	if p.publisher != nil {
		p.publisher.Emit(ctx, event)
	}
}

func validate(sub domain.Submission) error {
	switch {
	case sub.GuildID == "":
		return dErrors.New(dErrors.CodeValidation, "guild id is required")
	case sub.UserID == "":
		return dErrors.New(dErrors.CodeValidation, "user id is required")
	case sub.HWID == "":
		return dErrors.New(dErrors.CodeValidation, "hardware id is required")
	case sub.IP == "":
		return dErrors.New(dErrors.CodeValidation, "ip address is required")
	}
	return nil
}
