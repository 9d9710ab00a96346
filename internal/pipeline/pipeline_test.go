package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"warden/internal/alerts"
	"warden/internal/attempts"
	"warden/internal/audit"
	"warden/internal/chat"
	"warden/internal/chat/mocks"
	"warden/internal/dedupe"
	"warden/internal/domain"
	"warden/internal/moderation"
	"warden/internal/store"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
)

type stubSettings struct {
	cfg domain.Settings
}

func (s *stubSettings) Snapshot() domain.Settings { return s.cfg }

type PipelineSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	client    *mocks.MockClient
	persister *store.MemoryStore
	mgr       *store.Manager
	index     *dedupe.Index
	settings  *stubSettings
	publisher *audit.Publisher
	pipeline  *Pipeline
	ctx       context.Context
	outcomes  []string
}

func (s *PipelineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.client = mocks.NewMockClient(s.ctrl)
	s.persister = store.NewMemoryStore()
	s.ctx = context.Background()

	mgr, err := store.NewManager(s.ctx, s.persister, slog.Default())
	s.Require().NoError(err)
	s.mgr = mgr
	s.index = dedupe.New()

	cfg := domain.DefaultSettings()
	cfg.VerificationRole = "role-verified"
	cfg.UnverifiedRole = "role-unverified"
	cfg.MuteRole = "role-muted"
	cfg.VerificationChannel = "chan-verify"
	cfg.LogChannel = "chan-log"
	s.settings = &stubSettings{cfg: cfg}

	log := slog.Default()
	tracker := attempts.NewTracker(mgr, s.settings, nil, log)
	actuator := moderation.NewActuator(s.client, s.settings, log)
	dispatcher := alerts.NewDispatcher(s.client, s.settings, log)

	s.outcomes = nil
	s.publisher = audit.NewPublisher(32, log)
	s.pipeline = New(mgr, s.index, tracker, actuator, dispatcher, s.client, s.settings, s.publisher, log,
		WithClock(func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }),
		WithOutcomeHook(func(outcome string) { s.outcomes = append(s.outcomes, outcome) }))
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func submission(userID string) domain.Submission {
	return domain.Submission{
		GuildID: "g1",
		UserID:  userID,
		HWID:    "hw-" + userID,
		IP:      "203.0.113.7",
	}
}

// TestSuccessfulVerification walks the full happy path: commit, role sync,
// and notification.
func (s *PipelineSuite) TestSuccessfulVerification() {
	member := &chat.Member{ID: "user-1", DisplayName: "Pat"}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(member, nil).Times(2)
	s.client.EXPECT().AssignRole(gomock.Any(), "g1", "user-1", "role-verified").Return(nil)
	s.client.EXPECT().SendDirectMessage(gomock.Any(), "user-1", gomock.Any()).Return(nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-verify", gomock.Any()).Return(nil)

	result, err := s.pipeline.Process(s.ctx, submission("user-1"))
	s.Require().NoError(err)
	s.Equal(domain.OutcomeDone, result.Outcome)
	s.False(result.ActuationFailed)
	s.Equal([]string{"done"}, s.outcomes)

	s.mgr.View(func(st *store.State) {
		rec := st.Verifications["user-1"]
		s.Equal("hw-user-1", rec.HWID)
		s.Equal("203.0.113.7", rec.IPRaw)
		s.Equal(domain.HashIP("203.0.113.7"), rec.IPHash)
		s.Equal("Pat", rec.DisplayName)
		s.Equal(1, st.Profiles["user-1"].TotalVerifications)
		s.NotContains(st.FailedAttempts, "user-1")
	})
	s.Equal([]string{"user-1"}, s.index.IndexOf("hw-user-1"))
}

// TestValidation verifies malformed submissions are rejected with no state
// change.
func (s *PipelineSuite) TestValidation() {
	_, err := s.pipeline.Process(s.ctx, domain.Submission{GuildID: "g1", UserID: "u", HWID: "h"})
	s.Require().Error(err)
	s.Zero(s.persister.Saves())
}

// TestNotAMember verifies failure counting and the auto-blacklist alert on
// the third rejection.
func (s *PipelineSuite) TestNotAMember() {
	sub := submission("user-1")
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(nil, sentinel.ErrNotFound).Times(3)

	for i := 0; i < 2; i++ {
		result, err := s.pipeline.Process(s.ctx, sub)
		s.Require().NoError(err)
		s.Equal(domain.OutcomeRejectedNotAMember, result.Outcome)
		s.False(result.AutoBlacklisted)
	}

	// The third failure crosses the ceiling and alerts the admins.
	s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(nil, nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).Return(nil)

	result, err := s.pipeline.Process(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(domain.OutcomeRejectedNotAMember, result.Outcome)
	s.True(result.AutoBlacklisted)

	s.mgr.View(func(st *store.State) {
		s.True(st.InBlacklist("user-1"))
	})
}

// TestBlacklisted verifies a blacklisted user is rejected before any
// platform side effect.
func (s *PipelineSuite) TestBlacklisted() {
	s.Require().NoError(s.mgr.Update(s.ctx, func(st *store.State) error {
		st.AddToBlacklist("user-1")
		return nil
	}))
	member := &chat.Member{ID: "user-1"}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(member, nil)

	result, err := s.pipeline.Process(s.ctx, submission("user-1"))
	s.Require().NoError(err)
	s.Equal(domain.OutcomeRejectedBlacklisted, result.Outcome)

	s.mgr.View(func(st *store.State) {
		s.NotContains(st.Verifications, "user-1")
	})
}

// TestDuplicateFingerprint verifies the hold-and-alert path writes no record.
func (s *PipelineSuite) TestDuplicateFingerprint() {
	s.index.Add("hw-user-2", "user-1")

	member := &chat.Member{ID: "user-2"}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-2").Return(member, nil).Times(2)
	s.client.EXPECT().AssignRole(gomock.Any(), "g1", "user-2", "role-muted").Return(nil)
	s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(nil, nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).Return(nil)

	result, err := s.pipeline.Process(s.ctx, submission("user-2"))
	s.Require().NoError(err)
	s.Equal(domain.OutcomeFlaggedDuplicate, result.Outcome)
	s.Equal([]string{"user-1"}, result.DuplicateOf)

	s.mgr.View(func(st *store.State) {
		s.NotContains(st.Verifications, "user-2")
	})
}

// TestRiskFlag verifies a private address blacklists the user durably before
// the hold and alert run.
func (s *PipelineSuite) TestRiskFlag() {
	sub := submission("user-1")
	sub.IP = "192.168.1.5"

	member := &chat.Member{ID: "user-1"}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(member, nil).Times(2)
	s.client.EXPECT().AssignRole(gomock.Any(), "g1", "user-1", "role-muted").Return(nil)
	s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(nil, nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).Return(nil)

	result, err := s.pipeline.Process(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(domain.OutcomeFlaggedRisk, result.Outcome)
	s.InDelta(0.9, result.RiskConfidence, 1e-9)
	s.Contains(result.RiskReasons, "private or reserved address range")

	s.mgr.View(func(st *store.State) {
		s.True(st.InBlacklist("user-1"))
		s.NotContains(st.Verifications, "user-1")
	})
}

// TestActuationFailureAfterCommit verifies the decision survives a platform
// permission failure during role sync.
func (s *PipelineSuite) TestActuationFailureAfterCommit() {
	member := &chat.Member{ID: "user-1", DisplayName: "Pat"}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(member, nil).Times(2)
	s.client.EXPECT().AssignRole(gomock.Any(), "g1", "user-1", "role-verified").Return(sentinel.ErrForbidden)
	s.client.EXPECT().SendDirectMessage(gomock.Any(), "user-1", gomock.Any()).Return(nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-verify", gomock.Any()).Return(nil)

	result, err := s.pipeline.Process(s.ctx, submission("user-1"))
	s.Require().NoError(err)
	s.Equal(domain.OutcomeDone, result.Outcome)
	s.True(result.ActuationFailed)

	s.mgr.View(func(st *store.State) {
		s.Contains(st.Verifications, "user-1")
	})
}

// TestPersistenceAbort verifies a failed durable write aborts the run before
// any side effect.
func (s *PipelineSuite) TestPersistenceAbort() {
	member := &chat.Member{ID: "user-1"}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(member, nil)
	s.persister.FailNextSave(context.DeadlineExceeded)

	_, err := s.pipeline.Process(s.ctx, submission("user-1"))
	s.Require().Error(err)

	s.mgr.View(func(st *store.State) {
		s.NotContains(st.Verifications, "user-1")
	})
	s.Empty(s.index.IndexOf("hw-user-1"))
	s.Empty(s.outcomes)
}

func (s *PipelineSuite) drainAudit() []audit.Event {
	var events []audit.Event
	for {
		select {
		case event := <-s.publisher.Inbox():
			events = append(events, event)
		default:
			return events
		}
	}
}

// TestUnverify verifies an explicit un-verify deletes the record, frees the
// fingerprint for reuse, reapplies the unverified role set, and lands in the
// audit trail.
func (s *PipelineSuite) TestUnverify() {
	member := &chat.Member{ID: "user-1", DisplayName: "Pat"}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(member, nil).Times(2)
	s.client.EXPECT().AssignRole(gomock.Any(), "g1", "user-1", "role-verified").Return(nil)
	s.client.EXPECT().SendDirectMessage(gomock.Any(), "user-1", gomock.Any()).Return(nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-verify", gomock.Any()).Return(nil)

	_, err := s.pipeline.Process(s.ctx, submission("user-1"))
	s.Require().NoError(err)

	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(member, nil)
	s.client.EXPECT().AssignRole(gomock.Any(), "g1", "user-1", "role-unverified").Return(nil)

	s.Require().NoError(s.pipeline.Unverify(s.ctx, "g1", "user-1"))

	s.mgr.View(func(st *store.State) {
		s.NotContains(st.Verifications, "user-1")
	})
	s.Empty(s.index.IndexOf("hw-user-1"))

	var actions []string
	for _, event := range s.drainAudit() {
		actions = append(actions, event.Action)
	}
	s.Contains(actions, audit.ActionUserUnverified)
}

// TestUnverifyUnknownUser verifies a missing record is a not-found error and
// writes nothing.
func (s *PipelineSuite) TestUnverifyUnknownUser() {
	err := s.pipeline.Unverify(s.ctx, "g1", "nobody")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Zero(s.persister.Saves())
}

// TestReverification verifies a new fingerprint replaces the old one in both
// the record and the index.
func (s *PipelineSuite) TestReverification() {
	member := &chat.Member{ID: "user-1", DisplayName: "Pat"}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", "user-1").Return(member, nil).AnyTimes()
	s.client.EXPECT().AssignRole(gomock.Any(), "g1", "user-1", "role-verified").Return(nil).AnyTimes()
	s.client.EXPECT().SendDirectMessage(gomock.Any(), "user-1", gomock.Any()).Return(nil).AnyTimes()
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-verify", gomock.Any()).Return(nil).AnyTimes()

	first := submission("user-1")
	_, err := s.pipeline.Process(s.ctx, first)
	s.Require().NoError(err)

	second := first
	second.HWID = "hw-new"
	_, err = s.pipeline.Process(s.ctx, second)
	s.Require().NoError(err)

	s.mgr.View(func(st *store.State) {
		s.Equal("hw-new", st.Verifications["user-1"].HWID)
		s.Equal(2, st.Profiles["user-1"].TotalVerifications)
	})
	s.Empty(s.index.IndexOf("hw-user-1"))
	s.Equal([]string{"user-1"}, s.index.IndexOf("hw-new"))
}
