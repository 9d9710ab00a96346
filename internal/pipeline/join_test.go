package pipeline

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"warden/internal/alerts"
	"warden/internal/chat"
	"warden/internal/chat/mocks"
	"warden/internal/domain"
	"warden/internal/invites"
	"warden/internal/ipban"
	"warden/internal/moderation"
	"warden/internal/store"
)

type JoinSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	client   *mocks.MockClient
	mgr      *store.Manager
	settings *stubSettings
	handler  *JoinHandler
	ctx      context.Context
}

func (s *JoinSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.client = mocks.NewMockClient(s.ctrl)
	s.ctx = context.Background()

	mgr, err := store.NewManager(s.ctx, store.NewMemoryStore(), slog.Default())
	s.Require().NoError(err)
	s.mgr = mgr

	cfg := domain.DefaultSettings()
	cfg.UnverifiedRole = "role-unverified"
	cfg.LogChannel = "chan-log"
	cfg.InviteTrackingEnabled = true
	cfg.InviteTrackingChannel = "chan-invites"
	s.settings = &stubSettings{cfg: cfg}

	log := slog.Default()
	attributor := invites.NewAttributor(mgr, nil, log)
	registry := ipban.NewRegistry(mgr, nil, log)
	actuator := moderation.NewActuator(s.client, s.settings, log)
	dispatcher := alerts.NewDispatcher(s.client, s.settings, log)
	s.handler = NewJoinHandler(mgr, attributor, registry, actuator, dispatcher, s.client, s.settings, nil, log)
}

func TestJoinSuite(t *testing.T) {
	suite.Run(t, new(JoinSuite))
}

func (s *JoinSuite) expectUnverifiedRole(memberID string) {
	member := &chat.Member{ID: memberID}
	s.client.EXPECT().GetMember(gomock.Any(), "g1", memberID).Return(member, nil)
	s.client.EXPECT().AssignRole(gomock.Any(), "g1", memberID, "role-unverified").Return(nil)
}

// TestInviteTrackingOnJoin verifies attribution plus the invite notice.
func (s *JoinSuite) TestInviteTrackingOnJoin() {
	// Seed the snapshot so the next join shows one increased count.
	s.client.EXPECT().ListInvites(gomock.Any(), "g1").
		Return([]chat.Invite{{Code: "abc", Uses: 1, InviterID: "inviter-1"}}, nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-invites", gomock.Any()).Return(nil)
	s.expectUnverifiedRole("member-1")
	s.Require().NoError(s.handler.OnMemberJoin(s.ctx, "g1", "member-1"))

	s.client.EXPECT().ListInvites(gomock.Any(), "g1").
		Return([]chat.Invite{{Code: "abc", Uses: 2, InviterID: "inviter-1"}}, nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-invites", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, content string) error {
			s.Contains(content, "<@member-2>")
			s.Contains(content, "abc")
			s.Contains(content, "<@inviter-1>")
			return nil
		})
	s.expectUnverifiedRole("member-2")
	s.Require().NoError(s.handler.OnMemberJoin(s.ctx, "g1", "member-2"))

	s.mgr.View(func(st *store.State) {
		s.Equal("abc", st.Invites["member-2"].InviteCode)
	})
}

// TestInviteTrackingDisabled verifies no listing call happens when off.
func (s *JoinSuite) TestInviteTrackingDisabled() {
	s.settings.cfg.InviteTrackingEnabled = false
	s.expectUnverifiedRole("member-1")

	s.Require().NoError(s.handler.OnMemberJoin(s.ctx, "g1", "member-1"))
}

// TestIPBanEnforcement verifies a rejoin from a banned verified address is
// banned and the admins alerted.
func (s *JoinSuite) TestIPBanEnforcement() {
	s.settings.cfg.InviteTrackingEnabled = false
	s.settings.cfg.AutoUnverifiedEnabled = false

	const ip = "203.0.113.7"
	s.Require().NoError(s.mgr.Update(s.ctx, func(st *store.State) error {
		st.Verifications["member-1"] = domain.VerificationRecord{UserID: "member-1", IPRaw: ip}
		st.IPBans[ip] = domain.IPBanRecord{IP: ip, Active: true}
		return nil
	}))

	s.client.EXPECT().BanMember(gomock.Any(), "g1", "member-1", gomock.Any()).Return(nil)
	s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(nil, nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).Return(nil)

	s.Require().NoError(s.handler.OnMemberJoin(s.ctx, "g1", "member-1"))
}

// TestNoBanForCleanAddress verifies members without a banned address join
// untouched.
func (s *JoinSuite) TestNoBanForCleanAddress() {
	s.settings.cfg.InviteTrackingEnabled = false
	s.settings.cfg.AutoUnverifiedEnabled = false

	s.Require().NoError(s.mgr.Update(s.ctx, func(st *store.State) error {
		st.Verifications["member-1"] = domain.VerificationRecord{UserID: "member-1", IPRaw: "203.0.113.7"}
		return nil
	}))

	s.Require().NoError(s.handler.OnMemberJoin(s.ctx, "g1", "member-1"))
}
