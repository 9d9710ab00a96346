package alerts

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"warden/internal/chat"
	"warden/internal/chat/mocks"
	"warden/internal/domain"
	"warden/pkg/platform/sentinel"
)

type stubSettings struct {
	cfg domain.Settings
}

func (s *stubSettings) Snapshot() domain.Settings { return s.cfg }

type DispatcherSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	client     *mocks.MockClient
	settings   *stubSettings
	dispatcher *Dispatcher
	ctx        context.Context
	delivered  []string
}

func (s *DispatcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.client = mocks.NewMockClient(s.ctrl)
	cfg := domain.DefaultSettings()
	cfg.LogChannel = "chan-log"
	cfg.StaffRole = "role-staff"
	s.settings = &stubSettings{cfg: cfg}
	s.delivered = nil
	s.dispatcher = NewDispatcher(s.client, s.settings, slog.Default(),
		WithClock(func() time.Time { return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) }),
		WithAlertHook(func(audience string) { s.delivered = append(s.delivered, audience) }))
	s.ctx = context.Background()
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func members(n int, mark func(i int, m *chat.Member)) []chat.Member {
	out := make([]chat.Member, n)
	for i := range out {
		out[i] = chat.Member{ID: string(rune('a'+i)) + "-member"}
		mark(i, &out[i])
	}
	return out
}

// TestAudienceResolution verifies each tier mentions only its members.
func (s *DispatcherSuite) TestAudienceResolution() {
	s.Run("admins", func() {
		listing := members(3, func(i int, m *chat.Member) { m.IsAdmin = i == 0 })
		s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(listing, nil)
		s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, content string) error {
				s.Contains(content, "<@a-member>")
				s.NotContains(content, "<@b-member>")
				return nil
			})

		s.dispatcher.Notify(s.ctx, "g1", AudienceAdmin, "something happened", "test")
		s.Equal([]string{"admin"}, s.delivered)
	})

	s.Run("staff role holders", func() {
		listing := members(2, func(i int, m *chat.Member) {
			if i == 1 {
				m.RoleIDs = []string{"role-staff"}
			}
		})
		s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(listing, nil)
		s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, content string) error {
				s.Contains(content, "<@b-member>")
				s.NotContains(content, "<@a-member>")
				return nil
			})

		s.dispatcher.Notify(s.ctx, "g1", AudienceStaff, "something happened", "")
	})

	s.Run("bots are never mentioned", func() {
		listing := members(2, func(i int, m *chat.Member) {
			m.IsModerator = true
			m.IsBot = i == 0
		})
		s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(listing, nil)
		s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, content string) error {
				s.NotContains(content, "<@a-member>")
				return nil
			})

		s.dispatcher.Notify(s.ctx, "g1", AudienceModerator, "something happened", "")
	})
}

// TestMentionCap verifies the fan-out bound.
func (s *DispatcherSuite) TestMentionCap() {
	listing := members(15, func(_ int, m *chat.Member) { m.IsAdmin = true })
	s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(listing, nil)
	s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, content string) error {
			s.Equal(maxMentions, strings.Count(content, "<@"))
			return nil
		})

	s.dispatcher.Notify(s.ctx, "g1", AudienceAdmin, "big incident", "")
}

// TestDeliveryFailures verifies alerts degrade quietly.
func (s *DispatcherSuite) TestDeliveryFailures() {
	s.Run("missing log channel drops the alert", func() {
		s.settings.cfg.LogChannel = ""
		defer func() { s.settings.cfg.LogChannel = "chan-log" }()

		s.dispatcher.Notify(s.ctx, "g1", AudienceAdmin, "msg", "")
		s.Empty(s.delivered)
	})

	s.Run("listing failure still sends without mentions", func() {
		s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(nil, sentinel.ErrUnavailable)
		s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, content string) error {
				s.NotContains(content, "<@")
				return nil
			})

		s.dispatcher.Notify(s.ctx, "g1", AudienceAdmin, "msg", "")
	})

	s.Run("send failure is swallowed", func() {
		s.client.EXPECT().ListMembers(gomock.Any(), "g1").Return(nil, nil)
		s.client.EXPECT().SendMessage(gomock.Any(), "chan-log", gomock.Any()).Return(sentinel.ErrUnavailable)

		s.dispatcher.Notify(s.ctx, "g1", AudienceAdmin, "msg", "")
	})
}
