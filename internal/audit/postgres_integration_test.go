//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"warden/internal/audit"
	"warden/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audit.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = audit.NewPostgresStore(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func newEvent(subject, action string, ts time.Time) audit.Event {
	return audit.Event{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Category:  audit.CategoryOf(action),
		Action:    action,
		Subject:   subject,
		GuildID:   "g1",
	}
}

// TestAppendAndList verifies chronological listing per subject.
func (s *PostgresStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.Append(ctx, newEvent("user-1", audit.ActionVerificationCommitted, base.Add(time.Second))))
	s.Require().NoError(s.store.Append(ctx, newEvent("user-1", audit.ActionUserUnverified, base.Add(2*time.Second))))
	s.Require().NoError(s.store.Append(ctx, newEvent("user-2", audit.ActionMemberJoined, base)))

	events, err := s.store.ListBySubject(ctx, "user-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(audit.ActionVerificationCommitted, events[0].Action)
	s.Equal(audit.ActionUserUnverified, events[1].Action)
}

// TestAppendIsIdempotentPerID verifies a replayed event id is ignored.
func (s *PostgresStoreSuite) TestAppendIsIdempotentPerID() {
	ctx := context.Background()
	event := newEvent("user-1", audit.ActionIPBanned, time.Now().UTC())

	s.Require().NoError(s.store.Append(ctx, event))
	s.Require().NoError(s.store.Append(ctx, event))

	events, err := s.store.ListBySubject(ctx, "user-1")
	s.Require().NoError(err)
	s.Len(events, 1)
}

// TestUnknownSubject verifies an empty listing, not an error.
func (s *PostgresStoreSuite) TestUnknownSubject() {
	events, err := s.store.ListBySubject(context.Background(), "nobody")
	s.Require().NoError(err)
	s.Empty(events)
}
