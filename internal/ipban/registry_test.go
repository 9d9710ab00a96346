package ipban

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/domain"
	"warden/internal/store"
	dErrors "warden/pkg/domain-errors"
)

type RegistrySuite struct {
	suite.Suite
	mgr      *store.Manager
	registry *Registry
	ctx      context.Context
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	mgr, err := store.NewManager(s.ctx, store.NewMemoryStore(), slog.Default())
	s.Require().NoError(err)
	s.mgr = mgr
	s.registry = NewRegistry(mgr, nil, slog.Default(),
		WithClock(func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }))
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

// TestBanValidation verifies only parsable addresses are accepted.
func (s *RegistrySuite) TestBanValidation() {
	err := s.registry.Ban(s.ctx, "not-an-ip", "test", "mod-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.False(s.registry.IsBanned(s.ctx, "not-an-ip"))
}

// TestBanLifecycle walks ban, lookup, linked users, and soft-delete unban.
func (s *RegistrySuite) TestBanLifecycle() {
	const ip = "203.0.113.7"

	s.Require().NoError(s.mgr.Update(s.ctx, func(st *store.State) error {
		st.Verifications["user-a"] = domain.VerificationRecord{UserID: "user-a", IPRaw: ip, IPHash: domain.HashIP(ip)}
		st.Verifications["user-b"] = domain.VerificationRecord{UserID: "user-b", IPRaw: ip, IPHash: domain.HashIP(ip)}
		st.Verifications["user-c"] = domain.VerificationRecord{UserID: "user-c", IPRaw: "198.51.100.4"}
		return nil
	}))

	s.Run("ban marks the address", func() {
		s.Require().NoError(s.registry.Ban(s.ctx, ip, "abuse", "mod-1"))
		s.True(s.registry.IsBanned(s.ctx, ip))

		rec, ok := s.registry.Lookup(ip)
		s.Require().True(ok)
		s.Equal("abuse", rec.Reason)
		s.Equal("mod-1", rec.BannedBy)
		s.True(rec.Active)
	})

	s.Run("linked users match the exact raw address", func() {
		s.Equal([]string{"user-a", "user-b"}, s.registry.UsersLinkedTo(ip))
		s.Empty(s.registry.UsersLinkedTo("192.0.2.1"))
	})

	s.Run("unban soft-deletes and keeps history", func() {
		existed, err := s.registry.Unban(s.ctx, ip, "mod-2")
		s.Require().NoError(err)
		s.True(existed)
		s.False(s.registry.IsBanned(s.ctx, ip))

		rec, ok := s.registry.Lookup(ip)
		s.Require().True(ok)
		s.False(rec.Active)
		s.Equal("abuse", rec.Reason)
	})

	s.Run("unbanning an inactive address reports false", func() {
		existed, err := s.registry.Unban(s.ctx, ip, "mod-2")
		s.Require().NoError(err)
		s.False(existed)
	})

	s.Run("re-banning refreshes the record", func() {
		s.Require().NoError(s.registry.Ban(s.ctx, ip, "repeat offense", "mod-3"))
		rec, ok := s.registry.Lookup(ip)
		s.Require().True(ok)
		s.True(rec.Active)
		s.Equal("repeat offense", rec.Reason)
		s.Equal("mod-3", rec.BannedBy)
	})
}

type flakyCache struct {
	marked map[string]bool
	err    error
}

func newFlakyCache() *flakyCache { return &flakyCache{marked: map[string]bool{}} }

func (c *flakyCache) Mark(_ context.Context, ip string) error {
	if c.err != nil {
		return c.err
	}
	c.marked[ip] = true
	return nil
}

func (c *flakyCache) Clear(_ context.Context, ip string) error {
	if c.err != nil {
		return c.err
	}
	delete(c.marked, ip)
	return nil
}

func (c *flakyCache) Contains(_ context.Context, ip string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.marked[ip], nil
}

// TestCacheMirror verifies the cache tracks bans and that cache failures
// never affect the authoritative answer.
func (s *RegistrySuite) TestCacheMirror() {
	cache := newFlakyCache()
	registry := NewRegistry(s.mgr, nil, slog.Default(), WithCache(cache))

	const ip = "203.0.113.9"
	s.Require().NoError(registry.Ban(s.ctx, ip, "abuse", "mod-1"))
	s.True(cache.marked[ip])

	existed, err := registry.Unban(s.ctx, ip, "mod-1")
	s.Require().NoError(err)
	s.True(existed)
	s.False(cache.marked[ip])

	// A failing cache falls back to persisted state.
	s.Require().NoError(registry.Ban(s.ctx, ip, "abuse", "mod-1"))
	cache.err = context.DeadlineExceeded
	s.True(registry.IsBanned(s.ctx, ip))
}

// TestWarm verifies startup mirroring of active bans only.
func (s *RegistrySuite) TestWarm() {
	s.Require().NoError(s.registry.Ban(s.ctx, "203.0.113.1", "a", "m"))
	s.Require().NoError(s.registry.Ban(s.ctx, "203.0.113.2", "b", "m"))
	_, err := s.registry.Unban(s.ctx, "203.0.113.2", "m")
	s.Require().NoError(err)

	cache := newFlakyCache()
	registry := NewRegistry(s.mgr, nil, slog.Default(), WithCache(cache))
	registry.Warm(s.ctx)

	s.True(cache.marked["203.0.113.1"])
	s.False(cache.marked["203.0.113.2"])
}
