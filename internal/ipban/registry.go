// Package ipban manages the network-level ban list. Bans are keyed by the
// raw address; unban is a soft delete so history survives for moderator
// review. An optional cache mirrors active bans for fast join-time lookups.
package ipban

import (
	"context"
	"log/slog"
	"net/netip"
	"sort"
	"time"

	"warden/internal/audit"
	"warden/internal/domain"
	"warden/internal/store"
	dErrors "warden/pkg/domain-errors"
)

// Cache mirrors the active ban set in an external fast store. Cache failures
// are logged and ignored; persisted state is always authoritative.
type Cache interface {
	Mark(ctx context.Context, ip string) error
	Clear(ctx context.Context, ip string) error
	Contains(ctx context.Context, ip string) (bool, error)
}

// Registry is the write path and lookup surface for IP bans.
type Registry struct {
	mgr       *store.Manager
	cache     Cache
	publisher *audit.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache attaches a ban cache mirror.
func WithCache(cache Cache) Option {
	return func(r *Registry) { r.cache = cache }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry. publisher may be nil.
func NewRegistry(mgr *store.Manager, publisher *audit.Publisher, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{mgr: mgr, publisher: publisher, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ban records an active ban for the address. Banning an address again, or
// one that was previously unbanned, refreshes the record in place.
func (r *Registry) Ban(ctx context.Context, ip, reason, bannedBy string) error {
	if _, err := netip.ParseAddr(ip); err != nil {
		return dErrors.New(dErrors.CodeValidation, "invalid ip address")
	}
	err := r.mgr.Update(ctx, func(s *store.State) error {
		s.IPBans[ip] = domain.IPBanRecord{
			IP:       ip,
			BannedAt: r.now().UTC(),
			Reason:   reason,
			BannedBy: bannedBy,
			Active:   true,
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.mirror(ctx, ip, true)
	r.emit(ctx, audit.ActionIPBanned, ip, bannedBy, reason)
	r.logger.Info("ip banned", "ip", ip, "banned_by", bannedBy)
	return nil
}

// Unban deactivates the ban but keeps the record. It reports whether an
// active ban existed.
func (r *Registry) Unban(ctx context.Context, ip, actor string) (bool, error) {
	var existed bool
	err := r.mgr.Update(ctx, func(s *store.State) error {
		rec, ok := s.IPBans[ip]
		if !ok || !rec.Active {
			return nil
		}
		existed = true
		rec.Active = false
		s.IPBans[ip] = rec
		return nil
	})
	if err != nil {
		return false, err
	}
	if existed {
		r.mirror(ctx, ip, false)
		r.emit(ctx, audit.ActionIPUnbanned, ip, actor, "")
		r.logger.Info("ip unbanned", "ip", ip, "actor", actor)
	}
	return existed, nil
}

// IsBanned reports whether the address carries an active ban. The cache is
// consulted first; a cache miss or error falls back to persisted state.
func (r *Registry) IsBanned(ctx context.Context, ip string) bool {
	if r.cache != nil {
		banned, err := r.cache.Contains(ctx, ip)
		if err == nil && banned {
			return true
		}
		if err != nil {
			r.logger.Warn("ban cache lookup failed", "ip", ip, "error", err)
		}
	}
	var banned bool
	r.mgr.View(func(s *store.State) {
		rec, ok := s.IPBans[ip]
		banned = ok && rec.Active
	})
	return banned
}

// Lookup returns the ban record for an address, active or not.
func (r *Registry) Lookup(ip string) (domain.IPBanRecord, bool) {
	var rec domain.IPBanRecord
	var ok bool
	r.mgr.View(func(s *store.State) {
		rec, ok = s.IPBans[ip]
	})
	return rec, ok
}

// UsersLinkedTo returns user ids whose verification record carries exactly
// this raw address, sorted. Hash-only records cannot match and that is
// intentional: a truncated hash match is not identity.
func (r *Registry) UsersLinkedTo(ip string) []string {
	users := []string{}
	r.mgr.View(func(s *store.State) {
		for userID, rec := range s.Verifications {
			if rec.IPRaw != "" && rec.IPRaw == ip {
				users = append(users, userID)
			}
		}
	})
	sort.Strings(users)
	return users
}

// Warm mirrors every active ban into the cache at startup.
func (r *Registry) Warm(ctx context.Context) {
	if r.cache == nil {
		return
	}
	var active []string
	r.mgr.View(func(s *store.State) {
		for ip, rec := range s.IPBans {
			if rec.Active {
				active = append(active, ip)
			}
		}
	})
	for _, ip := range active {
		r.mirror(ctx, ip, true)
	}
}

func (r *Registry) mirror(ctx context.Context, ip string, banned bool) {
	if r.cache == nil {
		return
	}
	var err error
	if banned {
		err = r.cache.Mark(ctx, ip)
	} else {
		err = r.cache.Clear(ctx, ip)
	}
	if err != nil {
		r.logger.Warn("ban cache update failed", "ip", ip, "error", err)
	}
}

func (r *Registry) emit(ctx context.Context, action, subject, actor, reason string) {
	if r.publisher == nil {
		return
	}
	r.publisher.Emit(ctx, audit.Event{
		Action:  action,
		Subject: subject,
		Actor:   actor,
		Reason:  reason,
	})
}
