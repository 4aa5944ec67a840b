// Package ratelimit enforces the per-user daily ceiling on unattended
// sends. The counter is keyed by (user_id, local day) and incremented with
// an atomic check-and-increment so concurrent reservations never overshoot
// the ceiling.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CounterStore persists daily auto-reply counters. Reserve must be atomic:
// it increments and returns true only while the stored count is below limit.
type CounterStore interface {
	Reserve(ctx context.Context, userID int64, day string, limit int) (bool, error)
	Count(ctx context.Context, userID int64, day string) (int, error)
}

// DailyLimiter computes the day key in the user's time zone and delegates
// the atomic increment to the store. The clock is injected so tests can pin
// the instant; the day boundary is never derived from server local time.
type DailyLimiter struct {
	store CounterStore
	now   func() time.Time
}

func NewDailyLimiter(store CounterStore) *DailyLimiter {
	return &DailyLimiter{store: store, now: time.Now}
}

// NewDailyLimiterAt creates a limiter with an explicit clock
func NewDailyLimiterAt(store CounterStore, now func() time.Time) *DailyLimiter {
	return &DailyLimiter{store: store, now: now}
}

// Reserve claims one auto-reply slot for today in the user's time zone.
// A limit of zero (or less) disables unattended sends entirely. Store
// failures deny the slot: when in doubt, hold for a human.
func (l *DailyLimiter) Reserve(ctx context.Context, userID int64, timezone string, limit int) bool {
	if limit <= 0 {
		return false
	}
	day := DayKey(l.now(), timezone)
	ok, err := l.store.Reserve(ctx, userID, day, limit)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Str("day", day).
			Msg("Counter reservation failed, denying auto-reply slot")
		return false
	}
	return ok
}

// Usage returns the count consumed today in the user's time zone
func (l *DailyLimiter) Usage(ctx context.Context, userID int64, timezone string) (int, error) {
	return l.store.Count(ctx, userID, DayKey(l.now(), timezone))
}

// DayKey formats the calendar day of t in the given IANA zone. Unknown
// zones fall back to UTC rather than failing the reservation.
func DayKey(t time.Time, timezone string) string {
	loc := time.UTC
	if timezone != "" {
		if parsed, err := time.LoadLocation(timezone); err == nil {
			loc = parsed
		}
	}
	return t.In(loc).Format("2006-01-02")
}

// InMemoryCounterStore is a threadsafe in-memory counter store for tests
// and single-node deployments.
type InMemoryCounterStore struct {
	mu     sync.Mutex
	counts map[counterKey]int
}

type counterKey struct {
	userID int64
	day    string
}

func NewInMemoryCounterStore() *InMemoryCounterStore {
	return &InMemoryCounterStore{counts: make(map[counterKey]int)}
}

func (s *InMemoryCounterStore) Reserve(ctx context.Context, userID int64, day string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey{userID, day}
	if s.counts[key] >= limit {
		return false, nil
	}
	s.counts[key]++
	return true, nil
}

func (s *InMemoryCounterStore) Count(ctx context.Context, userID int64, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[counterKey{userID, day}], nil
}
