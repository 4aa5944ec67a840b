package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestReserveUpToLimit(t *testing.T) {
	limiter := NewDailyLimiter(NewInMemoryCounterStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !limiter.Reserve(ctx, 1, "UTC", 3) {
			t.Fatalf("reservation %d should succeed", i+1)
		}
	}
	if limiter.Reserve(ctx, 1, "UTC", 3) {
		t.Fatal("fourth reservation must fail at limit 3")
	}

	used, err := limiter.Usage(ctx, 1, "UTC")
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	if used != 3 {
		t.Fatalf("expected usage 3, got %d", used)
	}
}

func TestZeroLimitDisablesAutoReplies(t *testing.T) {
	limiter := NewDailyLimiter(NewInMemoryCounterStore())

	if limiter.Reserve(context.Background(), 1, "UTC", 0) {
		t.Fatal("zero limit must deny every reservation")
	}
}

func TestLastSlotUnderConcurrency(t *testing.T) {
	store := NewInMemoryCounterStore()
	limiter := NewDailyLimiter(store)
	ctx := context.Background()

	// consume 9 of 10 slots
	for i := 0; i < 9; i++ {
		if !limiter.Reserve(ctx, 7, "UTC", 10) {
			t.Fatalf("warmup reservation %d failed", i)
		}
	}

	// two concurrent attempts at the final slot: exactly one may win
	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = limiter.Reserve(ctx, 7, "UTC", 10)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner for the last slot, got %d", wins)
	}

	used, _ := limiter.Usage(ctx, 7, "UTC")
	if used != 10 {
		t.Fatalf("counter must stop at the ceiling, got %d", used)
	}
}

func TestCountersAreScopedPerUser(t *testing.T) {
	limiter := NewDailyLimiter(NewInMemoryCounterStore())
	ctx := context.Background()

	if !limiter.Reserve(ctx, 1, "UTC", 1) {
		t.Fatal("user 1 reservation failed")
	}
	if !limiter.Reserve(ctx, 2, "UTC", 1) {
		t.Fatal("user 2 must have an independent counter")
	}
}

func TestDayKeyUsesConfiguredTimezone(t *testing.T) {
	// 2026-03-01 02:30 UTC is still 2026-02-28 in Los Angeles
	instant := time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)

	if got := DayKey(instant, "UTC"); got != "2026-03-01" {
		t.Fatalf("UTC day key = %s", got)
	}
	if got := DayKey(instant, "America/Los_Angeles"); got != "2026-02-28" {
		t.Fatalf("Los Angeles day key = %s", got)
	}
	// unknown zone falls back to UTC
	if got := DayKey(instant, "Not/AZone"); got != "2026-03-01" {
		t.Fatalf("fallback day key = %s", got)
	}
}

func TestCounterResetsAtLocalMidnight(t *testing.T) {
	store := NewInMemoryCounterStore()
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	limiter := NewDailyLimiterAt(store, fixedClock(day1))
	if !limiter.Reserve(ctx, 1, "UTC", 1) {
		t.Fatal("day 1 reservation failed")
	}
	if limiter.Reserve(ctx, 1, "UTC", 1) {
		t.Fatal("day 1 second reservation must fail")
	}

	limiter = NewDailyLimiterAt(store, fixedClock(day2))
	if !limiter.Reserve(ctx, 1, "UTC", 1) {
		t.Fatal("counter must reset on the next calendar day")
	}
}
