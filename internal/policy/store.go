package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/replydesk/pkg/models"
)

// Store persists per-user reply policies. Get never fails on absence: a
// user without a stored policy receives the engine-wide default.
type Store interface {
	Get(ctx context.Context, userID int64) (models.UserReplyPolicy, error)
	Set(ctx context.Context, p models.UserReplyPolicy) error
}

// ValidatePolicy rejects configurations the engine cannot honor
func ValidatePolicy(p models.UserReplyPolicy) error {
	switch p.DefaultMode {
	case models.ModeManualApproval, models.ModeAutoReply:
	default:
		return fmt.Errorf("invalid default_mode %q", p.DefaultMode)
	}
	if p.ApprovalTimeoutHours <= 0 {
		return fmt.Errorf("approval_timeout_hours must be > 0, got %d", p.ApprovalTimeoutHours)
	}
	if p.AutoReply.MinimumEngagementRate < 0 {
		return fmt.Errorf("minimum_engagement_rate must be >= 0, got %v", p.AutoReply.MinimumEngagementRate)
	}
	if p.AutoReply.MaxDailyAutoReplies < 0 {
		return fmt.Errorf("max_daily_auto_replies must be >= 0, got %d", p.AutoReply.MaxDailyAutoReplies)
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
		}
	}
	return nil
}

// InMemoryStore is a threadsafe in-memory policy store for tests
type InMemoryStore struct {
	mu       sync.RWMutex
	policies map[int64]models.UserReplyPolicy
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{policies: make(map[int64]models.UserReplyPolicy)}
}

func (s *InMemoryStore) Get(ctx context.Context, userID int64) (models.UserReplyPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[userID]; ok {
		return p, nil
	}
	return models.DefaultPolicy(userID), nil
}

func (s *InMemoryStore) Set(ctx context.Context, p models.UserReplyPolicy) error {
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if old, ok := s.policies[p.UserID]; ok {
		p.CreatedAt = old.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.policies[p.UserID] = p
	return nil
}
