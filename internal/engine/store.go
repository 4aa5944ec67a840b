package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/replydesk/pkg/models"
)

// ThreadUpdate carries the fields a status transition may set alongside
// the status itself. Nil fields are left untouched.
type ThreadUpdate struct {
	UserModifications *string
	ResolvedAt        *time.Time
	SentMessageID     *string
}

// ThreadStore persists reply threads. TransitionStatus is the only write
// path after creation and must be conditional: the update applies only if
// the thread is still in the expected status, and the bool result reports
// whether this caller won the transition.
type ThreadStore interface {
	Create(ctx context.Context, t *models.ReplyThread) error
	Get(ctx context.Context, threadID string) (*models.ReplyThread, error)
	ListPending(ctx context.Context, userID int64) ([]*models.ReplyThread, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]*models.ReplyThread, error)

	// ListExpired returns pending threads whose approval deadline has passed
	// as of now, up to limit.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.ReplyThread, error)

	TransitionStatus(ctx context.Context, threadID string, from, to models.ThreadStatus, update ThreadUpdate) (bool, error)
}

// InMemoryThreadStore is a threadsafe in-memory thread store for tests and
// single-node development.
type InMemoryThreadStore struct {
	mu      sync.RWMutex
	threads map[string]*models.ReplyThread
}

func NewInMemoryThreadStore() *InMemoryThreadStore {
	return &InMemoryThreadStore{threads: make(map[string]*models.ReplyThread)}
}

func (s *InMemoryThreadStore) Create(ctx context.Context, t *models.ReplyThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ThreadID == "" {
		return fmt.Errorf("thread id is required")
	}
	if _, exists := s.threads[t.ThreadID]; exists {
		return fmt.Errorf("thread %s already exists", t.ThreadID)
	}
	s.threads[t.ThreadID] = cloneThread(t)
	return nil
}

func (s *InMemoryThreadStore) Get(ctx context.Context, threadID string) (*models.ReplyThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return cloneThread(t), nil
}

func (s *InMemoryThreadStore) ListPending(ctx context.Context, userID int64) ([]*models.ReplyThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ReplyThread
	for _, t := range s.threads {
		if t.UserID == userID && t.Status == models.StatusPendingApproval {
			out = append(out, cloneThread(t))
		}
	}
	sortThreadsNewestFirst(out)
	return out, nil
}

func (s *InMemoryThreadStore) ListRecent(ctx context.Context, userID int64, limit int) ([]*models.ReplyThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ReplyThread
	for _, t := range s.threads {
		if t.UserID == userID {
			out = append(out, cloneThread(t))
		}
	}
	sortThreadsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryThreadStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.ReplyThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ReplyThread
	for _, t := range s.threads {
		if t.Status != models.StatusPendingApproval || t.ApprovalDeadline == nil {
			continue
		}
		if !t.ApprovalDeadline.After(now) {
			out = append(out, cloneThread(t))
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryThreadStore) TransitionStatus(ctx context.Context, threadID string, from, to models.ThreadStatus, update ThreadUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return false, ErrThreadNotFound
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	if to.Terminal() {
		// The deadline only has meaning while the thread awaits approval.
		t.ApprovalDeadline = nil
	}
	if update.UserModifications != nil {
		t.UserModifications = update.UserModifications
	}
	if update.ResolvedAt != nil {
		resolved := *update.ResolvedAt
		t.ResolvedAt = &resolved
	}
	if update.SentMessageID != nil {
		t.SentMessageID = *update.SentMessageID
	}
	return true, nil
}

func cloneThread(t *models.ReplyThread) *models.ReplyThread {
	c := *t
	if t.UserModifications != nil {
		mods := *t.UserModifications
		c.UserModifications = &mods
	}
	if t.CounterpartProfile != nil {
		p := *t.CounterpartProfile
		p.Tags = append([]string(nil), t.CounterpartProfile.Tags...)
		c.CounterpartProfile = &p
	}
	c.RiskFlags = append([]models.RiskFlag(nil), t.RiskFlags...)
	if t.ApprovalDeadline != nil {
		d := *t.ApprovalDeadline
		c.ApprovalDeadline = &d
	}
	if t.ResolvedAt != nil {
		r := *t.ResolvedAt
		c.ResolvedAt = &r
	}
	return &c
}

func sortThreadsNewestFirst(threads []*models.ReplyThread) {
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
}
