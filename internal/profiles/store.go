package profiles

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/replydesk/pkg/models"
)

var ErrNotFound = errors.New("profile not found")

// Store persists counterpart profiles keyed by lowercased email
type Store interface {
	GetByEmail(ctx context.Context, email string) (*models.CounterpartProfile, error)
	Upsert(ctx context.Context, p *models.CounterpartProfile) error
	List(ctx context.Context, limit int) ([]*models.CounterpartProfile, error)
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*models.CounterpartProfile
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byEmail: make(map[string]*models.CounterpartProfile),
		now:     time.Now,
	}
}

func (s *InMemoryStore) GetByEmail(ctx context.Context, email string) (*models.CounterpartProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *InMemoryStore) Upsert(ctx context.Context, p *models.CounterpartProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeEmail(p.Email)
	now := s.now()
	if old, ok := s.byEmail[key]; ok {
		p.CreatedAt = old.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.byEmail[key] = cloneProfile(p)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, limit int) ([]*models.CounterpartProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CounterpartProfile, 0, len(s.byEmail))
	for _, p := range s.byEmail {
		out = append(out, cloneProfile(p))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneProfile(p *models.CounterpartProfile) *models.CounterpartProfile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Tags != nil {
		cp.Tags = append([]string(nil), p.Tags...)
	}
	return &cp
}
