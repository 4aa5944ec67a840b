package profiles

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/pkg/models"
)

// Resolver maps a sender address to a stored counterpart profile. An
// unknown sender is a normal outcome, never an error: callers get nil and
// treat the sender as unknown.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

// Resolve looks up a profile by exact, case-insensitive email match.
// Store failures are logged and degrade to "unknown sender" so a flaky
// profile database never stalls inbound processing.
func (r *Resolver) Resolve(ctx context.Context, email string) *models.CounterpartProfile {
	p, err := r.store.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("sender", email).Msg("Profile lookup failed, treating sender as unknown")
		}
		return nil
	}
	return p
}
