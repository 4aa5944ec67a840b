package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/mailer"
	"github.com/replydesk/pkg/models"
)

// sweepBatchSize bounds one ListExpired page during a sweep
const sweepBatchSize = 200

// GetThread returns one thread by id
func (e *Engine) GetThread(ctx context.Context, threadID string) (*models.ReplyThread, error) {
	return e.threads.Get(ctx, threadID)
}

// ListPending returns the user's approval queue, newest first
func (e *Engine) ListPending(ctx context.Context, userID int64) ([]*models.ReplyThread, error) {
	return e.threads.ListPending(ctx, userID)
}

// ListRecent returns the user's most recent threads in any status
func (e *Engine) ListRecent(ctx context.Context, userID int64, limit int) ([]*models.ReplyThread, error) {
	return e.threads.ListRecent(ctx, userID, limit)
}

// Approve sends the thread's reply and marks it approved. A non-empty
// modifications string replaces the generated draft as the sent body.
//
// The send happens before the status transition: a transport failure
// returns ErrSendFailure with the thread still pending_approval, so the
// reviewer can retry. If the conditional transition then loses a race
// (the sweep or a concurrent approval resolved the thread first), the
// reply has still gone out exactly once from this caller's perspective
// and the conflict is reported as ErrStateConflict.
func (e *Engine) Approve(ctx context.Context, threadID string, modifications string) (*models.ReplyThread, error) {
	t, err := e.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusPendingApproval {
		return nil, fmt.Errorf("%w: thread %s is %s", ErrStateConflict, threadID, t.Status)
	}

	var mods *string
	if strings.TrimSpace(modifications) != "" {
		mods = &modifications
		t.UserModifications = mods
	}

	sentID, err := e.transport.Send(ctx, mailer.Message{
		To:        t.SenderEmail,
		Subject:   replySubject(t.OriginalSubject),
		Body:      t.ReplyBody(),
		InReplyTo: t.MessageID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailure, err)
	}

	now := e.now()
	ok, err := e.threads.TransitionStatus(ctx, threadID, models.StatusPendingApproval, models.StatusApproved, ThreadUpdate{
		UserModifications: mods,
		ResolvedAt:        &now,
		SentMessageID:     &sentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark thread approved: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: thread %s resolved concurrently", ErrStateConflict, threadID)
	}

	log.Info().Str("thread_id", threadID).Str("sent_message_id", sentID).
		Msg("Thread approved and reply sent")
	return e.threads.Get(ctx, threadID)
}

// Reject resolves a pending thread without sending anything
func (e *Engine) Reject(ctx context.Context, threadID string) (*models.ReplyThread, error) {
	t, err := e.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusPendingApproval {
		return nil, fmt.Errorf("%w: thread %s is %s", ErrStateConflict, threadID, t.Status)
	}

	now := e.now()
	ok, err := e.threads.TransitionStatus(ctx, threadID, models.StatusPendingApproval, models.StatusRejected, ThreadUpdate{
		ResolvedAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark thread rejected: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: thread %s resolved concurrently", ErrStateConflict, threadID)
	}

	log.Info().Str("thread_id", threadID).Msg("Thread rejected")
	return e.threads.Get(ctx, threadID)
}

// SweepExpired expires every pending thread whose approval deadline has
// passed as of now. No send occurs. The sweep is idempotent: each thread
// expires at most once because the transition is conditional, and a rerun
// finds nothing left to expire.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for {
		batch, err := e.threads.ListExpired(ctx, now, sweepBatchSize)
		if err != nil {
			return expired, fmt.Errorf("failed to list expired threads: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, t := range batch {
			ok, err := e.threads.TransitionStatus(ctx, t.ThreadID, models.StatusPendingApproval, models.StatusExpired, ThreadUpdate{
				ResolvedAt: &now,
			})
			if err != nil {
				return expired, fmt.Errorf("failed to expire thread %s: %w", t.ThreadID, err)
			}
			if ok {
				expired++
			}
		}
		if len(batch) < sweepBatchSize {
			break
		}
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Time("as_of", now).
			Msg("Expired pending threads past their approval deadline")
	}
	return expired, nil
}

// GetPolicy returns the user's reply policy, defaulted when unset
func (e *Engine) GetPolicy(ctx context.Context, userID int64) (models.UserReplyPolicy, error) {
	return e.policies.Get(ctx, userID)
}

// SetPolicy validates and stores the user's reply policy
func (e *Engine) SetPolicy(ctx context.Context, p models.UserReplyPolicy) error {
	return e.policies.Set(ctx, p)
}
