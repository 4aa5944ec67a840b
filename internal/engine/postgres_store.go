package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/replydesk/pkg/models"
)

// PostgresThreadStore persists reply threads in the reply_threads table.
// Status transitions are single conditional UPDATEs, so concurrent
// resolvers of the same thread serialize on the row and exactly one wins.
type PostgresThreadStore struct {
	pool *pgxpool.Pool
}

func NewPostgresThreadStore(pool *pgxpool.Pool) *PostgresThreadStore {
	return &PostgresThreadStore{pool: pool}
}

const threadColumns = `thread_id, message_id, user_id, sender_email, sender_name,
	original_subject, original_body, generated_reply, user_modifications,
	counterpart_profile, risk_flags, audit_reason, status, reply_mode,
	created_at, approval_deadline, resolved_at, sent_message_id`

func (s *PostgresThreadStore) Create(ctx context.Context, t *models.ReplyThread) error {
	var profileJSON []byte
	if t.CounterpartProfile != nil {
		var err error
		profileJSON, err = json.Marshal(t.CounterpartProfile)
		if err != nil {
			return fmt.Errorf("failed to marshal profile snapshot: %w", err)
		}
	}

	query := `
		INSERT INTO reply_threads (` + threadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := s.pool.Exec(ctx, query,
		t.ThreadID, t.MessageID, t.UserID, t.SenderEmail, t.SenderName,
		t.OriginalSubject, t.OriginalBody, t.GeneratedReply, t.UserModifications,
		profileJSON, flagStrings(t.RiskFlags), t.AuditReason, string(t.Status), string(t.ReplyMode),
		t.CreatedAt, t.ApprovalDeadline, t.ResolvedAt, t.SentMessageID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reply thread: %w", err)
	}
	return nil
}

func (s *PostgresThreadStore) Get(ctx context.Context, threadID string) (*models.ReplyThread, error) {
	query := `SELECT ` + threadColumns + ` FROM reply_threads WHERE thread_id = $1`
	t, err := scanThread(s.pool.QueryRow(ctx, query, threadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to get reply thread: %w", err)
	}
	return t, nil
}

func (s *PostgresThreadStore) ListPending(ctx context.Context, userID int64) ([]*models.ReplyThread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM reply_threads
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC`
	return s.queryThreads(ctx, query, userID, string(models.StatusPendingApproval))
}

func (s *PostgresThreadStore) ListRecent(ctx context.Context, userID int64, limit int) ([]*models.ReplyThread, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + threadColumns + `
		FROM reply_threads
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return s.queryThreads(ctx, query, userID, limit)
}

func (s *PostgresThreadStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.ReplyThread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM reply_threads
		WHERE status = $1 AND approval_deadline IS NOT NULL AND approval_deadline <= $2
		ORDER BY approval_deadline ASC
		LIMIT $3`
	return s.queryThreads(ctx, query, string(models.StatusPendingApproval), now, limit)
}

// TransitionStatus applies the update only while the thread still holds the
// expected status. A zero-row result with the thread present means another
// caller resolved it first.
func (s *PostgresThreadStore) TransitionStatus(ctx context.Context, threadID string, from, to models.ThreadStatus, update ThreadUpdate) (bool, error) {
	// Every legal transition leaves pending_approval for a terminal
	// status, so the approval deadline is always cleared.
	query := `
		UPDATE reply_threads
		SET status = $1,
		    approval_deadline = NULL,
		    user_modifications = COALESCE($2, user_modifications),
		    resolved_at = COALESCE($3, resolved_at),
		    sent_message_id = COALESCE($4, sent_message_id)
		WHERE thread_id = $5 AND status = $6`

	tag, err := s.pool.Exec(ctx, query,
		string(to), update.UserModifications, update.ResolvedAt, update.SentMessageID,
		threadID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition thread status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reply_threads WHERE thread_id = $1)`, threadID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check thread existence: %w", err)
	}
	if !exists {
		return false, ErrThreadNotFound
	}
	return false, nil
}

func (s *PostgresThreadStore) queryThreads(ctx context.Context, query string, args ...any) ([]*models.ReplyThread, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reply threads: %w", err)
	}
	defer rows.Close()

	var out []*models.ReplyThread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reply thread: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reply threads: %w", err)
	}
	return out, nil
}

func scanThread(row pgx.Row) (*models.ReplyThread, error) {
	var t models.ReplyThread
	var profileJSON []byte
	var flags []string
	var status, mode string

	err := row.Scan(
		&t.ThreadID, &t.MessageID, &t.UserID, &t.SenderEmail, &t.SenderName,
		&t.OriginalSubject, &t.OriginalBody, &t.GeneratedReply, &t.UserModifications,
		&profileJSON, &flags, &t.AuditReason, &status, &mode,
		&t.CreatedAt, &t.ApprovalDeadline, &t.ResolvedAt, &t.SentMessageID,
	)
	if err != nil {
		return nil, err
	}

	t.Status = models.ThreadStatus(status)
	t.ReplyMode = models.ReplyMode(mode)
	for _, f := range flags {
		t.RiskFlags = append(t.RiskFlags, models.RiskFlag(f))
	}
	if len(profileJSON) > 0 {
		var p models.CounterpartProfile
		if err := json.Unmarshal(profileJSON, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile snapshot: %w", err)
		}
		t.CounterpartProfile = &p
	}
	return &t, nil
}

func flagStrings(flags []models.RiskFlag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, string(f))
	}
	return out
}
