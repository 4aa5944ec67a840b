// Package stats computes reporting aggregates over resolved and pending
// reply threads. Reads go through database/sql; nothing here mutates state.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replydesk/pkg/models"
)

// Summary is the per-user reporting rollup
type Summary struct {
	UserID       int64          `json:"user_id"`
	TotalThreads int            `json:"total_threads"`
	ByStatus     map[string]int `json:"by_status"`

	// AutoReplyShare is the fraction of resolved sends that went out
	// unattended, 0 when nothing has been sent yet.
	AutoReplyShare float64 `json:"auto_reply_share"`

	// FallbackDraftCount is how many threads were drafted by the
	// fallback template instead of the model.
	FallbackDraftCount int `json:"fallback_draft_count"`

	Daily []DayCount `json:"daily"`
}

// DayCount is thread volume for one calendar day
type DayCount struct {
	Day         string `json:"day"`
	Total       int    `json:"total"`
	AutoReplied int    `json:"auto_replied"`
	Approved    int    `json:"approved"`
}

// Aggregator computes summaries from the reply_threads table
type Aggregator struct {
	db *sql.DB
}

func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{db: db}
}

// Summarize builds the rollup for one user over the trailing window
func (a *Aggregator) Summarize(ctx context.Context, userID int64, since time.Time) (*Summary, error) {
	s := &Summary{UserID: userID, ByStatus: make(map[string]int)}

	rows, err := a.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM reply_threads
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY status`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count threads by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		s.ByStatus[status] = count
		s.TotalThreads += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	s.AutoReplyShare = AutoReplyShare(
		s.ByStatus[string(models.StatusAutoReplied)],
		s.ByStatus[string(models.StatusApproved)],
	)

	err = a.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM reply_threads
		WHERE user_id = $1 AND created_at >= $2 AND $3 = ANY(risk_flags)`,
		userID, since, string(models.FlagDraftFallbackUsed),
	).Scan(&s.FallbackDraftCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count fallback drafts: %w", err)
	}

	daily, err := a.dailyCounts(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	s.Daily = daily

	return s, nil
}

func (a *Aggregator) dailyCounts(ctx context.Context, userID int64, since time.Time) ([]DayCount, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT to_char(created_at::date, 'YYYY-MM-DD') AS day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = $3),
		       COUNT(*) FILTER (WHERE status = $4)
		FROM reply_threads
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day`,
		userID, since,
		string(models.StatusAutoReplied), string(models.StatusApproved))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily counts: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Day, &d.Total, &d.AutoReplied, &d.Approved); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily counts: %w", err)
	}
	return out, nil
}

// AutoReplyShare computes the unattended fraction of all sent replies
func AutoReplyShare(autoReplied, approved int) float64 {
	sent := autoReplied + approved
	if sent == 0 {
		return 0
	}
	return float64(autoReplied) / float64(sent)
}
