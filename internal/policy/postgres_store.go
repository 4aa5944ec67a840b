package policy

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/replydesk/pkg/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Get(ctx context.Context, userID int64) (models.UserReplyPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT user_id, default_mode, approval_timeout_hours, custom_signature, timezone,
               only_known_counterparts, minimum_engagement_rate, exclude_keywords, max_daily_auto_replies,
               created_at, updated_at
        FROM user_reply_policies WHERE user_id = $1
    `, userID)

	var p models.UserReplyPolicy
	var mode string
	var keywords []string
	err := row.Scan(&p.UserID, &mode, &p.ApprovalTimeoutHours, &p.CustomSignature, &p.Timezone,
		&p.AutoReply.OnlyKnownCounterparts, &p.AutoReply.MinimumEngagementRate,
		pq.Array(&keywords), &p.AutoReply.MaxDailyAutoReplies,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// lazy default: nothing stored yet for this user
			return models.DefaultPolicy(userID), nil
		}
		return models.UserReplyPolicy{}, err
	}
	p.DefaultMode = models.ReplyMode(mode)
	p.AutoReply.ExcludeKeywords = append([]string(nil), keywords...)
	return p, nil
}

func (s *PostgresStore) Set(ctx context.Context, p models.UserReplyPolicy) error {
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	keywords := p.AutoReply.ExcludeKeywords
	if keywords == nil {
		keywords = []string{}
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO user_reply_policies
            (user_id, default_mode, approval_timeout_hours, custom_signature, timezone,
             only_known_counterparts, minimum_engagement_rate, exclude_keywords, max_daily_auto_replies)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (user_id)
        DO UPDATE SET default_mode=$2, approval_timeout_hours=$3, custom_signature=$4, timezone=$5,
             only_known_counterparts=$6, minimum_engagement_rate=$7, exclude_keywords=$8,
             max_daily_auto_replies=$9, updated_at=now()
        RETURNING created_at, updated_at
    `,
		p.UserID, string(p.DefaultMode), p.ApprovalTimeoutHours, p.CustomSignature, p.Timezone,
		p.AutoReply.OnlyKnownCounterparts, p.AutoReply.MinimumEngagementRate,
		pq.Array(keywords), p.AutoReply.MaxDailyAutoReplies,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}
