package ratelimit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCounterStore backs the daily limiter with an upsert that
// check-and-increments in one statement. The unique (user_id, day) key
// serializes concurrent reservations, so the counter can never pass the
// ceiling even when two messages race for the last slot.
type PostgresCounterStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCounterStore(pool *pgxpool.Pool) *PostgresCounterStore {
	return &PostgresCounterStore{pool: pool}
}

func (s *PostgresCounterStore) Reserve(ctx context.Context, userID int64, day string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	var count int
	row := s.pool.QueryRow(ctx, `
        INSERT INTO auto_reply_counters (user_id, day, count)
        VALUES ($1, $2, 1)
        ON CONFLICT (user_id, day)
        DO UPDATE SET count = auto_reply_counters.count + 1
        WHERE auto_reply_counters.count < $3
        RETURNING count
    `, userID, day, limit)
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// conflict row exists but the WHERE guard failed: at the ceiling
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PostgresCounterStore) Count(ctx context.Context, userID int64, day string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
        SELECT count FROM auto_reply_counters WHERE user_id = $1 AND day = $2
    `, userID, day).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}
