package database

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// NewDB creates a database/sql connection for the read-side stores
func NewDB() (*sql.DB, error) {
	dbURL, err := loadDatabaseURL()
	if err != nil {
		return nil, fmt.Errorf("failed to get database URL: %w", err)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return db, nil
}

// NewPool creates a pgx pool for the thread store, counters, and the job
// queue.
func NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	dbURL, err := loadDatabaseURL()
	if err != nil {
		return nil, fmt.Errorf("failed to get database URL: %w", err)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the application tables if they do not exist. River's
// own tables come from its migrations, not from here.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reply_threads (
			thread_id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			user_id BIGINT NOT NULL,
			sender_email TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			original_subject TEXT NOT NULL DEFAULT '',
			original_body TEXT NOT NULL DEFAULT '',
			generated_reply TEXT NOT NULL DEFAULT '',
			user_modifications TEXT,
			counterpart_profile JSONB,
			risk_flags TEXT[] NOT NULL DEFAULT '{}',
			audit_reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			reply_mode TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			approval_deadline TIMESTAMPTZ,
			resolved_at TIMESTAMPTZ,
			sent_message_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reply_threads_user_status
			ON reply_threads (user_id, status, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_reply_threads_deadline
			ON reply_threads (approval_deadline)
			WHERE status = 'pending_approval'`,
		`CREATE TABLE IF NOT EXISTS counterpart_profiles (
			email TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			brand_safety_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			tags TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS user_reply_policies (
			user_id BIGINT PRIMARY KEY,
			default_mode TEXT NOT NULL,
			approval_timeout_hours INT NOT NULL,
			custom_signature TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT 'UTC',
			only_known_counterparts BOOLEAN NOT NULL DEFAULT TRUE,
			minimum_engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			exclude_keywords TEXT[] NOT NULL DEFAULT '{}',
			max_daily_auto_replies INT NOT NULL DEFAULT 10,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS auto_reply_counters (
			user_id BIGINT NOT NULL,
			day TEXT NOT NULL,
			count INT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, day)
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func loadDatabaseURL() (string, error) {
	if direct := strings.TrimSpace(os.Getenv("DATABASE_URL")); direct != "" {
		return direct, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	envPath, err := findEnvFile(wd)
	if err != nil {
		return "", err
	}

	file, err := os.Open(envPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", envPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		eqIdx := strings.IndexRune(line, '=')
		if eqIdx <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:eqIdx])
		if key != "DATABASE_URL" {
			continue
		}

		value := strings.TrimSpace(line[eqIdx+1:])
		value = strings.Trim(value, "\"'")
		value = strings.TrimFunc(value, unicode.IsSpace)
		if value == "" {
			return "", errors.New("DATABASE_URL is empty in .env")
		}
		return value, nil
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", envPath, err)
	}

	return "", errors.New("DATABASE_URL not found in environment or .env")
}

func findEnvFile(start string) (string, error) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf(".env not found starting from %s", start)
}
