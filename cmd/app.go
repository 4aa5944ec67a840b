package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/config"
	"github.com/replydesk/internal/database"
	"github.com/replydesk/internal/drafter"
	"github.com/replydesk/internal/engine"
	"github.com/replydesk/internal/mailer"
	"github.com/replydesk/internal/policy"
	"github.com/replydesk/internal/profiles"
	"github.com/replydesk/internal/ratelimit"
	"github.com/replydesk/internal/security"
	"github.com/replydesk/internal/stats"
)

// runtime bundles the engine and its backing connections for the CLI
// commands.
type runtime struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	db       *sql.DB
	engine   *engine.Engine
	profiles profiles.Store
	stats    *stats.Aggregator
}

// buildRuntime loads configuration, connects to Postgres, and wires the
// full engine.
func buildRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDB()
	if err != nil {
		pool.Close()
		return nil, err
	}

	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		db.Close()
		return nil, err
	}

	var draftClient drafter.Client
	llmClient, err := drafter.NewLangchainClient(ctx, drafter.Options{
		Provider:    drafter.Provider(cfg.Drafter.Provider),
		APIKey:      cfg.Drafter.APIKey,
		Model:       cfg.Drafter.Model,
		BaseURL:     cfg.Drafter.BaseURL,
		Temperature: cfg.Drafter.Temperature,
	})
	if err != nil {
		// Drafting degrades to the fallback template rather than
		// refusing to start.
		log.Warn().Err(err).Str("provider", cfg.Drafter.Provider).
			Msg("LLM client unavailable, drafts will use the fallback template")
	} else {
		draftClient = llmClient
	}

	transport := mailer.NewHTTPTransport(
		cfg.Mailer.Endpoint, cfg.Mailer.APIKey,
		cfg.Mailer.RatePerSecond, cfg.Mailer.Burst,
	)

	profileStore := profiles.NewPostgresStore(db)

	eng := engine.New(engine.Deps{
		Gate:      security.NewGate(cfg.Security),
		Resolver:  profiles.NewResolver(profileStore),
		Drafter:   drafter.NewDrafter(draftClient),
		Policies:  policy.NewPostgresStore(db),
		Limiter:   ratelimit.NewDailyLimiter(ratelimit.NewPostgresCounterStore(pool)),
		Threads:   engine.NewPostgresThreadStore(pool),
		Transport: transport,
	})

	return &runtime{
		cfg:      cfg,
		pool:     pool,
		db:       db,
		engine:   eng,
		profiles: profileStore,
		stats:    stats.NewAggregator(db),
	}, nil
}

func (r *runtime) Close() {
	r.pool.Close()
	r.db.Close()
}
