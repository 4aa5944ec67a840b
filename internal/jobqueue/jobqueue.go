package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/engine"
	"github.com/replydesk/pkg/models"
)

// InboundEmailJobArgs carries one inbound email through the queue
type InboundEmailJobArgs struct {
	UserID  int64                 `json:"user_id"`
	Message models.InboundMessage `json:"message"`
}

// Kind returns the job kind for River
func (InboundEmailJobArgs) Kind() string {
	return "inbound_email"
}

// InboundEmailWorker runs the decision pipeline for queued inbound emails
type InboundEmailWorker struct {
	river.WorkerDefaults[InboundEmailJobArgs]
	engine *engine.Engine
	config *QueueConfig
}

// Timeout bounds one inbound job including draft generation
func (w *InboundEmailWorker) Timeout(*river.Job[InboundEmailJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work processes one inbound email. Validation errors are permanent:
// retrying a malformed payload can never succeed.
func (w *InboundEmailWorker) Work(ctx context.Context, job *river.Job[InboundEmailJobArgs]) error {
	args := job.Args

	out, err := w.engine.ProcessIncomingEmail(ctx, args.UserID, args.Message)
	if err != nil {
		if isValidationError(err) {
			log.Error().Err(err).Int64("user_id", args.UserID).
				Str("message_id", args.Message.MessageID).
				Msg("Discarding malformed inbound email job")
			return river.JobCancel(err)
		}
		return fmt.Errorf("failed to process inbound email: %w", err)
	}

	log.Info().Str("thread_id", out.ThreadID).Str("status", string(out.Status)).
		Msg("Inbound email job completed")
	return nil
}

func isValidationError(err error) bool {
	return errors.Is(err, engine.ErrValidation)
}

// ExpirySweepJobArgs triggers one pass of the approval-deadline sweep
type ExpirySweepJobArgs struct{}

// Kind returns the job kind for River
func (ExpirySweepJobArgs) Kind() string {
	return "expiry_sweep"
}

// ExpirySweepWorker expires pending threads past their approval deadline
type ExpirySweepWorker struct {
	river.WorkerDefaults[ExpirySweepJobArgs]
	engine *engine.Engine
}

// Work runs one sweep. The sweep is idempotent, so a retried or
// overlapping run is harmless.
func (w *ExpirySweepWorker) Work(ctx context.Context, job *river.Job[ExpirySweepJobArgs]) error {
	expired, err := w.engine.SweepExpired(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("expiry sweep failed: %w", err)
	}
	if expired > 0 {
		log.Info().Int("expired", expired).Msg("Expiry sweep job completed")
	}
	return nil
}

// JobQueue manages the River client and its workers
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
}

// NewJobQueue creates a queue processing inbound emails and running the
// periodic expiry sweep against the given engine.
func NewJobQueue(pool *pgxpool.Pool, eng *engine.Engine) (*JobQueue, error) {
	config := GetQueueConfig()

	workers := river.NewWorkers()
	river.AddWorker(workers, &InboundEmailWorker{engine: eng, config: config})
	river.AddWorker(workers, &ExpirySweepWorker{engine: eng})

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(config.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ExpirySweepJobArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      workers,
		PeriodicJobs: periodic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, config: config}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueueInboundEmail queues one inbound email for processing. Jobs are
// deduplicated by args, so redelivery of the same message id is safe.
func (jq *JobQueue) EnqueueInboundEmail(ctx context.Context, userID int64, msg models.InboundMessage) error {
	_, err := jq.client.Insert(ctx, InboundEmailJobArgs{UserID: userID, Message: msg}, &river.InsertOpts{
		MaxAttempts: jq.config.MaxRetries,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("failed to queue inbound email job: %w", err)
	}
	return nil
}
