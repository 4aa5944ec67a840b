// Package jobqueue runs inbound email processing and the expiry sweep on a
// River job queue backed by Postgres.
//
// All tunable parameters live in this file.
package jobqueue

import (
	"os"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers processing inbound
	// emails. Each in-flight job holds a database connection and may hold
	// an LLM request open, so keep this below the pool size.
	MaxWorkers int

	// MaxRetries caps attempts per inbound job. Drafting already degrades
	// to the fallback template internally, so retries here only cover
	// infrastructure failures (database, transport).
	MaxRetries int

	// JobTimeout bounds one inbound job including drafting
	JobTimeout time.Duration

	// SweepInterval is how often the expiry sweep runs. The sweep is
	// idempotent, so overlap with a manual sweep is harmless.
	SweepInterval time.Duration
}

// DefaultQueueConfig returns the standard configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:    10,
		MaxRetries:    10,
		JobTimeout:    2 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// ProductionQueueConfig returns a configuration for higher inbound volume
func ProductionQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 20
	return config
}

// DevelopmentQueueConfig returns a configuration that fails fast
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 3
	config.MaxRetries = 3
	config.JobTimeout = 30 * time.Second
	config.SweepInterval = time.Minute
	return config
}

// GetQueueConfig selects the configuration from REPLYDESK_ENV
func GetQueueConfig() *QueueConfig {
	switch os.Getenv("REPLYDESK_ENV") {
	case "production":
		return ProductionQueueConfig()
	case "development":
		return DevelopmentQueueConfig()
	default:
		return DefaultQueueConfig()
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
