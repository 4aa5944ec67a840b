package drafter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/retry"
)

// DefaultTimeout bounds one whole draft attempt including retries
const DefaultTimeout = 45 * time.Second

// Drafter wraps a Client with timeout, retry, and the fallback template.
// Generate never fails: a draft always comes back, possibly the fallback.
type Drafter struct {
	client      Client
	retryConfig retry.RetryConfig
	timeout     time.Duration
}

// NewDrafter creates a resilient drafter with default retry configuration
func NewDrafter(client Client) *Drafter {
	return &Drafter{
		client:      client,
		retryConfig: retry.DraftRetryConfig(),
		timeout:     DefaultTimeout,
	}
}

// NewDrafterWithConfig creates a resilient drafter with explicit tuning
func NewDrafterWithConfig(client Client, config retry.RetryConfig, timeout time.Duration) *Drafter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Drafter{client: client, retryConfig: config, timeout: timeout}
}

// Generate produces the reply draft for one inbound message. Failures and
// timeouts of the underlying client degrade to the fallback template; the
// caller checks Draft.FallbackUsed to record the degradation.
func (d *Drafter) Generate(ctx context.Context, req Request) Draft {
	if d.client == nil {
		return FallbackDraft(req)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var draft Draft
	result := retry.RetryWithBackoffAndReason(ctx, d.retryConfig, func() (error, string) {
		var err error
		draft, err = d.client.Draft(ctx, req)
		if err != nil {
			return err, err.Error()
		}
		return nil, "success"
	})

	if !result.Success {
		log.Warn().Err(result.LastError).
			Int64("user_id", req.UserID).
			Int("attempts", result.Attempts).
			Msg("Draft generation failed, using fallback template")
		return FallbackDraft(req)
	}

	return draft
}
