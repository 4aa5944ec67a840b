// Package mailer sends outbound replies through the configured mail
// provider. The provider's real wire format is out of scope; HTTPTransport
// is a thin JSON client that any transactional-mail API can sit behind.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/replydesk/internal/retry"
)

// Message is one outbound reply
type Message struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// Transport delivers outbound messages and returns the provider's id for
// the sent message.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// HTTPTransport posts messages to a mail provider's JSON endpoint. Sends
// are throttled with a token bucket and retried on retryable statuses.
type HTTPTransport struct {
	endpoint    string
	apiKey      string
	client      *http.Client
	limiter     *rate.Limiter
	retryConfig retry.RetryConfig
}

// NewHTTPTransport creates a throttled transport. ratePerSecond <= 0
// disables throttling.
func NewHTTPTransport(endpoint, apiKey string, ratePerSecond float64, burst int) *HTTPTransport {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &HTTPTransport{
		endpoint:    endpoint,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		retryConfig: retry.SendRetryConfig(),
	}
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts the message, waiting for a rate token first. Non-2xx
// responses become errors; retryable statuses are retried with backoff.
func (t *HTTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	var messageID string
	result := retry.RetryWithBackoffAndReason(ctx, t.retryConfig, func() (error, string) {
		id, err := t.post(ctx, msg)
		if err != nil {
			if retry.IsRetryableError(err) {
				return err, err.Error()
			}
			return retry.Permanent(err), "permanent_failure"
		}
		messageID = id
		return nil, "success"
	})

	if !result.Success {
		return "", fmt.Errorf("mail send failed after %d attempts: %w", result.Attempts, result.LastError)
	}

	log.Debug().Str("to", msg.To).Str("message_id", messageID).Msg("Outbound reply sent")
	return messageID, nil
}

func (t *HTTPTransport) post(ctx context.Context, msg Message) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mail provider error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode send response: %w", err)
	}
	if parsed.MessageID == "" {
		return "", fmt.Errorf("mail provider returned no message id")
	}
	return parsed.MessageID, nil
}
