package drafter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/replydesk/internal/retry"
)

type stubClient struct {
	draft Draft
	err   error
	calls int
}

func (s *stubClient) Draft(ctx context.Context, req Request) (Draft, error) {
	s.calls++
	if s.err != nil {
		return Draft{}, s.err
	}
	return s.draft, nil
}

func fastRetry() retry.RetryConfig {
	return retry.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestGenerateUsesClientDraft(t *testing.T) {
	client := &stubClient{draft: Draft{Body: "Hi Maya, thanks for reaching out!", Tone: "warm"}}
	d := NewDrafterWithConfig(client, fastRetry(), time.Second)

	got := d.Generate(context.Background(), Request{SenderName: "Maya"})
	if got.FallbackUsed {
		t.Fatal("successful draft must not be marked as fallback")
	}
	if got.Body != client.draft.Body {
		t.Fatalf("unexpected draft body %q", got.Body)
	}
}

func TestGenerateFallsBackOnError(t *testing.T) {
	client := &stubClient{err: errors.New("model unavailable")}
	d := NewDrafterWithConfig(client, fastRetry(), time.Second)

	got := d.Generate(context.Background(), Request{SenderName: "Maya", Signature: "Best,\nAcme Partnerships"})
	if !got.FallbackUsed {
		t.Fatal("failed draft must use fallback")
	}
	if !strings.Contains(got.Body, "Maya") {
		t.Fatalf("fallback should greet the sender, got %q", got.Body)
	}
	if !strings.Contains(got.Body, "Acme Partnerships") {
		t.Fatalf("fallback should carry the signature, got %q", got.Body)
	}
	if client.calls != 2 {
		t.Fatalf("expected 1 retry (2 calls), got %d", client.calls)
	}
}

func TestGenerateFallsBackOnTimeout(t *testing.T) {
	slow := clientFunc(func(ctx context.Context, req Request) (Draft, error) {
		select {
		case <-ctx.Done():
			return Draft{}, ctx.Err()
		case <-time.After(time.Second):
			return Draft{Body: "too late"}, nil
		}
	})
	d := NewDrafterWithConfig(slow, retry.RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, 10*time.Millisecond)

	got := d.Generate(context.Background(), Request{SenderName: "Maya"})
	if !got.FallbackUsed {
		t.Fatal("timed-out draft must use fallback")
	}
}

type clientFunc func(ctx context.Context, req Request) (Draft, error)

func (f clientFunc) Draft(ctx context.Context, req Request) (Draft, error) { return f(ctx, req) }

func TestFallbackDraftUnknownSender(t *testing.T) {
	got := FallbackDraft(Request{})
	if !strings.Contains(got.Body, "Hi there,") {
		t.Fatalf("fallback without sender name should greet generically, got %q", got.Body)
	}
	if !got.FallbackUsed {
		t.Fatal("FallbackDraft must be marked as fallback")
	}
}

func TestParseDraftResponseValidJSON(t *testing.T) {
	draft, err := parseDraftResponse(`{"reply": "Hello!", "tone": "warm"}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if draft.Body != "Hello!" || draft.Tone != "warm" {
		t.Fatalf("unexpected draft %+v", draft)
	}
}

func TestParseDraftResponseFencedJSON(t *testing.T) {
	raw := "```json\n{\"reply\": \"Hello!\", \"tone\": \"warm\"}\n```"
	draft, err := parseDraftResponse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if draft.Body != "Hello!" {
		t.Fatalf("unexpected body %q", draft.Body)
	}
}

func TestParseDraftResponseRepairsSloppyJSON(t *testing.T) {
	// trailing comma and single quotes, the usual LLM sins
	raw := `{'reply': 'Hello!', 'tone': 'warm',}`
	draft, err := parseDraftResponse(raw)
	if err != nil {
		t.Fatalf("repair should have recovered this response: %v", err)
	}
	if draft.Body != "Hello!" {
		t.Fatalf("unexpected body %q", draft.Body)
	}
}

func TestParseDraftResponseEmptyReplyFails(t *testing.T) {
	if _, err := parseDraftResponse(`{"reply": "", "tone": "warm"}`); err == nil {
		t.Fatal("empty reply must be rejected")
	}
}

func TestParseDraftResponseDefaultsTone(t *testing.T) {
	draft, err := parseDraftResponse(`{"reply": "Hello!"}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if draft.Tone != "neutral" {
		t.Fatalf("expected default tone neutral, got %q", draft.Tone)
	}
}
