package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendSuccess(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"message_id": "prov-123"})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "test-key", 0, 0)
	id, err := tr.Send(context.Background(), Message{
		To:        "maya@creatorstudio.io",
		Subject:   "Re: Partnership",
		Body:      "Sounds great!",
		InReplyTo: "msg-1",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if id != "prov-123" {
		t.Fatalf("expected message id prov-123, got %s", id)
	}
	if got.To != "maya@creatorstudio.io" || got.InReplyTo != "msg-1" {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestSendPermanentFailureNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"invalid recipient"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "", 0, 0)
	_, err := tr.Send(context.Background(), Message{To: "bad"})
	if err == nil {
		t.Fatal("expected send failure")
	}
	if calls != 1 {
		t.Fatalf("400 must not be retried, got %d calls", calls)
	}
}

func TestSendRetriesOn503(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message_id": "prov-9"})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "", 0, 0)
	tr.retryConfig.BaseDelay = 1
	tr.retryConfig.MaxDelay = 1

	id, err := tr.Send(context.Background(), Message{To: "a@b.co"})
	if err != nil {
		t.Fatalf("send should succeed after retry: %v", err)
	}
	if id != "prov-9" {
		t.Fatalf("unexpected id %s", id)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestSendMissingMessageIDFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "", 0, 0)
	_, err := tr.Send(context.Background(), Message{To: "a@b.co"})
	if err == nil || !strings.Contains(err.Error(), "no message id") {
		t.Fatalf("expected missing-id error, got %v", err)
	}
}
