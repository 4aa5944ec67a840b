package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/replydesk/internal/drafter"
	"github.com/replydesk/internal/mailer"
	"github.com/replydesk/internal/policy"
	"github.com/replydesk/internal/profiles"
	"github.com/replydesk/internal/ratelimit"
	"github.com/replydesk/internal/security"
	"github.com/replydesk/pkg/models"
)

type stubDrafter struct {
	draft drafter.Draft
	calls int32
}

func (d *stubDrafter) Generate(ctx context.Context, req drafter.Request) drafter.Draft {
	atomic.AddInt32(&d.calls, 1)
	return d.draft
}

type stubTransport struct {
	mu     sync.Mutex
	sent   []mailer.Message
	err    error
	nextID int
}

func (t *stubTransport) Send(ctx context.Context, msg mailer.Message) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	t.sent = append(t.sent, msg)
	t.nextID++
	return fmt.Sprintf("prov-%d", t.nextID), nil
}

func (t *stubTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	engine    *Engine
	threads   *InMemoryThreadStore
	transport *stubTransport
	drafter   *stubDrafter
	policies  *policy.InMemoryStore
	profiles  *profiles.InMemoryStore
	counters  *ratelimit.InMemoryCounterStore
	clock     *fixedClock
}

func newTestEnv() *testEnv {
	env := &testEnv{
		threads:   NewInMemoryThreadStore(),
		transport: &stubTransport{},
		drafter:   &stubDrafter{draft: drafter.Draft{Body: "Thanks for reaching out, happy to discuss!", Tone: "warm"}},
		policies:  policy.NewInMemoryStore(),
		profiles:  profiles.NewInMemoryStore(),
		counters:  ratelimit.NewInMemoryCounterStore(),
		clock:     &fixedClock{t: time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)},
	}
	env.engine = New(Deps{
		Gate:      security.NewGate(security.Config{}),
		Resolver:  profiles.NewResolver(env.profiles),
		Drafter:   env.drafter,
		Policies:  env.policies,
		Limiter:   ratelimit.NewDailyLimiterAt(env.counters, env.clock.Now),
		Threads:   env.threads,
		Transport: env.transport,
		Now:       env.clock.Now,
	})
	return env
}

func inbound(id string) models.InboundMessage {
	return models.InboundMessage{
		MessageID:   id,
		SenderEmail: "maya@creatorstudio.io",
		SenderName:  "Maya",
		Subject:     "Partnership opportunity",
		Body:        "We'd love to collaborate on a campaign this spring.",
		ReceivedAt:  time.Date(2026, 4, 10, 8, 55, 0, 0, time.UTC),
	}
}

func autoReplyPolicy(userID int64) models.UserReplyPolicy {
	p := models.DefaultPolicy(userID)
	p.DefaultMode = models.ModeAutoReply
	p.AutoReply.OnlyKnownCounterparts = false
	return p
}

func TestProcessValidationErrors(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	cases := []struct {
		name   string
		userID int64
		mutate func(*models.InboundMessage)
	}{
		{"missing user", 0, func(m *models.InboundMessage) {}},
		{"missing message id", 7, func(m *models.InboundMessage) { m.MessageID = "" }},
		{"bad sender address", 7, func(m *models.InboundMessage) { m.SenderEmail = "not-an-address" }},
		{"empty message", 7, func(m *models.InboundMessage) { m.Subject, m.Body = "", "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := inbound("msg-v")
			tc.mutate(&msg)
			_, err := env.engine.ProcessIncomingEmail(ctx, tc.userID, msg)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestProcessBlockedMessageIsRejectedWithoutDraftOrSend(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	msg := inbound("msg-1")
	msg.SenderEmail = "winner@bulkoffers.biz"

	out, err := env.engine.ProcessIncomingEmail(ctx, 7, msg)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out.Status != models.StatusRejected {
		t.Fatalf("expected rejected, got %s", out.Status)
	}
	if env.drafter.calls != 0 {
		t.Fatal("blocked message must not reach the drafter")
	}
	if env.transport.sendCount() != 0 {
		t.Fatal("blocked message must not be replied to")
	}

	thread, err := env.engine.GetThread(ctx, out.ThreadID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if !thread.HasFlag(models.FlagSpamDomain) {
		t.Fatalf("expected spam_domain flag, got %v", thread.RiskFlags)
	}
	if thread.AuditReason == "" {
		t.Fatal("rejected thread must carry an audit reason")
	}
	if thread.ResolvedAt == nil {
		t.Fatal("rejected thread must be resolved")
	}
}

func TestProcessManualDefaultCreatesPendingWithDeadline(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	out, err := env.engine.ProcessIncomingEmail(ctx, 7, inbound("msg-2"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out.Status != models.StatusPendingApproval || out.ReplyMode != models.ModeManualApproval {
		t.Fatalf("default policy must hold for approval, got %s/%s", out.Status, out.ReplyMode)
	}
	if env.transport.sendCount() != 0 {
		t.Fatal("pending thread must not send")
	}

	thread, _ := env.engine.GetThread(ctx, out.ThreadID)
	if thread.GeneratedReply != env.drafter.draft.Body {
		t.Fatalf("unexpected generated reply %q", thread.GeneratedReply)
	}
	if thread.ApprovalDeadline == nil {
		t.Fatal("pending thread must have a deadline")
	}
	wantDeadline := env.clock.Now().Add(24 * time.Hour)
	if !thread.ApprovalDeadline.Equal(wantDeadline) {
		t.Fatalf("deadline = %v, want created + 24h = %v", thread.ApprovalDeadline, wantDeadline)
	}
}

func TestProcessFallbackDraftIsFlagged(t *testing.T) {
	env := newTestEnv()
	env.drafter.draft = drafter.FallbackDraft(drafter.Request{SenderName: "Maya"})
	ctx := context.Background()

	out, err := env.engine.ProcessIncomingEmail(ctx, 7, inbound("msg-3"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	thread, _ := env.engine.GetThread(ctx, out.ThreadID)
	if !thread.HasFlag(models.FlagDraftFallbackUsed) {
		t.Fatalf("fallback draft must be flagged, got %v", thread.RiskFlags)
	}
	if out.Status != models.StatusPendingApproval {
		t.Fatalf("fallback draft still follows the policy decision, got %s", out.Status)
	}
}

func TestProcessAutoReplySendsAndResolves(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if err := env.policies.Set(ctx, autoReplyPolicy(7)); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	out, err := env.engine.ProcessIncomingEmail(ctx, 7, inbound("msg-4"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out.Status != models.StatusAutoReplied || out.ReplyMode != models.ModeAutoReply {
		t.Fatalf("expected auto_replied, got %s/%s", out.Status, out.ReplyMode)
	}
	if env.transport.sendCount() != 1 {
		t.Fatalf("expected exactly one send, got %d", env.transport.sendCount())
	}
	sent := env.transport.sent[0]
	if sent.To != "maya@creatorstudio.io" || sent.Subject != "Re: Partnership opportunity" {
		t.Fatalf("unexpected outbound message %+v", sent)
	}
	if sent.InReplyTo != "msg-4" {
		t.Fatalf("reply must reference the inbound message, got %q", sent.InReplyTo)
	}

	thread, _ := env.engine.GetThread(ctx, out.ThreadID)
	if thread.SentMessageID == "" || thread.ResolvedAt == nil {
		t.Fatalf("auto-replied thread must record the send: %+v", thread)
	}

	used, _ := ratelimit.NewDailyLimiterAt(env.counters, env.clock.Now).Usage(ctx, 7, "UTC")
	if used != 1 {
		t.Fatalf("auto reply must consume one daily slot, got %d", used)
	}
}

func TestProcessAutoIneligibleFallsBackToManualWithoutSlot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := autoReplyPolicy(7)
	p.AutoReply.OnlyKnownCounterparts = true
	if err := env.policies.Set(ctx, p); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	out, err := env.engine.ProcessIncomingEmail(ctx, 7, inbound("msg-5"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out.Status != models.StatusPendingApproval {
		t.Fatalf("unknown sender must be held for approval, got %s", out.Status)
	}
	used, _ := ratelimit.NewDailyLimiterAt(env.counters, env.clock.Now).Usage(ctx, 7, "UTC")
	if used != 0 {
		t.Fatalf("ineligible message must not consume a slot, got %d", used)
	}
}

func TestProcessAutoSendFailureDowngradesToPending(t *testing.T) {
	env := newTestEnv()
	env.transport.err = errors.New("mail provider error (status 503): try later")
	ctx := context.Background()
	if err := env.policies.Set(ctx, autoReplyPolicy(7)); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	out, err := env.engine.ProcessIncomingEmail(ctx, 7, inbound("msg-6"))
	if err != nil {
		t.Fatalf("send failure must not fail the pipeline: %v", err)
	}
	if out.Status != models.StatusPendingApproval || out.ReplyMode != models.ModeManualApproval {
		t.Fatalf("failed auto send must hold the thread, got %s/%s", out.Status, out.ReplyMode)
	}
	thread, _ := env.engine.GetThread(ctx, out.ThreadID)
	if thread.ApprovalDeadline == nil {
		t.Fatal("downgraded thread must have an approval deadline")
	}
	if thread.SentMessageID != "" {
		t.Fatal("failed send must not record a sent message id")
	}
}

func TestProcessConcurrentLastSlot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if err := env.policies.Set(ctx, autoReplyPolicy(7)); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	// Consume 9 of the 10 daily slots.
	day := ratelimit.DayKey(env.clock.Now(), "UTC")
	for i := 0; i < 9; i++ {
		if ok, err := env.counters.Reserve(ctx, 7, day, 10); err != nil || !ok {
			t.Fatalf("warmup reservation %d failed: ok=%v err=%v", i, ok, err)
		}
	}

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := env.engine.ProcessIncomingEmail(ctx, 7, inbound(fmt.Sprintf("msg-race-%d", i)))
			if err != nil {
				t.Errorf("process %d failed: %v", i, err)
				return
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	autoCount, pendingCount := 0, 0
	for _, out := range outcomes {
		switch out.Status {
		case models.StatusAutoReplied:
			autoCount++
		case models.StatusPendingApproval:
			pendingCount++
		}
	}
	if autoCount != 1 || pendingCount != 1 {
		t.Fatalf("exactly one message may take the last slot: auto=%d pending=%d", autoCount, pendingCount)
	}
	count, _ := env.counters.Count(ctx, 7, day)
	if count != 10 {
		t.Fatalf("counter must stop at the ceiling, got %d", count)
	}
}

func TestProcessSnapshotsProfileAtDecisionTime(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if err := env.profiles.Upsert(ctx, &models.CounterpartProfile{
		Email:          "maya@creatorstudio.io",
		Name:           "Maya",
		Category:       "creator",
		EngagementRate: 0.42,
	}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}

	out, err := env.engine.ProcessIncomingEmail(ctx, 7, inbound("msg-7"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	thread, _ := env.engine.GetThread(ctx, out.ThreadID)
	if thread.CounterpartProfile == nil || thread.CounterpartProfile.EngagementRate != 0.42 {
		t.Fatalf("thread must snapshot the resolved profile, got %+v", thread.CounterpartProfile)
	}
}
