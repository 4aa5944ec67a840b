// Package engine orchestrates the reply workflow: security triage, profile
// resolution, draft generation, the policy decision, and the thread
// lifecycle from creation through approval, rejection, auto-send, or expiry.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/drafter"
	"github.com/replydesk/internal/mailer"
	"github.com/replydesk/internal/policy"
	"github.com/replydesk/internal/security"
	"github.com/replydesk/pkg/models"
)

// ReplyDrafter produces the candidate reply for an inbound message. It
// never fails; degraded drafts are marked with FallbackUsed.
type ReplyDrafter interface {
	Generate(ctx context.Context, req drafter.Request) drafter.Draft
}

// ProfileResolver maps a sender address to a stored profile, nil for
// unknown senders.
type ProfileResolver interface {
	Resolve(ctx context.Context, email string) *models.CounterpartProfile
}

// SlotLimiter atomically claims one auto-reply slot for the user's current
// local day.
type SlotLimiter interface {
	Reserve(ctx context.Context, userID int64, timezone string, limit int) bool
}

// Deps wires the engine's collaborators
type Deps struct {
	Gate      *security.Gate
	Resolver  ProfileResolver
	Drafter   ReplyDrafter
	Policies  policy.Store
	Limiter   SlotLimiter
	Threads   ThreadStore
	Transport mailer.Transport

	// Now overrides the engine clock, for tests
	Now func() time.Time
}

// Engine is the reply decision and workflow engine
type Engine struct {
	gate      *security.Gate
	resolver  ProfileResolver
	drafter   ReplyDrafter
	policies  policy.Store
	limiter   SlotLimiter
	threads   ThreadStore
	transport mailer.Transport
	now       func() time.Time
}

func New(deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		gate:      deps.Gate,
		resolver:  deps.Resolver,
		drafter:   deps.Drafter,
		policies:  deps.Policies,
		limiter:   deps.Limiter,
		threads:   deps.Threads,
		transport: deps.Transport,
		now:       now,
	}
}

// Outcome summarizes what the engine did with one inbound message
type Outcome struct {
	ThreadID  string              `json:"thread_id"`
	Status    models.ThreadStatus `json:"status"`
	ReplyMode models.ReplyMode    `json:"reply_mode"`
	RiskFlags []models.RiskFlag   `json:"risk_flags,omitempty"`
}

// ProcessIncomingEmail runs the full pipeline for one inbound message and
// records the resulting thread. Blockable messages are rejected without
// drafting or sending. Otherwise a draft is generated (fallback on model
// failure), the user's policy decides manual versus auto, and auto sends
// that fail at the transport degrade to a pending manual thread rather
// than dropping the message.
func (e *Engine) ProcessIncomingEmail(ctx context.Context, userID int64, msg models.InboundMessage) (*Outcome, error) {
	if err := validateInbound(userID, msg); err != nil {
		return nil, err
	}

	now := e.now()
	thread := &models.ReplyThread{
		ThreadID:        uuid.NewString(),
		MessageID:       msg.MessageID,
		UserID:          userID,
		SenderEmail:     msg.SenderEmail,
		SenderName:      msg.SenderName,
		OriginalSubject: msg.Subject,
		OriginalBody:    msg.Body,
		CreatedAt:       now,
	}

	verdict := e.gate.Inspect(msg.SenderEmail, msg.Subject, msg.Body)
	thread.RiskFlags = verdict.Flags

	if verdict.Blockable {
		thread.Status = models.StatusRejected
		thread.ReplyMode = models.ModeManualApproval
		thread.AuditReason = verdict.Reason
		thread.ResolvedAt = &now
		if err := e.threads.Create(ctx, thread); err != nil {
			return nil, fmt.Errorf("failed to record rejected thread: %w", err)
		}
		log.Info().Str("thread_id", thread.ThreadID).Int64("user_id", userID).
			Str("reason", verdict.Reason).Msg("Inbound message blocked")
		return outcomeFor(thread), nil
	}

	pol, err := e.policies.Get(ctx, userID)
	if err != nil {
		// A flaky policy store must not stall inbound processing; the
		// engine default keeps a human in the loop.
		log.Warn().Err(err).Int64("user_id", userID).
			Msg("Policy lookup failed, applying default policy")
		pol = models.DefaultPolicy(userID)
	}

	profile := e.resolver.Resolve(ctx, msg.SenderEmail)
	thread.CounterpartProfile = profile

	draft := e.drafter.Generate(ctx, drafter.Request{
		UserID:      userID,
		SenderEmail: msg.SenderEmail,
		SenderName:  msg.SenderName,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Profile:     profile,
		Signature:   pol.CustomSignature,
	})
	thread.GeneratedReply = draft.Body
	if draft.FallbackUsed {
		thread.RiskFlags = append(thread.RiskFlags, models.FlagDraftFallbackUsed)
	}

	reserve := func() bool {
		return e.limiter.Reserve(ctx, userID, pol.Timezone, pol.AutoReply.MaxDailyAutoReplies)
	}
	decision := policy.Evaluate(pol, profile, msg.Subject, msg.Body, reserve)

	if decision == policy.DecisionAutoReply {
		sentID, err := e.transport.Send(ctx, mailer.Message{
			To:        msg.SenderEmail,
			Subject:   replySubject(msg.Subject),
			Body:      draft.Body,
			InReplyTo: msg.MessageID,
		})
		if err == nil {
			thread.Status = models.StatusAutoReplied
			thread.ReplyMode = models.ModeAutoReply
			thread.ResolvedAt = &now
			thread.SentMessageID = sentID
		} else {
			// The daily slot is already consumed; holding the thread for
			// manual review is the safe degradation.
			log.Warn().Err(err).Int64("user_id", userID).
				Str("message_id", msg.MessageID).
				Msg("Auto-reply send failed, holding thread for manual approval")
		}
	}

	if thread.Status == "" {
		deadline := now.Add(time.Duration(pol.ApprovalTimeoutHours) * time.Hour)
		thread.Status = models.StatusPendingApproval
		thread.ReplyMode = models.ModeManualApproval
		thread.ApprovalDeadline = &deadline
	}

	if err := e.threads.Create(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to create reply thread: %w", err)
	}

	log.Info().Str("thread_id", thread.ThreadID).Int64("user_id", userID).
		Str("status", string(thread.Status)).
		Bool("fallback_draft", draft.FallbackUsed).
		Msg("Inbound message processed")
	return outcomeFor(thread), nil
}

func outcomeFor(t *models.ReplyThread) *Outcome {
	return &Outcome{
		ThreadID:  t.ThreadID,
		Status:    t.Status,
		ReplyMode: t.ReplyMode,
		RiskFlags: t.RiskFlags,
	}
}

func validateInbound(userID int64, msg models.InboundMessage) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		return fmt.Errorf("%w: message_id is required", ErrValidation)
	}
	if !strings.Contains(msg.SenderEmail, "@") {
		return fmt.Errorf("%w: sender_email %q is not an address", ErrValidation, msg.SenderEmail)
	}
	if strings.TrimSpace(msg.Subject) == "" && strings.TrimSpace(msg.Body) == "" {
		return fmt.Errorf("%w: message has neither subject nor body", ErrValidation)
	}
	return nil
}

// replySubject prefixes "Re: " unless the subject already carries it
func replySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Re: your message"
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}
