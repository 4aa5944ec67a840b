package models

import (
	"time"
)

// ThreadStatus is the workflow state of a reply thread. A thread leaves
// pending_approval exactly once; every other status is terminal.
type ThreadStatus string

const (
	StatusPendingApproval ThreadStatus = "pending_approval"
	StatusApproved        ThreadStatus = "approved"
	StatusAutoReplied     ThreadStatus = "auto_replied"
	StatusRejected        ThreadStatus = "rejected"
	StatusExpired         ThreadStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s ThreadStatus) Terminal() bool {
	return s != StatusPendingApproval
}

// ReplyMode describes how a drafted reply leaves the system
type ReplyMode string

const (
	ModeManualApproval ReplyMode = "manual_approval"
	ModeAutoReply      ReplyMode = "auto_reply"
)

// RiskFlag tags a thread with a classification from the security gate
// or the drafting pipeline
type RiskFlag string

const (
	FlagSpamDomain        RiskFlag = "spam_domain"
	FlagSpamKeyword       RiskFlag = "spam_keyword"
	FlagSuspiciousDomain  RiskFlag = "suspicious_domain"
	FlagDraftFallbackUsed RiskFlag = "draft_fallback_used"
)

// CounterpartProfile is stored metadata about a known message sender
type CounterpartProfile struct {
	Email            string    `json:"email" db:"email"`
	Name             string    `json:"name" db:"name"`
	Category         string    `json:"category" db:"category"`
	EngagementRate   float64   `json:"engagement_rate" db:"engagement_rate"`
	BrandSafetyScore float64   `json:"brand_safety_score" db:"brand_safety_score"`
	Tags             []string  `json:"tags" db:"tags"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// InboundMessage is one email handed to the engine by the mail provider
type InboundMessage struct {
	MessageID   string    `json:"message_id"`
	SenderEmail string    `json:"sender_email"`
	SenderName  string    `json:"sender_name"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	ReceivedAt  time.Time `json:"received_at"`
}

// ReplyThread tracks one inbound conversation and its candidate reply
// through the approval workflow.
type ReplyThread struct {
	ThreadID  string `json:"thread_id" db:"thread_id"`
	MessageID string `json:"message_id" db:"message_id"`
	UserID    int64  `json:"user_id" db:"user_id"`

	SenderEmail string `json:"sender_email" db:"sender_email"`
	SenderName  string `json:"sender_name" db:"sender_name"`

	OriginalSubject   string  `json:"original_subject" db:"original_subject"`
	OriginalBody      string  `json:"original_body" db:"original_body"`
	GeneratedReply    string  `json:"generated_reply" db:"generated_reply"`
	UserModifications *string `json:"user_modifications,omitempty" db:"user_modifications"`

	// CounterpartProfile is a snapshot taken at decision time; the live
	// profile record may change afterwards.
	CounterpartProfile *CounterpartProfile `json:"counterpart_profile,omitempty" db:"counterpart_profile"`
	RiskFlags          []RiskFlag          `json:"risk_flags" db:"risk_flags"`
	AuditReason        string              `json:"audit_reason,omitempty" db:"audit_reason"`

	Status    ThreadStatus `json:"status" db:"status"`
	ReplyMode ReplyMode    `json:"reply_mode" db:"reply_mode"`

	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ApprovalDeadline *time.Time `json:"approval_deadline,omitempty" db:"approval_deadline"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	// SentMessageID is the provider id of the outbound reply, set once a
	// send has succeeded.
	SentMessageID string `json:"sent_message_id,omitempty" db:"sent_message_id"`
}

// HasFlag reports whether the thread carries the given risk flag
func (t *ReplyThread) HasFlag(flag RiskFlag) bool {
	for _, f := range t.RiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// ReplyBody returns the text that should actually be sent: the reviewer's
// modifications when present, otherwise the generated draft.
func (t *ReplyThread) ReplyBody() string {
	if t.UserModifications != nil && *t.UserModifications != "" {
		return *t.UserModifications
	}
	return t.GeneratedReply
}

// AutoReplyConditions gate unattended sends for a user
type AutoReplyConditions struct {
	OnlyKnownCounterparts bool     `json:"only_known_counterparts"`
	MinimumEngagementRate float64  `json:"minimum_engagement_rate"`
	ExcludeKeywords       []string `json:"exclude_keywords"`
	MaxDailyAutoReplies   int      `json:"max_daily_auto_replies"`
}

// UserReplyPolicy is the per-user configuration governing reply handling
type UserReplyPolicy struct {
	UserID               int64               `json:"user_id" db:"user_id"`
	DefaultMode          ReplyMode           `json:"default_mode" db:"default_mode"`
	ApprovalTimeoutHours int                 `json:"approval_timeout_hours" db:"approval_timeout_hours"`
	CustomSignature      string              `json:"custom_signature" db:"custom_signature"`
	Timezone             string              `json:"timezone" db:"timezone"`
	AutoReply            AutoReplyConditions `json:"auto_reply_conditions" db:"auto_reply_conditions"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

// DefaultPolicy returns the engine-wide policy applied to users who have
// never configured one. Manual approval with a 24h window keeps a human
// in the loop until the user opts into automation.
func DefaultPolicy(userID int64) UserReplyPolicy {
	return UserReplyPolicy{
		UserID:               userID,
		DefaultMode:          ModeManualApproval,
		ApprovalTimeoutHours: 24,
		Timezone:             "UTC",
		AutoReply: AutoReplyConditions{
			OnlyKnownCounterparts: true,
			MinimumEngagementRate: 0,
			MaxDailyAutoReplies:   10,
		},
	}
}
