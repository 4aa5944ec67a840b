// Package policy decides how a drafted reply leaves the system: held for
// human approval or sent unattended.
package policy

import (
	"strings"

	"github.com/replydesk/pkg/models"
)

// Decision is the evaluator's verdict for one inbound message. Blocked
// messages never reach the evaluator; the security gate handles them
// upstream, so the only outcomes here are manual approval or auto reply.
type Decision string

const (
	DecisionManualApproval Decision = "manual_approval"
	DecisionAutoReply      Decision = "auto_reply"
)

// ReserveFunc atomically claims one auto-reply slot for the day. It is
// invoked at most once, and only after every other auto-reply condition has
// passed, so an ineligible message never burns a slot.
type ReserveFunc func() bool

// Evaluate applies the user's policy to a resolved (possibly unknown)
// counterpart. The policy default always wins: manual_approval is never
// escalated. Under auto_reply mode, every condition must hold or the
// decision falls back to manual approval, never to a block; an
// auto-reply-ineligible message still deserves a human-reviewable draft.
func Evaluate(p models.UserReplyPolicy, profile *models.CounterpartProfile, subject, body string, reserve ReserveFunc) Decision {
	if p.DefaultMode != models.ModeAutoReply {
		return DecisionManualApproval
	}

	if p.AutoReply.OnlyKnownCounterparts && profile == nil {
		return DecisionManualApproval
	}

	if profile != nil && profile.EngagementRate < p.AutoReply.MinimumEngagementRate {
		return DecisionManualApproval
	}

	if containsExcludedKeyword(p.AutoReply.ExcludeKeywords, subject, body) {
		return DecisionManualApproval
	}

	// Rate check last: reserve() increments the daily counter, so it must
	// only run once the message is otherwise eligible.
	if reserve == nil || !reserve() {
		return DecisionManualApproval
	}

	return DecisionAutoReply
}

func containsExcludedKeyword(keywords []string, subject, body string) bool {
	if len(keywords) == 0 {
		return false
	}
	haystack := strings.ToLower(subject + "\n" + body)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
