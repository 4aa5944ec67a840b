package policy

import (
	"testing"

	"github.com/replydesk/pkg/models"
)

func autoPolicy() models.UserReplyPolicy {
	return models.UserReplyPolicy{
		UserID:               1,
		DefaultMode:          models.ModeAutoReply,
		ApprovalTimeoutHours: 24,
		AutoReply: models.AutoReplyConditions{
			OnlyKnownCounterparts: true,
			MinimumEngagementRate: 2.0,
			MaxDailyAutoReplies:   10,
		},
	}
}

func alwaysReserve() bool { return true }
func neverReserve() bool  { return false }

func TestManualDefaultAlwaysWins(t *testing.T) {
	p := autoPolicy()
	p.DefaultMode = models.ModeManualApproval

	profile := &models.CounterpartProfile{Email: "maya@creatorstudio.io", EngagementRate: 9.9}
	got := Evaluate(p, profile, "Great fit", "Let's talk", alwaysReserve)
	if got != DecisionManualApproval {
		t.Fatalf("manual default must never escalate, got %s", got)
	}
}

func TestUnknownSenderFallsBackWhenOnlyKnownRequired(t *testing.T) {
	got := Evaluate(autoPolicy(), nil, "Hello", "Collab idea", alwaysReserve)
	if got != DecisionManualApproval {
		t.Fatalf("unknown sender must fall back to manual approval, got %s", got)
	}
}

func TestUnknownSenderAllowedWhenNotRequired(t *testing.T) {
	p := autoPolicy()
	p.AutoReply.OnlyKnownCounterparts = false

	got := Evaluate(p, nil, "Hello", "Collab idea", alwaysReserve)
	if got != DecisionAutoReply {
		t.Fatalf("unknown sender should auto-reply when only_known_counterparts is false, got %s", got)
	}
}

func TestEngagementRateBelowMinimumFallsBack(t *testing.T) {
	profile := &models.CounterpartProfile{Email: "maya@creatorstudio.io", EngagementRate: 1.5}

	got := Evaluate(autoPolicy(), profile, "Hello", "Collab idea", alwaysReserve)
	if got != DecisionManualApproval {
		t.Fatalf("low engagement must fall back to manual approval, got %s", got)
	}
}

func TestKnownEligibleSenderAutoReplies(t *testing.T) {
	profile := &models.CounterpartProfile{Email: "maya@creatorstudio.io", EngagementRate: 3.1}

	got := Evaluate(autoPolicy(), profile, "Hello", "Collab idea", alwaysReserve)
	if got != DecisionAutoReply {
		t.Fatalf("eligible sender should auto-reply, got %s", got)
	}
}

func TestExcludeKeywordInSubjectFallsBack(t *testing.T) {
	p := autoPolicy()
	p.AutoReply.ExcludeKeywords = []string{"exclusive", "urgent"}
	profile := &models.CounterpartProfile{Email: "maya@creatorstudio.io", EngagementRate: 5.0}

	got := Evaluate(p, profile, "URGENT partnership", "Normal body", alwaysReserve)
	if got != DecisionManualApproval {
		t.Fatalf("excluded keyword in subject must fall back, got %s", got)
	}
}

func TestExcludeKeywordInBodyFallsBack(t *testing.T) {
	p := autoPolicy()
	p.AutoReply.ExcludeKeywords = []string{"contract"}
	profile := &models.CounterpartProfile{Email: "maya@creatorstudio.io", EngagementRate: 5.0}

	got := Evaluate(p, profile, "Hello", "Please sign the CONTRACT attached", alwaysReserve)
	if got != DecisionManualApproval {
		t.Fatalf("excluded keyword in body must fall back, got %s", got)
	}
}

func TestRateLimitReachedFallsBack(t *testing.T) {
	profile := &models.CounterpartProfile{Email: "maya@creatorstudio.io", EngagementRate: 3.1}

	got := Evaluate(autoPolicy(), profile, "Hello", "Collab idea", neverReserve)
	if got != DecisionManualApproval {
		t.Fatalf("exhausted rate limit must fall back, got %s", got)
	}
}

func TestReserveNotCalledWhenIneligible(t *testing.T) {
	called := false
	reserve := func() bool {
		called = true
		return true
	}

	// unknown sender with only_known_counterparts: ineligible before the rate check
	Evaluate(autoPolicy(), nil, "Hello", "Collab idea", reserve)
	if called {
		t.Fatal("reserve must not be called for an ineligible message")
	}
}

func TestValidatePolicy(t *testing.T) {
	good := autoPolicy()
	if err := ValidatePolicy(good); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}

	bad := autoPolicy()
	bad.ApprovalTimeoutHours = 0
	if err := ValidatePolicy(bad); err == nil {
		t.Fatal("zero approval_timeout_hours must be rejected")
	}

	bad = autoPolicy()
	bad.AutoReply.MinimumEngagementRate = -1
	if err := ValidatePolicy(bad); err == nil {
		t.Fatal("negative minimum_engagement_rate must be rejected")
	}

	bad = autoPolicy()
	bad.Timezone = "Not/AZone"
	if err := ValidatePolicy(bad); err == nil {
		t.Fatal("invalid timezone must be rejected")
	}

	bad = autoPolicy()
	bad.DefaultMode = "yolo"
	if err := ValidatePolicy(bad); err == nil {
		t.Fatal("invalid default_mode must be rejected")
	}
}
