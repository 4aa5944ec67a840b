// Package drafter produces the candidate reply for an inbound partnership
// email. The LLM is treated as a fallible collaborator: the engine calls
// Generate at most once per thread and always receives a usable body, with
// a deterministic fallback template covering every failure mode.
package drafter

import (
	"context"
	"fmt"
	"strings"

	"github.com/replydesk/pkg/models"
)

// Request carries everything the drafter may use for one draft
type Request struct {
	UserID      int64
	SenderEmail string
	SenderName  string
	Subject     string
	Body        string
	Profile     *models.CounterpartProfile
	Signature   string
}

// Draft is the drafting outcome. FallbackUsed marks drafts produced by the
// template instead of the model; the engine records it as a risk flag.
type Draft struct {
	Body         string
	Tone         string
	FallbackUsed bool
}

// Client generates one reply body. Implementations may call out to an LLM
// provider; errors and timeouts are recovered by the resilient wrapper.
type Client interface {
	Draft(ctx context.Context, req Request) (Draft, error)
}

// FallbackDraft builds the generic acknowledgment used whenever drafting
// fails: a short holding reply plus the user's signature.
func FallbackDraft(req Request) Draft {
	name := strings.TrimSpace(req.SenderName)
	if name == "" {
		name = "there"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	b.WriteString("Thank you for reaching out about a potential partnership. ")
	b.WriteString("We've received your message and will get back to you with details shortly.\n")
	if sig := strings.TrimSpace(req.Signature); sig != "" {
		b.WriteString("\n")
		b.WriteString(sig)
		b.WriteString("\n")
	}

	return Draft{Body: b.String(), Tone: "neutral", FallbackUsed: true}
}
