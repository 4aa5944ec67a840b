// Package security classifies raw inbound messages before any drafting or
// sending happens. A blockable verdict short-circuits the whole pipeline.
package security

import (
	"fmt"
	"strings"

	"github.com/replydesk/pkg/models"
)

// Config holds the rule sets the gate evaluates. All matching is
// case-insensitive.
type Config struct {
	DenylistedDomains []string `json:"denylisted_domains" koanf:"denylisted_domains"`
	SpamLocalPatterns []string `json:"spam_local_patterns" koanf:"spam_local_patterns"`
	SpamKeywords      []string `json:"spam_keywords" koanf:"spam_keywords"`

	// BlockFlagThreshold is the number of independent flags that makes a
	// message blockable even without a denylisted domain.
	BlockFlagThreshold int `json:"block_flag_threshold" koanf:"block_flag_threshold"`
}

// DefaultConfig returns the built-in rule sets. Config file entries are
// appended on top of these, never replacing them.
func DefaultConfig() Config {
	return Config{
		DenylistedDomains: []string{
			"example-spam.com",
			"mailer-blast.net",
			"bulkoffers.biz",
		},
		SpamLocalPatterns: []string{
			"noreply",
			"no-reply",
			"winner",
			"lottery",
			"admin@",
		},
		SpamKeywords: []string{
			"act now",
			"100% free",
			"guaranteed income",
			"wire transfer",
			"crypto giveaway",
			"click here to claim",
			"limited time offer",
		},
		BlockFlagThreshold: 2,
	}
}

// Verdict is the gate's classification of one inbound message
type Verdict struct {
	Flags     []models.RiskFlag `json:"flags"`
	Blockable bool              `json:"blockable"`
	Reason    string            `json:"reason,omitempty"`
}

// Gate evaluates inbound messages against the configured rule sets
type Gate struct {
	cfg       Config
	denylist  map[string]struct{}
	localPats []string
	keywords  []string
}

// NewGate creates a gate, merging the provided config on top of the defaults
func NewGate(cfg Config) *Gate {
	def := DefaultConfig()

	threshold := cfg.BlockFlagThreshold
	if threshold <= 0 {
		threshold = def.BlockFlagThreshold
	}

	merged := Config{
		DenylistedDomains:  append(def.DenylistedDomains, cfg.DenylistedDomains...),
		SpamLocalPatterns:  append(def.SpamLocalPatterns, cfg.SpamLocalPatterns...),
		SpamKeywords:       append(def.SpamKeywords, cfg.SpamKeywords...),
		BlockFlagThreshold: threshold,
	}

	g := &Gate{
		cfg:      merged,
		denylist: make(map[string]struct{}, len(merged.DenylistedDomains)),
	}
	for _, d := range merged.DenylistedDomains {
		g.denylist[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for _, p := range merged.SpamLocalPatterns {
		g.localPats = append(g.localPats, strings.ToLower(strings.TrimSpace(p)))
	}
	for _, k := range merged.SpamKeywords {
		g.keywords = append(g.keywords, strings.ToLower(strings.TrimSpace(k)))
	}
	return g
}

// Inspect evaluates every rule independently and returns the union of the
// flags they raise. Blockable is true when the sender domain is denylisted,
// the local part matches a spam pattern, or enough independent flags pile up.
func (g *Gate) Inspect(senderEmail, subject, body string) Verdict {
	var v Verdict

	local, domain := splitAddress(senderEmail)

	if g.isSpamSender(local, domain) {
		v.Flags = append(v.Flags, models.FlagSpamDomain)
	}
	if g.containsSpamKeyword(body) {
		v.Flags = append(v.Flags, models.FlagSpamKeyword)
	}
	if !plausibleMailDomain(domain) {
		v.Flags = append(v.Flags, models.FlagSuspiciousDomain)
	}

	hasSpamDomain := false
	for _, f := range v.Flags {
		if f == models.FlagSpamDomain {
			hasSpamDomain = true
		}
	}
	v.Blockable = hasSpamDomain || len(v.Flags) >= g.cfg.BlockFlagThreshold

	if v.Blockable {
		names := make([]string, 0, len(v.Flags))
		for _, f := range v.Flags {
			names = append(names, string(f))
		}
		v.Reason = fmt.Sprintf("blocked by security gate: %s", strings.Join(names, ", "))
	}

	return v
}

func (g *Gate) isSpamSender(local, domain string) bool {
	if _, ok := g.denylist[domain]; ok {
		return true
	}
	for _, pat := range g.localPats {
		if pat != "" && strings.Contains(local, pat) {
			return true
		}
	}
	return false
}

func (g *Gate) containsSpamKeyword(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range g.keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// splitAddress returns the lowercased local part and domain of an email
// address. A missing @ yields an empty domain, which the domain-shape
// heuristic then flags.
func splitAddress(email string) (local, domain string) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email, ""
	}
	return email[:at], email[at+1:]
}

// plausibleMailDomain applies a shape heuristic, not a DNS lookup: the
// domain must have at least two labels, an alphabetic TLD of 2+ chars, and
// only hostname characters.
func plausibleMailDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
