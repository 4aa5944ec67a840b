package drafter

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider identifies an LLM backend
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderOllama Provider = "ollama"
)

// Options configures the langchain-backed drafting client
type Options struct {
	Provider    Provider `json:"provider"`
	APIKey      string   `json:"api_key"`
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// LangchainClient drafts replies through a langchaingo model
type LangchainClient struct {
	llm     llms.Model
	options Options
}

// NewLangchainClient creates a drafting client for the configured provider
func NewLangchainClient(ctx context.Context, options Options) (*LangchainClient, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Float64("temperature", options.Temperature).
		Msg("Creating drafting client")

	switch options.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, openai.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGemini:
		opts := []googleai.Option{googleai.WithAPIKey(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(options.Model))
		}
		model, err = googleai.New(ctx, opts...)
	case ProviderClaude:
		opts := []anthropic.Option{anthropic.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, anthropic.WithModel(options.Model))
		}
		model, err = anthropic.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{}
		if options.Model != "" {
			opts = append(opts, ollama.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(options.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return &LangchainClient{llm: model, options: options}, nil
}

// Draft asks the model for a structured reply and parses its JSON output
func (c *LangchainClient) Draft(ctx context.Context, req Request) (Draft, error) {
	prompt := buildPrompt(req)

	callOpts := []llms.CallOption{}
	if c.options.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(c.options.Temperature))
	}
	if c.options.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.options.MaxTokens))
	}

	raw, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, callOpts...)
	if err != nil {
		return Draft{}, fmt.Errorf("llm draft call failed: %w", err)
	}

	draft, err := parseDraftResponse(raw)
	if err != nil {
		return Draft{}, fmt.Errorf("llm draft response unusable: %w", err)
	}
	return draft, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You are a negotiation assistant replying on behalf of a business to an inbound partnership email from a content creator.\n")
	b.WriteString("Write a warm, concise reply that moves the conversation forward. Do not commit to pricing.\n\n")

	fmt.Fprintf(&b, "From: %s <%s>\n", req.SenderName, req.SenderEmail)
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "Message:\n%s\n\n", req.Body)

	if p := req.Profile; p != nil {
		b.WriteString("Known counterpart profile:\n")
		fmt.Fprintf(&b, "- category: %s\n", p.Category)
		fmt.Fprintf(&b, "- engagement rate: %.2f\n", p.EngagementRate)
		fmt.Fprintf(&b, "- brand safety score: %.2f\n\n", p.BrandSafetyScore)
	} else {
		b.WriteString("The sender is not in our contact database; keep the reply friendly but do not reference any past relationship.\n\n")
	}

	if sig := strings.TrimSpace(req.Signature); sig != "" {
		fmt.Fprintf(&b, "End the reply with exactly this signature:\n%s\n\n", sig)
	}

	b.WriteString("Respond with ONLY a JSON object in this exact format:\n")
	b.WriteString(`{"reply": "<the full reply text>", "tone": "<one word describing the tone>"}`)
	b.WriteString("\n")

	return b.String()
}
