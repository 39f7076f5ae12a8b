// Package anthropic adapts the Anthropic Messages API to the provider
// interface. Models are addressed as "anthropic/<model>".
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/trident-go/trident/provider"
)

func init() {
	provider.Register("anthropic", func() (provider.Provider, error) {
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, &provider.Error{Provider: "anthropic", Message: "ANTHROPIC_API_KEY is not set"}
		}
		return New(key), nil
	})
}

// Provider wraps the official anthropic-sdk-go client. Safe for concurrent
// use after creation.
type Provider struct {
	client *anthropic.Client
}

// New creates a provider with the given API key.
func New(apiKey string) *Provider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Complete sends one user message and returns the concatenated text blocks.
// JSON format is requested through prompt instructions; the Messages API has
// no native structured-output mode.
func (p *Provider) Complete(ctx context.Context, prompt string, cfg provider.CompletionConfig) (*provider.Result, error) {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(withJSONInstructions(prompt, cfg))),
		},
	}
	if cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*cfg.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &provider.Result{
		Content:      sb.String(),
		Model:        cfg.Model,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

func withJSONInstructions(prompt string, cfg provider.CompletionConfig) string {
	if cfg.Format != "json" {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nRespond with a single JSON object and nothing else.")
	if cfg.Schema != nil {
		if schema, err := json.Marshal(cfg.Schema); err == nil {
			sb.WriteString(" It must match this JSON Schema:\n")
			sb.Write(schema)
		}
	}
	return sb.String()
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	transient := strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "529") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503")
	return &provider.Error{
		Provider:  "anthropic",
		Message:   "completion failed",
		Transient: transient,
		Cause:     err,
	}
}
