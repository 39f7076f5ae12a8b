// Package google adapts the Gemini API to the provider interface. Models
// are addressed as "google/<model>".
package google

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/trident-go/trident/provider"
)

func init() {
	provider.Register("google", func() (provider.Provider, error) {
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, &provider.Error{Provider: "google", Message: "GOOGLE_API_KEY is not set"}
		}
		return New(key), nil
	})
}

// Provider holds the API key; the genai client wants a context, so it is
// created per call.
type Provider struct {
	apiKey string
}

// New creates a provider with the given API key.
func New(apiKey string) *Provider {
	return &Provider{apiKey: apiKey}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "google" }

// Complete sends one prompt. JSON format sets the response MIME type to
// application/json so Gemini returns a bare JSON document.
func (p *Provider) Complete(ctx context.Context, prompt string, cfg provider.CompletionConfig) (*provider.Result, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, &provider.Error{Provider: "google", Message: "create client", Cause: err}
	}
	defer client.Close()

	model := client.GenerativeModel(cfg.Model)
	if cfg.Temperature != nil {
		model.SetTemperature(float32(*cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}
	if cfg.Format == "json" {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &provider.Error{Provider: "google", Message: "empty response: no candidates"}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	result := &provider.Result{Content: sb.String(), Model: cfg.Model}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	transient := strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "503")
	return &provider.Error{
		Provider:  "google",
		Message:   "completion failed",
		Transient: transient,
		Cause:     err,
	}
}
