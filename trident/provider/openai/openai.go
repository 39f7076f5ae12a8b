// Package openai adapts the OpenAI Chat Completions API to the provider
// interface. Models are addressed as "openai/<model>".
package openai

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/dshills/trident-go/trident/provider"
)

func init() {
	provider.Register("openai", func() (provider.Provider, error) {
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, &provider.Error{Provider: "openai", Message: "OPENAI_API_KEY is not set"}
		}
		return New(key), nil
	})
}

// Provider wraps the official openai-go client. Safe for concurrent use
// after creation.
type Provider struct {
	client *openai.Client
}

// New creates a provider with the given API key.
func New(apiKey string) *Provider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "openai" }

// Complete sends one user message. JSON format uses the API's JSON-object
// response mode, with the declared schema appended to the prompt so the
// model knows the expected fields.
func (p *Provider) Complete(ctx context.Context, prompt string, cfg provider.CompletionConfig) (*provider.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	}
	if cfg.Format == "json" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}
	if cfg.Temperature != nil {
		params.Temperature = openai.Float(*cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &provider.Error{Provider: "openai", Message: "empty response: no choices"}
	}

	return &provider.Result{
		Content:      completion.Choices[0].Message.Content,
		Model:        cfg.Model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	transient := strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503")
	return &provider.Error{
		Provider:  "openai",
		Message:   "completion failed",
		Transient: transient,
		Cause:     err,
	}
}
