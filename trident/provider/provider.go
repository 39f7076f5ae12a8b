// Package provider abstracts LLM completion backends behind a single
// interface. Concrete adapters live in the openai, anthropic, and google
// subpackages; models are addressed as "vendor/model-name".
package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// CompletionConfig carries the per-call settings resolved from a prompt node
// and project defaults.
type CompletionConfig struct {
	// Model is the bare model name with the vendor prefix stripped.
	Model string

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// MaxTokens caps the response length; zero means the adapter default.
	MaxTokens int

	// Format is "text" or "json". JSON requests structured output where the
	// backend supports it.
	Format string

	// Schema is the JSON Schema document for json format, when declared.
	Schema map[string]any
}

// Result is one completed provider call.
type Result struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider executes a single-turn completion.
type Provider interface {
	// Name returns the vendor tag, e.g. "openai".
	Name() string

	// Complete sends the rendered prompt and returns the model's response.
	Complete(ctx context.Context, prompt string, cfg CompletionConfig) (*Result, error)
}

// Error wraps a provider failure. Transient marks failures worth retrying
// (rate limits, 5xx, network).
type Error struct {
	Provider  string
	Message   string
	Transient bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// ExitCode maps provider failures to exit code 3.
func (e *Error) ExitCode() int { return 3 }

// Factory builds a provider from its environment (API keys and such).
type Factory func() (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register installs a factory for a vendor prefix. Adapters call this from
// init; last registration wins, which lets tests install fakes.
func Register(vendor string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[vendor] = factory
}

// ForModel resolves "vendor/model-name" to a provider instance and the bare
// model name. A model without a vendor prefix is an error: the caller cannot
// know which backend to bill.
func ForModel(model string) (Provider, string, error) {
	vendor, name, ok := strings.Cut(model, "/")
	if !ok || vendor == "" || name == "" {
		return nil, "", &Error{
			Provider: "unknown",
			Message:  fmt.Sprintf("model %q has no vendor prefix (want e.g. anthropic/claude-3-haiku)", model),
		}
	}

	mu.RLock()
	factory, found := factories[vendor]
	mu.RUnlock()
	if !found {
		return nil, "", &Error{
			Provider: vendor,
			Message:  fmt.Sprintf("no provider registered for vendor %q", vendor),
		}
	}

	p, err := factory()
	if err != nil {
		return nil, "", err
	}
	return p, name, nil
}

// Vendors returns the registered vendor prefixes.
func Vendors() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for v := range factories {
		out = append(out, v)
	}
	return out
}
