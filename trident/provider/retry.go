package provider

import (
	"context"
	"errors"
	"time"
)

// Complete with retry: transient provider errors (rate limits, 5xx, network
// resets) back off exponentially; anything else fails immediately.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// CompleteWithRetry wraps p.Complete with exponential backoff on transient
// errors. Context cancellation stops the loop between attempts.
func CompleteWithRetry(ctx context.Context, p Provider, prompt string, cfg CompletionConfig) (*Result, error) {
	var lastErr error
	delay := defaultBaseDelay

	for attempt := 0; attempt < defaultMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		result, err := p.Complete(ctx, prompt, cfg)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perr *Error
		if !errors.As(err, &perr) || !perr.Transient {
			return nil, err
		}
	}
	return nil, lastErr
}
