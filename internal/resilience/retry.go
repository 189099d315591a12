package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig controls [Retry].
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	// Default: 2 (one retry).
	Attempts int

	// AttemptTimeout bounds each individual try. Zero means no
	// per-attempt deadline beyond the caller's context.
	AttemptTimeout time.Duration

	// Backoff is the pause between tries. Default: 100ms.
	Backoff time.Duration
}

// Retry runs fn up to cfg.Attempts times, giving each try its own deadline
// and sleeping cfg.Backoff between them. The parent context cancels the
// whole sequence; its error wins over the last attempt's error so callers
// can tell interruption apart from collaborator failure.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < cfg.Attempts {
			select {
			case <-time.After(cfg.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("resilience: %d attempts failed: %w", cfg.Attempts, lastErr)
}
