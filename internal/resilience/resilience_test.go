package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", Threshold: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn was called while breaker open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Hour})

	b.Do(func() error { return errBoom })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBoom })

	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 10 * time.Millisecond, Probes: 2})

	b.Do(func() error { return errBoom })
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", got)
	}

	// Two successful probes close the breaker.
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed after probes", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 10 * time.Millisecond, Probes: 2})

	b.Do(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	b.Do(func() error { return errBoom })
	if got := b.State(); got != BreakerOpen {
		t.Errorf("state = %v, want re-opened", got)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen immediately after re-open", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	b.Do(func() error { return errBoom })
	b.Reset()

	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed after Reset", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
}

func TestRetry_SecondAttemptSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 2, Backoff: time.Millisecond},
		func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return errBoom
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 2, Backoff: time.Millisecond},
		func(ctx context.Context) error {
			calls++
			return errBoom
		})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want wrapped errBoom", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_AttemptTimeout(t *testing.T) {
	t.Parallel()

	var deadlines []bool
	err := Retry(context.Background(),
		RetryConfig{Attempts: 2, AttemptTimeout: 10 * time.Millisecond, Backoff: time.Millisecond},
		func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			deadlines = append(deadlines, ok)
			<-ctx.Done()
			return ctx.Err()
		})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if len(deadlines) != 2 || !deadlines[0] || !deadlines[1] {
		t.Errorf("deadlines = %v, want two deadline-bound attempts", deadlines)
	}
}

func TestRetry_ParentCancelWins(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryConfig{Attempts: 3, Backoff: time.Hour},
		func(ctx context.Context) error {
			calls++
			cancel()
			return errBoom
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancel)", calls)
	}
}
