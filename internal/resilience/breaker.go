// Package resilience guards the pipeline's network collaborators.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open)
// wrapped around the speech and language services so a dead endpoint is
// rejected immediately instead of burning a timeout on every utterance.
// [Retry] re-runs short operations with a per-attempt deadline, which is
// how recognition survives a single slow whisper call without stalling
// the conversation.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrOpen] until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probes through to decide
	// whether the collaborator has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields get defaults suited to the
// sub-second calls this pipeline makes.
type BreakerConfig struct {
	// Name labels the breaker in log output, e.g. "tts".
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long the breaker stays open before probing again.
	// Default: 10s.
	Cooldown time.Duration

	// Probes is the number of half-open calls that must all succeed to
	// close the breaker again. Default: 2.
	Probes int

	Logger *slog.Logger
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	logger    *slog.Logger

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probeRuns int
	probeOK   int
}

// NewBreaker creates a [Breaker] from cfg, applying defaults for zero fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
		logger:    cfg.Logger,
	}
}

// Do runs fn if the breaker allows it and feeds the outcome back into the
// failure accounting. While open it returns [ErrOpen] without calling fn.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = BreakerHalfOpen
		b.probeRuns = 0
		b.probeOK = 0
		b.logger.Info("breaker half-open", "breaker", b.name)
	case BreakerHalfOpen:
		if b.probeRuns >= b.probes {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == BreakerHalfOpen
	if probing {
		b.probeRuns++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = time.Now()
	if probing {
		b.state = BreakerOpen
		b.failures = b.threshold
		b.logger.Warn("breaker re-opened", "breaker", b.name)
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.logger.Warn("breaker opened", "breaker", b.name, "failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		b.probeOK++
		if b.probeOK >= b.probes {
			b.state = BreakerClosed
			b.failures = 0
			b.logger.Info("breaker closed", "breaker", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed is reported half-open; the transition itself happens on the next
// [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probeRuns = 0
	b.probeOK = 0
}
