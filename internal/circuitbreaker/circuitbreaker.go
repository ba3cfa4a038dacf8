// Package circuitbreaker tracks failures per resource key and disables calls
// to a failing resource for a cool-down period. It wraps sony/gobreaker.
//
// State machine per key: Closed until the threshold of consecutive transient
// failures is reached, then Open (every call short-circuits with
// CIRCUIT_OPEN, nothing reaches the network) until the cool-down elapses,
// then Half-Open where a single probe is allowed through. A successful probe
// closes the breaker and resets the failure count; a failed probe re-opens
// it with a fresh cool-down window.
//
// Only transient errors count as failures: validation and domain errors pass
// through without moving the breaker. Breakers are keyed per resource (per
// chain, per provider), never global, so one failing provider does not block
// unrelated calls. State is process-local and is not shared across
// instances.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/logger"
)

const (
	// DefaultThreshold is the consecutive-failure count that opens a breaker.
	DefaultThreshold uint32 = 5

	// DefaultCooldown is how long an open breaker blocks calls before
	// allowing a half-open probe.
	DefaultCooldown = 5 * time.Minute
)

// Config holds breaker settings shared by every key in a Registry.
type Config struct {
	Threshold uint32
	Cooldown  time.Duration
	Logger    logger.LoggerInterface
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Cooldown:  DefaultCooldown,
	}
}

// breaker pairs a gobreaker instance with the wall-clock moment it last
// opened, so callers can be told when the next attempt is allowed.
type breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]

	mu       sync.Mutex
	openedAt time.Time
}

func (b *breaker[T]) nextRetry(cooldown time.Duration) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return time.Time{}
	}
	return b.openedAt.Add(cooldown)
}

// Registry holds one breaker per resource key, created lazily at first use
// and never destroyed, only reset by successful calls.
type Registry[T any] struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*breaker[T]
}

// NewRegistry creates a Registry. Zero config fields fall back to defaults.
func NewRegistry[T any](cfg Config) *Registry[T] {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Registry[T]{
		cfg:      cfg,
		breakers: make(map[string]*breaker[T]),
	}
}

func (r *Registry[T]) breaker(key string) *breaker[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}

	b := &breaker[T]{}
	b.cb = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1, // single probe in half-open
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.Threshold
		},
		IsSuccessful: func(err error) bool {
			// Validation and domain errors are outcomes, not resource
			// failures; they must not trip the breaker.
			return err == nil || !apperror.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
			}
			if r.cfg.Logger != nil {
				r.cfg.Logger.Info(context.Background(), "circuit breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			}
		},
	})

	r.breakers[key] = b
	return b
}

// Execute runs op through the breaker for key. While the breaker is open the
// op is never invoked and a CIRCUIT_OPEN error carrying the resource key and
// next-retry time is returned instead.
func (r *Registry[T]) Execute(key string, op func() (T, error)) (T, error) {
	b := r.breaker(key)

	out, err := b.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, apperror.New(apperror.CodeCircuitOpen,
			apperror.WithResource(key),
			apperror.WithNextRetry(b.nextRetry(r.cfg.Cooldown)),
			apperror.WithCause(err))
	}
	return out, err
}

// OpenError builds the CIRCUIT_OPEN error for key, including when the next
// attempt will be allowed through.
func (r *Registry[T]) OpenError(key string) error {
	b := r.breaker(key)
	return apperror.New(apperror.CodeCircuitOpen,
		apperror.WithResource(key),
		apperror.WithNextRetry(b.nextRetry(r.cfg.Cooldown)))
}

// Allow reports whether a call on key would currently reach the network.
func (r *Registry[T]) Allow(key string) bool {
	return r.breaker(key).cb.State() != gobreaker.StateOpen
}

// State returns the breaker state for key.
func (r *Registry[T]) State(key string) gobreaker.State {
	return r.breaker(key).cb.State()
}

// States snapshots every known breaker, keyed by resource. Used by health
// checks and audit reports.
func (r *Registry[T]) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.breakers))
	for key, b := range r.breakers {
		out[key] = b.cb.State().String()
	}
	return out
}
