// Package retry provides the retry policy for calls to unreliable upstream
// endpoints. It wraps avast/retry-go with exponential backoff: the delay
// before retry n is base * 2^(n-1), capped at the configured maximum.
//
// Only transient errors are re-attempted. Validation and domain errors abort
// immediately without consuming the retry budget; see apperror.IsRetryable.
package retry

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/fd1az/chainguard/internal/apperror"
)

const (
	defaultAttempts = 3
	defaultDelay    = 1 * time.Second
	defaultMaxDelay = 10 * time.Second
)

// Policy executes operations with bounded retries. The zero value is not
// usable; construct with New.
type Policy struct {
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

// Option configures a Policy.
type Option func(*Policy)

// WithAttempts sets the total number of attempts, including the first.
func WithAttempts(n uint) Option {
	return func(p *Policy) {
		p.attempts = n
	}
}

// WithDelay sets the base delay before the first retry.
func WithDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.delay = d
	}
}

// WithMaxDelay caps the exponential backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.maxDelay = d
	}
}

// New creates a Policy. Defaults: 3 attempts, 1s base delay, 10s cap.
func New(opts ...Option) *Policy {
	p := &Policy{
		attempts: defaultAttempts,
		delay:    defaultDelay,
		maxDelay: defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs op, retrying transient failures with exponential backoff
// until it succeeds, the attempt budget is exhausted, or ctx is done.
// The last error is returned after exhaustion.
func (p *Policy) Execute(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.MaxDelay(p.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(apperror.IsRetryable),
		retry.Context(ctx),
	)
}

// Attempts returns the configured attempt budget.
func (p *Policy) Attempts() uint {
	return p.attempts
}
