// Package retry executes operations with bounded attempts and
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// Options controls the retry loop.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// ShouldRetry inspects the classified error and the 1-indexed
	// attempt number. Defaults to crawler.IsRetryable: transport and
	// server failures retry, blocked and content failures never do.
	ShouldRetry func(err error, attempt int) bool
	// OnAttempt fires before each attempt; the processor uses it to
	// persist attempt counts across retries and escalation passes.
	OnAttempt func(attempt int)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = func(err error, _ int) bool {
			return crawler.IsRetryable(err)
		}
	}
	return o
}

// Executor runs operations under a retry policy.
type Executor struct {
	defaults Options
	logger   *zap.Logger
}

// NewExecutor builds an Executor; zero-valued fields in defaults fall
// back to 3 attempts, 500ms base delay, multiplier 2.
func NewExecutor(defaults Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{defaults: defaults.withDefaults(), logger: logger}
}

// Do runs op until it succeeds, the predicate rejects the failure, or
// attempts are exhausted. It returns the number of attempts made and
// the last error. The backoff before attempt n+1 is
// base * multiplier^(n-1).
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	return e.DoWith(ctx, op, e.defaults)
}

// DoWith is Do with per-call options; zero-valued fields inherit the
// executor defaults.
func (e *Executor) DoWith(ctx context.Context, op func(ctx context.Context) error, opts Options) (int, error) {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = e.defaults.MaxAttempts
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = e.defaults.BaseDelay
	}
	if opts.Multiplier == 0 {
		opts.Multiplier = e.defaults.Multiplier
	}
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, fmt.Errorf("retry canceled: %w", err)
		}
		if opts.OnAttempt != nil {
			opts.OnAttempt(attempt)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt == opts.MaxAttempts {
			e.logger.Debug("retry attempts exhausted",
				zap.Int("attempts", attempt),
				zap.Error(lastErr),
			)
			return attempt, lastErr
		}
		if !opts.ShouldRetry(lastErr, attempt) {
			e.logger.Debug("error not retryable",
				zap.Int("attempt", attempt),
				zap.String("kind", string(crawler.KindOf(lastErr))),
				zap.Error(lastErr),
			)
			return attempt, lastErr
		}

		delay := Backoff(opts.BaseDelay, opts.Multiplier, attempt)
		e.logger.Debug("retrying after backoff",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if err := sleep(ctx, delay); err != nil {
			return attempt, lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("operation failed")
	}
	return opts.MaxAttempts, lastErr
}

// Backoff returns the delay after the given 1-indexed attempt.
func Backoff(base time.Duration, multiplier float64, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
