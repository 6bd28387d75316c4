// Package retry implements the classified backoff policy used around
// initialization and batch processing.
//
// Delays grow as base * multiplier^attempt capped at a maximum, with
// proportional jitter applied on top. Whether an error is worth retrying is
// decided by services sentinel classification, never by message text.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services"
)

// Policy describes one backoff profile.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64

	sleeper func(time.Duration)
	rng     *rand.Rand
}

// Option customizes a Policy.
type Option func(*Policy)

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(p *Policy) {
		p.sleeper = sleeper
	}
}

// WithRandSource overrides the jitter randomness source (useful for tests).
func WithRandSource(src rand.Source) Option {
	return func(p *Policy) {
		if src != nil {
			p.rng = rand.New(src)
		}
	}
}

// NewPolicy builds a backoff policy with the given profile.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, multiplier, jitter float64, opts ...Option) Policy {
	p := Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Multiplier:  multiplier,
		Jitter:      jitter,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// InitPolicy returns the initialization profile from config: fewer attempts,
// shorter delays.
func InitPolicy(cfg *config.Config, opts ...Option) Policy {
	return NewPolicy(
		cfg.Retry.InitMaxAttempts,
		time.Duration(cfg.Retry.InitBaseSeconds)*time.Second,
		time.Duration(cfg.Retry.InitMaxSeconds)*time.Second,
		cfg.Retry.Multiplier,
		cfg.Retry.Jitter,
		opts...,
	)
}

// BatchPolicy returns the batch-processing profile from config: more attempts,
// longer delays.
func BatchPolicy(cfg *config.Config, opts ...Option) Policy {
	return NewPolicy(
		cfg.Retry.BatchMaxAttempts,
		time.Duration(cfg.Retry.BatchBaseSeconds)*time.Second,
		time.Duration(cfg.Retry.BatchMaxSeconds)*time.Second,
		cfg.Retry.Multiplier,
		cfg.Retry.Jitter,
		opts...,
	)
}

// Delay computes the backoff before the next try after the given 1-based
// failed attempt, including jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = base
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if delay >= float64(maxDelay) {
			delay = float64(maxDelay)
			break
		}
	}
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if p.Jitter > 0 {
		delay *= 1 + (p.random()*2-1)*p.Jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

func (p Policy) random() float64 {
	if p.rng != nil {
		return p.rng.Float64()
	}
	return rand.Float64()
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn up to MaxAttempts times, sleeping between retryable failures.
// Errors classified as permanent are returned unchanged on first occurrence;
// exhausting all attempts wraps the final error with the attempt count. The
// sleep honours context cancellation.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) error {
	attempts := p.attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !services.IsRetryable(err) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt >= attempts {
			break
		}

		delay := p.Delay(attempt)
		if logger != nil {
			logger.Warn("retrying after failure",
				logging.Args(
					logging.String("operation", op),
					logging.Int(logging.FieldAttempt, attempt),
					logging.Duration("delay", delay),
					logging.Error(err),
				)...)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("retry: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.sleeper != nil {
		p.sleeper(delay)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
