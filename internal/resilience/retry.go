// Package resilience retries backend calls with bounded exponential backoff.
package resilience

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// RetryConfig controls RetryWithBackoff.
type RetryConfig struct {
	// MaxAttempts counts the first call. One means no retries.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// RetryableErrors reports whether err is worth another attempt.
	// Defaults to domain.IsRetryable.
	RetryableErrors func(err error) bool

	// Op names the operation in log lines.
	Op string
}

// DefaultRetryConfig returns three attempts starting at 500ms.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		RetryableErrors: domain.IsRetryable,
	}
}

func (c *RetryConfig) normalise() *RetryConfig {
	out := *c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.Multiplier < 1 {
		out.Multiplier = 1
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = out.InitialDelay
	}
	if out.RetryableErrors == nil {
		out.RetryableErrors = domain.IsRetryable
	}
	return &out
}

// RetryWithBackoff calls fn until it succeeds, returns a non-retryable
// error, MaxAttempts is reached, or ctx is done. The final error wraps
// the last failure so callers can still classify it.
func RetryWithBackoff(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	cfg := config.normalise()

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.RetryableErrors(err) {
			return err
		}

		if attempt >= cfg.MaxAttempts {
			logger.L().Warn("retries exhausted",
				zap.String("op", cfg.Op),
				zap.Int("attempts", attempt),
				zap.Error(err))
			if cfg.MaxAttempts == 1 {
				return err
			}
			return fmt.Errorf("%d attempts: %w", cfg.MaxAttempts, lastErr)
		}

		logger.L().Debug("retrying after delay",
			zap.String("op", cfg.Op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
