package apiserver

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls how connection failures are retried.
type RetryConfig struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryConfig retries ten times, ten seconds apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		Delay:      DefaultRetryDelay,
	}
}

// shouldRetry reports whether err is a connection-level failure. Decoded
// HTTP errors and protocol errors are never retried.
func shouldRetry(err error) bool {
	var netErr *networkError
	return errors.As(err, &netErr)
}

// withRetry runs fn until it succeeds, fails with a non-retryable error,
// or exhausts the retry budget. Waiting between attempts stops early when
// ctx is done.
func withRetry(ctx context.Context, config RetryConfig, onRetry func(attempt int, err error), fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		timer := time.NewTimer(config.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return lastErr
}
