package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ragingest/types"
)

// retryUnavailable runs op up to attempts times, doubling the delay after
// each failure. Only ProviderUnavailable errors are retried.
func retryUnavailable(ctx context.Context, logger *slog.Logger, attempts int, delay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = op()
		if err == nil || !errors.Is(err, types.ErrProviderUnavailable) {
			return err
		}
		if attempt == attempts {
			break
		}

		logger.Warn("embedding provider unavailable, retrying", "attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
