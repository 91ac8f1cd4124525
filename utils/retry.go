package utils

import (
	"context"
	"time"
)

// Retries cb up to number times, aborting as soon as the context is
// cancelled. The context error is returned so callers can distinguish
// cancellation from budget exhaustion.
func RetryWithCtx(ctx context.Context,
	cb func() error, number int, sleep time.Duration) error {
	var err error
	for i := 0; i < number; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = cb()
		if err == nil {
			return nil
		}

		// Do not sleep after the last attempt.
		if i == number-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}
