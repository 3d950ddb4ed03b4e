package extract

import (
	"context"
	"fmt"
	"time"
)

// Retry runs fn up to attempts times, sleeping attempt*delay between
// failures (linear backoff). The last error is returned when all attempts
// fail. The sleep is context-aware; a running fn is not interrupted.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt < attempts-1 {
			waitTime := time.Duration(attempt+1) * delay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Poll runs fn every interval until it reports done, returns an error, or
// maxAttempts is exhausted. fn runs immediately on the first attempt.
func Poll(ctx context.Context, maxAttempts int, interval time.Duration, fn func() (bool, error)) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	return fmt.Errorf("polling gave up after %d attempts", maxAttempts)
}
