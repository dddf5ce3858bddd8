package database

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryMaxAttempts = 3
	retryBaseDelay   = 100 * time.Millisecond
)

// WithRetry runs op up to three times with jittered exponential backoff.
// It is used only by the authentication paths, where a transient
// connection drop would otherwise bounce a login; user-facing writes are
// never retried.
func WithRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == retryMaxAttempts-1 {
			break
		}
		delay := retryBaseDelay<<attempt + time.Duration(rand.Int63n(int64(retryBaseDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
