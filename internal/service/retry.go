package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/unclebandit/intake-autosend/internal/queue"
)

// retryTransient runs op up to attempts times with exponential backoff.
// Permanent errors stop immediately.
func retryTransient(ctx context.Context, attempts int, initial time.Duration, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && queue.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
