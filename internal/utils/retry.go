package utils

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

// Permanent - Marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry - Run fn up to 1+retries times with exponential backoff. Only for idempotent reads:
// embeddings, searches, stats. Once ctx itself is done the loop stops.
func Retry(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = 0 // bounded by retries and ctx instead

	var b backoff.BackOff = backoff.WithMaxRetries(policy, uint64(max(retries, 0)))
	b = backoff.WithContext(b, ctx)

	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
