// Package service contains application services for identity, pre-keys,
// channels, message relay and challenge-response auth.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/quietwire/relay/internal/errs"
)

// withRetry runs fn and retries it once on transient storage failures.
// Domain sentinels and cancellation are surfaced immediately.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || isPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func isPermanent(err error) bool {
	switch {
	case errors.Is(err, errs.ErrNotFound),
		errors.Is(err, errs.ErrUsernameTaken),
		errors.Is(err, errs.ErrInvalidSignature),
		errors.Is(err, errs.ErrUnauthorized),
		errors.Is(err, errs.ErrExpiredChallenge),
		errors.Is(err, errs.ErrNoKeysAvailable),
		errors.Is(err, errs.ErrConflict),
		errors.Is(err, errs.ErrRateLimited),
		errors.Is(err, errs.ErrValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
