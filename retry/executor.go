package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Do runs op under p, retrying per the policy's attempt count, delay curve,
// and retryable-error classifier. The context governs cancellation across
// the whole retry loop, not just a single attempt; op should itself respect
// ctx for per-attempt cancellation.
//
// A non-retryable error, or exhausting MaxAttempts, returns that error
// directly — no wrapping, so errors.Is/errors.As against the underlying
// sentinel still works for the caller.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	bo := newBackOff(p)
	withCtx := backoff.WithContext(bo, ctx)

	attempt := 0
	var lastErr error

	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt >= p.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Debug("retry: attempt failed, backing off")
	}

	if err := backoff.RetryNotify(operation, withCtx, notify); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// newBackOff translates Policy into backoff/v4's ExponentialBackOff,
// disabling its own max-elapsed-time cutoff since attempt counting is
// Policy's job, not the backoff library's.
func newBackOff(p Policy) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Factor
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return bo
}
