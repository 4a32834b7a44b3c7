package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// RetryPolicy bounds how transient failures are retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy matches the stock.retry_* configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Reconnector re-establishes connections after a broken link or expired credentials.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Retry runs op until it succeeds, fails permanently or the attempts run out.
//
// Only transient failures (see IsTransient) are retried. Validation and
// integrity errors return immediately and are never replayed. When the failure
// points at the connection itself, rc.Reconnect runs before the next attempt.
// Exhausted retries surface as errors.Transient.
func Retry(ctx context.Context, policy RetryPolicy, rc Reconnector, log *logger.Logger, op func(context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		expo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		expo.MaxInterval = policy.MaxInterval
	}
	expo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1)), ctx)

	var lastErr error
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		if rc != nil && NeedsReconnect(err) {
			if rcErr := rc.Reconnect(ctx); rcErr != nil && log != nil {
				log.Warn().Err(rcErr).Int("attempt", attempt).Msg("reconnect before retry failed")
			}
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if log != nil {
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("transient storage failure, retrying")
		}
	})

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if lastErr != nil && IsTransient(lastErr) {
		return MapError(wrapTransient(lastErr))
	}
	return err
}

func wrapTransient(err error) error {
	if errors.IsRetryable(err) {
		return err
	}
	return errors.Transient(err)
}
