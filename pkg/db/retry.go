package db

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"
)

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RetryPolicy bounds how long and how often a transaction is re-attempted.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	TxTimeout   time.Duration
}

// PolicyFromConfig maps the DB config group onto a RetryPolicy.
func PolicyFromConfig(cfg config.DBConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		TxTimeout:   cfg.TxTimeout,
	}
}

// RetryingRunner re-runs whole transactions that fail with transient errors.
// fn must recompute everything it writes from reads made through tx.
type RetryingRunner struct {
	inner  TxRunner
	policy RetryPolicy
}

func NewRetryingRunner(inner TxRunner, policy RetryPolicy) *RetryingRunner {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 10 * time.Millisecond
	}
	return &RetryingRunner{inner: inner, policy: policy}
}

func (r *RetryingRunner) backoff() retry.Backoff {
	b := retry.NewExponential(r.policy.BaseDelay)
	b = retry.WithJitter(r.policy.BaseDelay/2, b)
	if r.policy.MaxDelay > 0 {
		b = retry.WithCappedDuration(r.policy.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(r.policy.MaxAttempts-1), b)
}

// WithTx returns fn's own error when it is not transient. Transient failures
// and per-attempt timeouts that outlive the retry budget surface as
// STORE_UNAVAILABLE.
func (r *RetryingRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempts := 0
	retryable := false
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := r.attemptContext(ctx)
		defer cancel()

		err := r.inner.WithTx(attemptCtx, fn)
		retryable = err != nil && (IsTransient(err) || attemptTimedOut(ctx, attemptCtx))
		if retryable {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	if retryable || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, "store unavailable").
			WithDetails(map[string]any{"attempts": attempts})
	}
	return err
}

func (r *RetryingRunner) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.TxTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.TxTimeout)
}

// attemptTimedOut is true when the attempt deadline fired while the caller's
// context is still live.
func attemptTimedOut(parent, attempt context.Context) bool {
	return parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded)
}
