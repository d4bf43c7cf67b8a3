package pebblestore

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/andreyvit/kvtab"
)

// retryPolicy bounds how many times a conflicting transaction is re-run.
type retryPolicy struct {
	attempts int
	base     time.Duration
	cap      time.Duration
}

func (p retryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.base)
	if p.cap > 0 {
		b = retry.WithCappedDuration(p.cap, b)
	}
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(uint64(p.attempts-1), b)
}

// runWithRetry runs fn in transactions produced by begin until one commits.
//
// An error returned by fn rolls the transaction back and is returned as is. A
// busy commit re-runs fn in a new transaction, at most policy.attempts times in
// total, after which the last conflict is returned inside a TransactionError.
// Any other commit failure is returned immediately.
func runWithRetry(ctx context.Context, policy retryPolicy, logger *zap.Logger, begin func() (optimisticTxn, error), fn kvtab.Body) (any, error) {
	var (
		result   any
		attempts int
		fnErr    error
		conflict error
	)
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		t, err := begin()
		if err != nil {
			return err
		}
		res, err := kvtab.CallSafely(fn, t)
		if err != nil {
			t.rollback()
			fnErr = err
			return err
		}
		if err := t.commit(); err != nil {
			if kvtab.IsRetryable(err) {
				conflict = err
				logger.Debug("commit conflict", zap.Int("attempt", attempts), zap.Int("max_attempts", policy.attempts))
				return retry.RetryableError(err)
			}
			return &kvtab.TransactionError{Backend: backendName, Attempts: attempts, Err: err}
		}
		result = res
		return nil
	})
	switch {
	case err == nil:
		return result, nil
	case fnErr != nil:
		return nil, fnErr
	case conflict != nil && errors.Is(err, kvtab.ErrConflict):
		logger.Warn("giving up on conflicting transaction", zap.Int("attempts", attempts))
		return nil, &kvtab.TransactionError{Backend: backendName, Attempts: attempts, Err: conflict}
	default:
		return nil, err
	}
}
