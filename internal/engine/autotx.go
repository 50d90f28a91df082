package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RunInTransaction runs fn in a new transaction and commits it. If fn or the
// commit fails, the transaction is rolled back and the error returned.
// ErrTransientConflict is retried with exponential backoff up to the
// configured number of retries, so fn may run more than once and must not
// leak results of a failed attempt.
func (e *Engine) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	if e.closed.Load() {
		return ErrClosed
	}

	attempt := 0
	op := func() error {
		attempt++
		err := e.runOnce(ctx, fn)
		if err == nil || errors.Is(err, ErrTransientConflict) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.OnRetry(attempt, err)
		e.logger.Debug("retrying transaction", "attempt", attempt, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.maxRetries)), ctx), notify)
	if err != nil {
		if errors.Is(err, ErrTransientConflict) && attempt > 1 {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		return translate(err)
	}
	return nil
}

func (e *Engine) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	b.MaxInterval = e.retryMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (e *Engine) runOnce(ctx context.Context, fn func(tx *Transaction) error) error {
	tx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		err = translate(err)
		tx.rollback(err)
		return err
	}
	return tx.Commit(ctx)
}
