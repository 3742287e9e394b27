package gcal

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryBase     = 250 * time.Millisecond
	retryCap      = 1500 * time.Millisecond
	retryAttempts = 3

	// Elapsed budgets for the synchronous booking-path calls.
	FreeBusyBudget = 4500 * time.Millisecond
	LookupBudget   = 2500 * time.Millisecond

	// inlineTimeout bounds each individual attempt on the booking path; the
	// budgets above bound the whole retry sequence.
	inlineTimeout = 2500 * time.Millisecond
)

// withRetry runs fn up to retryAttempts times with exponential backoff and
// uniform jitter, abandoning early when the next sleep would overrun the
// elapsed budget. Only retryable errors are attempted again.
func withRetry(ctx context.Context, budget time.Duration, fn func() error) error {
	deadline := time.Now().Add(budget)
	base := retryBase

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) || attempt >= retryAttempts {
			return err
		}

		sleep := base + time.Duration(rand.Int63n(int64(base)+1))
		if time.Now().Add(sleep).After(deadline) {
			return err
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}

		base *= 2
		if base > retryCap {
			base = retryCap
		}
	}
}
