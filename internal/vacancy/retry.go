package vacancy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a fixed delay, fixed attempt budget. Attempts counts the
// first try.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 2 * time.Second}

// Do runs op until it succeeds, the budget is spent or ctx is done. Not found
// and context errors are returned straight away.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify func(err error, attempt int)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)), ctx)
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, _ time.Duration) {
		if notify != nil {
			notify(err, attempt)
		}
	})
}
