package querycache

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy decides whether a failed read is retried. failures counts the
// failed attempts so far, starting at 1.
type RetryPolicy func(failures int, err error) bool

// DefaultRetryPolicy retries everything except cancellation.
func DefaultRetryPolicy(_ int, err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrCanceled)
}

// backoff returns min(base*2^(failures-1), max).
func backoff(failures int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
