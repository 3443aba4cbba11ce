package querycache

import "time"

type fetchOptions struct {
	enabled   bool
	staleTime time.Duration
	retry     int
	retryBase time.Duration
	retryMax  time.Duration
}

// QueryOption overrides store defaults for one query call site.
type QueryOption func(*fetchOptions)

// Enabled toggles fetching. A disabled query still reads and observes the
// cache but never starts a fetch, e.g. until a required parameter is known.
func Enabled(enabled bool) QueryOption {
	return func(o *fetchOptions) {
		o.enabled = enabled
	}
}

// StaleTime sets how long a successful fetch stays fresh.
func StaleTime(d time.Duration) QueryOption {
	return func(o *fetchOptions) {
		if d >= 0 {
			o.staleTime = d
		}
	}
}

// Retry sets how many times a failed read is retried. Zero disables retries.
func Retry(n int) QueryOption {
	return func(o *fetchOptions) {
		if n >= 0 {
			o.retry = n
		}
	}
}

// RetryDelay sets the exponential backoff bounds between retries.
func RetryDelay(base, max time.Duration) QueryOption {
	return func(o *fetchOptions) {
		o.retryBase = base
		o.retryMax = max
	}
}

func (s *Store) resolveOptions(opts []QueryOption) fetchOptions {
	o := fetchOptions{
		enabled:   true,
		staleTime: s.cfg.StaleTime,
		retry:     s.cfg.Retry,
		retryBase: s.cfg.RetryBaseDelay,
		retryMax:  s.cfg.RetryMaxDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
