package backoff

import (
	"time"
)

// Retriable is a function returning an error which can be retried.
type Retriable func() error

// Retry invokes the given function until it succeeds or the policy's
// retries are exhausted. The last error is returned to the caller; it is
// never retried beyond the policy.
func Retry(f Retriable, p RetryPolicy) error {
	var err error
	var delay time.Duration

	r := NewRetrier(p)
	for {
		if err = f(); err == nil {
			return nil
		}

		if delay = r.NextBackOff(); delay == done {
			return err
		}

		time.Sleep(delay)
	}
}
