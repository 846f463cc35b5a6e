// Package retry wraps github.com/cenkalti/backoff/v4 with the retry
// contract this engine's callers expect: a bounded number of attempts, an
// exponential delay between them, and a classifier that decides whether a
// given error is worth retrying at all.
package retry

import "time"

// Policy configures a retry executor.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	// Retryable reports whether err should trigger another attempt. A nil
	// Retryable accepts DefaultRetryable.
	Retryable func(err error) bool
}

// NONE never retries: a single attempt, pass or fail.
var NONE = Policy{MaxAttempts: 1}

// QUICK is for latency-sensitive callers willing to wait a couple seconds
// total: 3 attempts, 500ms initial delay capped at 2s, factor 1.5.
var QUICK = Policy{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Factor:       1.5,
}

// STANDARD is the default policy for connection and send operations: 3
// attempts, 1s initial delay capped at 10s, factor 2.
var STANDARD = Policy{
	MaxAttempts:  3,
	InitialDelay: time.Second,
	MaxDelay:     10 * time.Second,
	Factor:       2,
}

// AGGRESSIVE is for background reconnect loops that can afford to keep
// trying: 5 attempts, 1s initial delay capped at 30s, factor 2.
var AGGRESSIVE = Policy{
	MaxAttempts:  5,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
	Factor:       2,
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultRetryable(err)
}
