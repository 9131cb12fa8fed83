package services

import "time"

// Retry carries bounded retry state for a single job. It is computed once when
// the job starts and threaded through the pipeline rather than recomputed ad hoc.
type Retry struct {
	Attempt     int
	MaxAttempts int
	BackoffBase time.Duration
}

// NewRetry returns retry state positioned before the first attempt.
func NewRetry(maxAttempts int, backoffBase time.Duration) Retry {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return Retry{Attempt: 0, MaxAttempts: maxAttempts, BackoffBase: backoffBase}
}

// Next advances to the following attempt.
func (r Retry) Next() Retry {
	r.Attempt++
	return r
}

// Exhausted reports whether the retry budget has been spent.
func (r Retry) Exhausted() bool {
	return r.Attempt >= r.MaxAttempts
}

// Delay returns the exponential backoff before the current attempt:
// base * 2^(attempt-1), zero before the first attempt.
func (r Retry) Delay() time.Duration {
	if r.Attempt <= 0 {
		return 0
	}
	return r.BackoffBase << (r.Attempt - 1)
}
