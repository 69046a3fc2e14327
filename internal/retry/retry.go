// Package retry holds pure functions implementing the bet retry policy
// (§3.5, §4.1): exponential backoff with a cap, and the retry-budget check
// that decides whether a failure is retryable or terminal.
package retry

import "time"

// Policy is the bet-side retry policy (MAX_RETRIES / BACKOFF_BASE_MS / BACKOFF_MAX_MS).
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

// DefaultPolicy matches the spec's defaults: 5 retries, 2s base, 60s cap.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 5, Base: 2 * time.Second, Max: 60 * time.Second}
}

// Backoff returns the delay before the n-th retry attempt (n is the
// post-increment retry count, n >= 1): min(base * 2^(n-1), max).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Exhausted reports whether the post-increment retry count has exceeded the
// configured budget, forcing a terminal FailedManualReview transition.
func (p Policy) Exhausted(newRetryCount int) bool {
	return newRetryCount > p.MaxRetries
}

// SettlementPolicy is the coarser, external-service-side retry policy used
// by the settlement worker (§3.5): at most 3 attempts, n*5s backoff.
type SettlementPolicy struct {
	MaxRetries int
	Unit       time.Duration
}

// DefaultSettlementPolicy matches §4.3: ≤3 retries, n·5s.
func DefaultSettlementPolicy() SettlementPolicy {
	return SettlementPolicy{MaxRetries: 3, Unit: 5 * time.Second}
}

// Backoff returns the delay before the n-th settlement retry attempt.
func (p SettlementPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * p.Unit
}

// Permanent reports whether the post-increment retry count has reached the
// settlement-side terminal threshold.
func (p SettlementPolicy) Permanent(newRetryCount int) bool {
	return newRetryCount >= p.MaxRetries
}

// CompletionBackoff is the unbounded-retry schedule for the critical
// completion loop (§4.3 step 5): 1s, 2s, 4s, ... capped at 60s.
func CompletionBackoff(attempt int) time.Duration {
	base := time.Second
	max := 60 * time.Second
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		d = max
	}
	return d
}
