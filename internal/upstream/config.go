package upstream

import (
	"time"

	"rollcall/internal/fault"
)

// RetryPolicy controls retry behavior for roster source calls
type RetryPolicy struct {
	MaxAttempts int           // total attempts, first call included
	BaseBackoff time.Duration // delay before retry n is n*BaseBackoff
	MaxBackoff  time.Duration // upper bound on backoff
	JitterFn    func(time.Duration) time.Duration
	Retryable   func(error) bool // nil means fault.IsRetryable
}

// TimeoutPolicy bounds each individual upstream call
type TimeoutPolicy struct {
	SourceTimeout time.Duration
}

// HealthPolicy defines when the upstream is considered healthy or recovered
type HealthPolicy struct {
	FailureThreshold int //consecutive failures to mark unhealthy
	SuccessThreshold int //consecutive successes to mark healthy again
}

type Policy struct {
	Retry   RetryPolicy
	Timeout TimeoutPolicy
	Health  HealthPolicy
}

func DefaultPolicy() Policy {
	return Policy{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
			JitterFn:    func(d time.Duration) time.Duration { return d / 4 }, //default jitter:25%
			Retryable:   fault.IsRetryable,
		},
		Timeout: TimeoutPolicy{
			SourceTimeout: 20 * time.Second,
		},
		Health: HealthPolicy{
			FailureThreshold: 3,
			SuccessThreshold: 1,
		},
	}
}
