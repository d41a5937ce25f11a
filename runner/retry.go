package runner

import (
	"math"
	"time"
)

// RetryStrategy encapsulates the delay between retries.
type RetryStrategy interface {
	// SleepDuration returns how long to wait before the next attempt.
	// The attempt index starts at 0, incrementing after each failure.
	SleepDuration(attempt int, err error) time.Duration
}

// RetryDecision is the outcome of a retry policy for one failure.
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
	Metadata    map[string]any
}

// RetryDecider lets a strategy veto retries for specific failures.
type RetryDecider interface {
	Decide(attempt int, err error) RetryDecision
}

// DecideRetry asks strategy for a decision, falling back to Retryable and
// SleepDuration when the strategy is not a RetryDecider.
func DecideRetry(strategy RetryStrategy, attempt int, err error) RetryDecision {
	if decider, ok := strategy.(RetryDecider); ok {
		return decider.Decide(attempt, err)
	}
	decision := RetryDecision{ShouldRetry: err == nil || Retryable(err)}
	if strategy != nil {
		decision.Delay = strategy.SleepDuration(attempt, err)
	}
	return decision
}

// NoDelayStrategy retries immediately.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	return 0
}

// ExponentialBackoffStrategy grows the delay by Factor per attempt, capped at Max.
//
//	WithRetryStrategy(ExponentialBackoffStrategy{
//	    Base:   100 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	})
type ExponentialBackoffStrategy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(e.Base) * math.Pow(factor, float64(attempt))
	if e.Max > 0 && time.Duration(delay) > e.Max {
		return e.Max
	}
	return time.Duration(delay)
}
