package runner

import (
	"fmt"
	"testing"
	"time"

	biocore "github.com/goliatone/go-biocore"
)

type fixedDecisionStrategy struct {
	decision RetryDecision
}

func (f fixedDecisionStrategy) SleepDuration(int, error) time.Duration { return 0 }

func (f fixedDecisionStrategy) Decide(int, error) RetryDecision { return f.decision }

func TestDecideRetryUsesDeciderWhenAvailable(t *testing.T) {
	strategy := fixedDecisionStrategy{
		decision: RetryDecision{
			ShouldRetry: false,
			Delay:       25 * time.Millisecond,
			Metadata: map[string]any{
				"source": "test",
			},
		},
	}

	decision := DecideRetry(strategy, 1, fmt.Errorf("boom"))
	if decision.ShouldRetry {
		t.Fatal("expected strategy decision to disable retry")
	}
	if decision.Delay != 25*time.Millisecond {
		t.Fatalf("unexpected delay: %s", decision.Delay)
	}
	if decision.Metadata["source"] != "test" {
		t.Fatal("expected metadata propagation")
	}
}

func TestDecideRetryFallsBackToSleepDuration(t *testing.T) {
	strategy := ExponentialBackoffStrategy{
		Base:   10 * time.Millisecond,
		Factor: 2,
		Max:    100 * time.Millisecond,
	}
	decision := DecideRetry(strategy, 2, fmt.Errorf("flaky"))
	if !decision.ShouldRetry {
		t.Fatal("expected fallback strategy to retry")
	}
	if decision.Delay != 40*time.Millisecond {
		t.Fatalf("unexpected fallback delay: %s", decision.Delay)
	}
	if got := strategy.SleepDuration(10, nil); got != 100*time.Millisecond {
		t.Fatalf("expected cap at max, got %s", got)
	}
}

func TestDecideRetrySkipsDomainRejections(t *testing.T) {
	rejection := biocore.NewError(biocore.ErrConditionNotMet, "Tracking number required", nil, nil)
	if DecideRetry(NoDelayStrategy{}, 0, rejection).ShouldRetry {
		t.Fatal("guard failures must not be retried")
	}
	conflict := biocore.NewError(biocore.ErrVersionConflict, "stale", nil, nil)
	if !DecideRetry(NoDelayStrategy{}, 0, conflict).ShouldRetry {
		t.Fatal("version conflicts should be retried")
	}
}
