package retry

import (
	"context"
	"time"
)

// Outcome tags the result of one attempt and selects the backoff policy.
type Outcome int

const (
	Done Outcome = iota
	Retry
	RateLimited
	Abort
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case RateLimited:
		return "rate_limited"
	case Abort:
		return "abort"
	}
	return "unknown"
}

// Result is what an attempt reports back to the loop.
type Result struct {
	Outcome Outcome
	Err     error
}

type Policy struct {
	MaxAttempts int
	// Delay and RateLimitDelay grow linearly: delay × (attempt+1).
	Delay          time.Duration
	RateLimitDelay time.Duration
	// Sleep is swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Delay:          2 * time.Second,
		RateLimitDelay: 30 * time.Second,
		Sleep:          Sleep,
	}
}

// Backoff returns the pause after the zero-based attempt.
func (p Policy) Backoff(o Outcome, attempt int) time.Duration {
	base := p.Delay
	if o == RateLimited {
		base = p.RateLimitDelay
	}
	return base * time.Duration(attempt+1)
}

// Do runs fn until it reports Done or Abort, the attempt ceiling is hit or
// ctx is cancelled. No pause follows the final attempt. The last Result is
// returned together with the number of attempts made.
func Do(ctx context.Context, p Policy, fn func(attempt int) Result) (Result, int) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var last Result
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		last = fn(attempt)
		if last.Outcome == Done || last.Outcome == Abort {
			return last, attempt + 1
		}
		if attempt == p.MaxAttempts-1 {
			return last, attempt + 1
		}
		if err := sleep(ctx, p.Backoff(last.Outcome, attempt)); err != nil {
			return Result{Outcome: Abort, Err: err}, attempt + 1
		}
	}
	return last, p.MaxAttempts
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
