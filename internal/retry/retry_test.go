package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func testPolicy(r *sleepRecorder) Policy {
	p := DefaultPolicy()
	p.Sleep = r.sleep
	return p
}

func TestDoSucceedsFirstTry(t *testing.T) {
	rec := &sleepRecorder{}
	res, n := Do(context.Background(), testPolicy(rec), func(int) Result {
		return Result{Outcome: Done}
	})
	if res.Outcome != Done || n != 1 {
		t.Fatalf("got %v after %d attempts", res.Outcome, n)
	}
	if len(rec.waits) != 0 {
		t.Fatalf("unexpected sleeps: %v", rec.waits)
	}
}

func TestDoLinearBackoff(t *testing.T) {
	rec := &sleepRecorder{}
	errBoom := errors.New("boom")
	res, n := Do(context.Background(), testPolicy(rec), func(int) Result {
		return Result{Outcome: Retry, Err: errBoom}
	})
	if n != 3 || !errors.Is(res.Err, errBoom) {
		t.Fatalf("got %+v after %d attempts", res, n)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", rec.waits, want)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", rec.waits, want)
		}
	}
}

func TestDoRateLimitBackoff(t *testing.T) {
	rec := &sleepRecorder{}
	res, n := Do(context.Background(), testPolicy(rec), func(int) Result {
		return Result{Outcome: RateLimited}
	})
	if res.Outcome != RateLimited || n != 3 {
		t.Fatalf("got %v after %d attempts", res.Outcome, n)
	}
	if rec.waits[0] != 30*time.Second || rec.waits[1] != 60*time.Second {
		t.Fatalf("waits = %v", rec.waits)
	}
}

func TestDoAbortStopsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	res, _ := Do(context.Background(), testPolicy(rec), func(int) Result {
		calls++
		return Result{Outcome: Abort}
	})
	if res.Outcome != Abort || calls != 1 {
		t.Fatalf("outcome %v, calls %d", res.Outcome, calls)
	}
}

func TestDoRecoversAfterRetry(t *testing.T) {
	rec := &sleepRecorder{}
	res, n := Do(context.Background(), testPolicy(rec), func(attempt int) Result {
		if attempt < 2 {
			return Result{Outcome: Retry}
		}
		return Result{Outcome: Done}
	})
	if res.Outcome != Done || n != 3 {
		t.Fatalf("got %v after %d attempts", res.Outcome, n)
	}
}

func TestDoCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := DefaultPolicy()
	res, n := Do(ctx, p, func(int) Result { return Result{Outcome: Retry} })
	if res.Outcome != Abort || !errors.Is(res.Err, context.Canceled) || n != 1 {
		t.Fatalf("got %+v after %d attempts", res, n)
	}
}
