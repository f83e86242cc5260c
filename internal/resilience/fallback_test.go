package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFallbackGroup_PrimarySucceeds(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "primary", FallbackConfig{})
	fg.AddFallback("fallback", "b")

	var tried []string
	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		tried = append(tried, v)
		return "ok:" + v, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok:a" || len(tried) != 1 {
		t.Errorf("got %q after %v, want ok:a after [a]", got, tried)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "primary", FallbackConfig{})
	fg.AddFallback("fallback", "b")

	var tried []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		tried = append(tried, v)
		if v == "a" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tried) != 2 || tried[1] != "b" {
		t.Errorf("tried = %v, want [a b]", tried)
	}
}

func TestFallbackGroup_AllFailWrapsLastError(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	fg.AddFallback("two", 2)

	last := errors.New("two is down")
	err := fg.Execute(context.Background(), func(_ context.Context, v int) error {
		if v == 2 {
			return last
		}
		return errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, last) {
		t.Errorf("err = %v, want it to wrap the last error", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("fallback", "b")

	calls := map[string]int{}
	fn := func(_ context.Context, v string) error {
		calls[v]++
		if v == "a" {
			return errTest
		}
		return nil
	}
	for range 3 {
		if err := fg.Execute(context.Background(), fn); err != nil {
			t.Fatal(err)
		}
	}
	if calls["a"] != 1 {
		t.Errorf("primary called %d times, want 1 (breaker opens after first failure)", calls["a"])
	}
	if calls["b"] != 3 {
		t.Errorf("fallback called %d times, want 3", calls["b"])
	}

	status := fg.Status()
	if len(status) != 2 || status[0].State != "open" || status[1].State != "closed" {
		t.Errorf("status = %+v", status)
	}
}

func TestFallbackGroup_StopsWhenContextDone(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "primary", FallbackConfig{})
	fg.AddFallback("fallback", "b")

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	err := fg.Execute(ctx, func(_ context.Context, v string) error {
		tried = append(tried, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
}
