package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("secondary", "secondary")

	var called string
	name, err := fg.Execute(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" || name != "primary" {
		t.Fatalf("called = %q, name = %q, want primary", called, name)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("secondary", "secondary")

	var calls []string
	name, err := fg.Execute(func(v string) error {
		calls = append(calls, v)
		if v == "primary" {
			return errDevice
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "secondary" || len(calls) != 2 {
		t.Fatalf("name = %q, calls = %v", name, calls)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("secondary", "secondary")

	_, err := fg.Execute(func(string) error { return errDevice })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errDevice) {
		t.Errorf("err = %v, want last failure wrapped", err)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenBackend(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fg.AddFallback("secondary", "secondary")

	for range 2 {
		_, _ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errDevice
			}
			return nil
		})
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Fatal("primary breaker should be open")
	}

	var called []string
	_, err := fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want only secondary", called)
	}
}

func TestFallbackGroup_NeutralErrorStopsWalk(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			IsFailure: func(err error) bool { return !errors.Is(err, context.Canceled) },
		},
	})
	fg.AddFallback("secondary", "secondary")

	var called []string
	_, err := fg.Execute(func(v string) error {
		called = append(called, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want primary only", called)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	fg := NewFallbackGroup(1, "speaker", FallbackConfig{})
	fg.AddFallback("tone", 2)
	if got := fg.Names(); len(got) != 2 || got[0] != "speaker" || got[1] != "tone" {
		t.Errorf("Names = %v", got)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker(missing) should be nil")
	}
}
