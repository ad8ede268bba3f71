package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errDevice  = errors.New("device refused buffer")
	errNeutral = errors.New("cancelled by caller")
)

// step is one Execute call in a breaker scenario.
type step struct {
	err       error         // returned by fn
	sleep     time.Duration // slept before the call
	wantErr   error         // expected Execute result
	wantRan   bool          // whether fn must run
	wantState State         // state after the call
}

func TestCircuitBreaker_Scenarios(t *testing.T) {
	t.Parallel()

	const reset = 20 * time.Millisecond
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "successes keep it closed",
			steps: []step{
				{wantRan: true, wantState: StateClosed},
				{wantRan: true, wantState: StateClosed},
			},
		},
		{
			name: "consecutive failures open it",
			steps: []step{
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateOpen},
				{wantErr: ErrCircuitOpen, wantState: StateOpen},
			},
		},
		{
			name: "success resets the failure streak",
			steps: []step{
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
			},
		},
		{
			name: "neutral errors never trip",
			steps: []step{
				{err: errNeutral, wantErr: errNeutral, wantRan: true, wantState: StateClosed},
				{err: errNeutral, wantErr: errNeutral, wantRan: true, wantState: StateClosed},
				{err: errNeutral, wantErr: errNeutral, wantRan: true, wantState: StateClosed},
				{err: errNeutral, wantErr: errNeutral, wantRan: true, wantState: StateClosed},
			},
		},
		{
			name: "probes close it again",
			steps: []step{
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateOpen},
				{sleep: 2 * reset, wantRan: true, wantState: StateHalfOpen},
				{wantRan: true, wantState: StateClosed},
				{wantRan: true, wantState: StateClosed},
			},
		},
		{
			name: "failed probe re-opens it",
			steps: []step{
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateClosed},
				{err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateOpen},
				{sleep: 2 * reset, err: errDevice, wantErr: errDevice, wantRan: true, wantState: StateOpen},
				{wantErr: ErrCircuitOpen, wantState: StateOpen},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				Name:         "speaker",
				MaxFailures:  3,
				ResetTimeout: reset,
				HalfOpenMax:  2,
				IsFailure:    func(err error) bool { return err != nil && !errors.Is(err, errNeutral) },
			})
			for i, s := range tc.steps {
				time.Sleep(s.sleep)
				ran := false
				err := cb.Execute(func() error {
					ran = true
					return s.err
				})
				if !errors.Is(err, s.wantErr) {
					t.Fatalf("step %d: err = %v, want %v", i, err, s.wantErr)
				}
				if ran != s.wantRan {
					t.Fatalf("step %d: fn ran = %v, want %v", i, ran, s.wantRan)
				}
				if got := cb.State(); got != s.wantState {
					t.Fatalf("step %d: state = %s, want %s", i, got, s.wantState)
				}
			}
		})
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%s/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1})
	_ = cb.Execute(func() error { return errDevice })
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(func() error {
			<-release
			return nil
		})
	}()

	// Wait for the probe to occupy the only slot.
	deadline := time.Now().Add(time.Second)
	for {
		cb.mu.Lock()
		busy := cb.halfOpenCalls == 1
		cb.mu.Unlock()
		if busy || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()
	if cb.State() != StateClosed {
		t.Errorf("state after successful probe = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	var got []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "speaker",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errDevice })
	time.Sleep(20 * time.Millisecond)
	_ = cb.Execute(func() error { return nil })

	want := []string{"speaker:closed->open", "speaker:open->half-open", "speaker:half-open->closed"}
	if len(got) != len(want) {
		t.Fatalf("state changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
