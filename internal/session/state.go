package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when a lifecycle transition is not allowed
// from the current phase.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// Phase is the lifecycle position of a chat session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseInitializing
	PhaseConnected
	PhaseError
	PhaseClosed
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseInitializing:
		return "initializing"
	case PhaseConnected:
		return "connected"
	case PhaseError:
		return "error"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// transitions lists the phases reachable from each phase. Error and closed
// are reachable from everywhere; leaving them requires a new session start.
var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseConnecting},
	PhaseConnecting:   {PhaseInitializing, PhaseConnected},
	PhaseInitializing: {PhaseConnected},
	PhaseConnected:    {},
	PhaseError:        {PhaseIdle, PhaseConnecting},
	PhaseClosed:       {PhaseIdle, PhaseConnecting},
}

func allowed(from, to Phase) bool {
	if to == PhaseError || to == PhaseClosed {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// ConnectionState is the observable view of a session's lifecycle. It is
// derived from the phase, so Connected and Connecting are never both true and
// Initializing implies !Connected.
type ConnectionState struct {
	Phase        Phase
	Connected    bool
	Connecting   bool
	Initializing bool

	// Error is the human-readable failure message, empty unless Phase is
	// PhaseError.
	Error string
}

func stateFor(p Phase, msg string) ConnectionState {
	s := ConnectionState{
		Phase:        p,
		Connected:    p == PhaseConnected,
		Connecting:   p == PhaseConnecting,
		Initializing: p == PhaseInitializing,
	}
	if p == PhaseError {
		s.Error = msg
	}
	return s
}

// subscriberBuffer is the per-subscriber channel capacity. A slow subscriber
// loses the oldest states, never the newest.
const subscriberBuffer = 16

// Machine is the connection state machine. It is safe for concurrent use;
// the session controller is its only writer.
type Machine struct {
	mu           sync.Mutex
	phase        Phase
	errMsg       string
	subs         map[int]chan ConnectionState
	nextSub      int
	onTransition func(from, to Phase)
}

// NewMachine returns a machine in [PhaseIdle].
func NewMachine() *Machine {
	return &Machine{subs: make(map[int]chan ConnectionState)}
}

// OnTransition registers fn to be called after every successful transition.
// fn is called with the machine lock held and must not call back into it.
func (m *Machine) OnTransition(fn func(from, to Phase)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// Current returns the current state.
func (m *Machine) Current() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return stateFor(m.phase, m.errMsg)
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Transition moves to phase to. msg is recorded only for [PhaseError].
// Moving to the current phase is a no-op for [PhaseClosed] and updates the
// message for [PhaseError]; any other disallowed move returns
// [ErrInvalidTransition].
func (m *Machine) Transition(to Phase, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.phase
	if from == to && to == PhaseClosed {
		return nil
	}
	if !allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.phase = to
	m.errMsg = ""
	if to == PhaseError {
		m.errMsg = msg
	}
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	m.publishLocked(stateFor(to, m.errMsg))
	return nil
}

// Subscribe returns a channel that receives every new state and a cancel
// function that unregisters and closes it.
func (m *Machine) Subscribe() (<-chan ConnectionState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan ConnectionState, subscriberBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *Machine) publishLocked(s ConnectionState) {
	for _, ch := range m.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Full: drop the oldest state to make room for the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
