// Package mock provides in-memory [transport.Transport] and
// [transport.Dialer] implementations for unit tests.
//
// Tests inject inbound messages with [Transport.Inject] and inspect what the
// code under test sent through [Transport.Sent].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicebridge/internal/protocol"
	"github.com/MrWong99/voicebridge/internal/transport"
)

// Compile-time interface assertions.
var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Dialer    = (*Dialer)(nil)
)

// ─── Transport ────────────────────────────────────────────────────────────────

// Transport is a mock [transport.Transport].
type Transport struct {
	mu     sync.Mutex
	events chan protocol.Inbound
	sent   []protocol.Outbound
	closed bool

	// SendError is returned by Send when non-nil.
	SendError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewTransport creates an open mock transport.
func NewTransport() *Transport {
	return &Transport{events: make(chan protocol.Inbound, 256)}
}

// Send implements [transport.Transport].
func (t *Transport) Send(_ context.Context, msg protocol.Outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.SendError != nil {
		return t.SendError
	}
	t.sent = append(t.sent, msg)
	return nil
}

// Events implements [transport.Transport].
func (t *Transport) Events() <-chan protocol.Inbound { return t.events }

// Connected implements [transport.Transport].
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Close implements [transport.Transport]. Closes the event channel once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountClose++
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}

// Inject delivers msg as if it arrived from the remote side. It reports false
// when the transport is closed.
func (t *Transport) Inject(msg protocol.Inbound) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.events <- msg
	return true
}

// Sent returns a copy of every message sent so far.
func (t *Transport) Sent() []protocol.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Outbound(nil), t.sent...)
}

// SentKind returns the sent messages whose [protocol.Outbound.Kind] is kind.
func (t *Transport) SentKind(kind string) []protocol.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []protocol.Outbound
	for _, m := range t.sent {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer is a mock [transport.Dialer].
type Dialer struct {
	mu sync.Mutex

	// DialError is returned by Dial when non-nil.
	DialError error

	// DialDelay blocks Dial for the given duration or until ctx is done.
	DialDelay time.Duration

	// DialCalls records the assistant IDs passed to Dial.
	DialCalls []string

	// Dialed records every transport handed out.
	Dialed []*Transport
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, assistantID string) (transport.Transport, error) {
	d.mu.Lock()
	d.DialCalls = append(d.DialCalls, assistantID)
	delay := d.DialDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &transport.TransportError{Op: "dial", Err: ctx.Err()}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialError != nil {
		return nil, d.DialError
	}
	t := NewTransport()
	d.Dialed = append(d.Dialed, t)
	return t, nil
}

// Last returns the most recently dialed transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Dialed) == 0 {
		return nil
	}
	return d.Dialed[len(d.Dialed)-1]
}
