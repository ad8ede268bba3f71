// Package transport defines the signaling channel contract the session
// controller depends on. The channel is assumed ordered and reliable.
//
// Implementations deliver every inbound frame as a parsed [protocol.Inbound]
// on the Events channel. A failed channel delivers one
// [protocol.TransportFailure] and a cleanly closed one a [protocol.Closed]
// before Events is closed.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voicebridge/internal/protocol"
)

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is an open signaling channel to one assistant.
type Transport interface {
	// Send writes one outbound message.
	Send(ctx context.Context, msg protocol.Outbound) error

	// Events returns the inbound message stream. It is closed when the
	// channel ends for any reason.
	Events() <-chan protocol.Inbound

	// Connected reports whether Send can still succeed.
	Connected() bool

	// Close shuts the channel down. Safe to call more than once.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, assistantID string) (Transport, error)
}

// TransportError reports a signaling failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
