// Package ws implements [transport.Transport] over a WebSocket using
// github.com/coder/websocket.
//
// The signaling endpoint is
//
//	{base}/api/v1/webrtc/signaling/{assistantID}?organization_id={org}
//
// and a {"type":"ready"} message is sent as soon as the socket opens.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicebridge/internal/protocol"
	"github.com/MrWong99/voicebridge/internal/transport"
)

// Compile-time interface assertions.
var (
	_ transport.Dialer    = (*Dialer)(nil)
	_ transport.Transport = (*Conn)(nil)
)

const (
	signalingPath = "/api/v1/webrtc/signaling/"

	// eventBuffer is the capacity of the inbound event channel.
	eventBuffer = 64

	// readLimit caps one inbound frame. Audio chunks are a few tens of KiB.
	readLimit = 4 << 20
)

// Option configures a [Dialer].
type Option func(*Dialer)

// WithOrganizationID sets the organization_id query parameter.
func WithOrganizationID(id string) Option {
	return func(d *Dialer) { d.orgID = id }
}

// WithHeader adds an HTTP header sent with the upgrade request.
func WithHeader(key, value string) Option {
	return func(d *Dialer) { d.header.Add(key, value) }
}

// WithParser overrides how inbound frames are parsed.
func WithParser(p protocol.Parser) Option {
	return func(d *Dialer) { d.parser = p }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) {
		if l != nil {
			d.log = l
		}
	}
}

// Dialer opens signaling connections to one backend.
type Dialer struct {
	baseURL string
	orgID   string
	header  http.Header
	parser  protocol.Parser
	log     *slog.Logger
}

// NewDialer creates a [Dialer] for baseURL. http and https base URLs are
// mapped to ws and wss.
func NewDialer(baseURL string, opts ...Option) *Dialer {
	d := &Dialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  http.Header{},
		parser:  protocol.DefaultParser,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// URL returns the signaling URL for assistantID.
func (d *Dialer) URL(assistantID string) (string, error) {
	u, err := url.Parse(d.baseURL + signalingPath + url.PathEscape(assistantID))
	if err != nil {
		return "", fmt.Errorf("ws: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("ws: unsupported url scheme %q", u.Scheme)
	}
	if d.orgID != "" {
		q := u.Query()
		q.Set("organization_id", d.orgID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects to the signaling endpoint of assistantID and sends the ready
// handshake. Failures are returned as [*transport.TransportError].
func (d *Dialer) Dial(ctx context.Context, assistantID string) (transport.Transport, error) {
	if assistantID == "" {
		return nil, &transport.TransportError{Op: "dial", Err: errors.New("empty assistant id")}
	}
	target, err := d.URL(assistantID)
	if err != nil {
		return nil, &transport.TransportError{Op: "dial", Err: err}
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: d.header})
	if err != nil {
		return nil, &transport.TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		conn:   conn,
		parser: d.parser,
		log:    d.log.With("assistant_id", assistantID),
		events: make(chan protocol.Inbound, eventBuffer),
		ctx:    connCtx,
		cancel: cancel,
	}
	c.connected.Store(true)

	if err := c.Send(ctx, protocol.Ready()); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "ready handshake failed")
		return nil, err
	}

	go c.receiveLoop()
	c.log.Debug("ws: signaling connected", "url", target)
	return c, nil
}

// Conn is an open signaling WebSocket.
type Conn struct {
	conn   *websocket.Conn
	parser protocol.Parser
	log    *slog.Logger
	events chan protocol.Inbound

	connected atomic.Bool
	closing   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Send marshals msg and writes it as a text frame.
func (c *Conn) Send(ctx context.Context, msg protocol.Outbound) error {
	if !c.connected.Load() {
		return transport.ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", msg.Kind(), err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &transport.TransportError{Op: "send " + msg.Kind(), Err: err}
	}
	return nil
}

// Events implements [transport.Transport].
func (c *Conn) Events() <-chan protocol.Inbound { return c.events }

// Connected implements [transport.Transport].
func (c *Conn) Connected() bool { return c.connected.Load() }

// Close closes the socket with a normal closure. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.connected.Store(false)
		err = c.conn.Close(websocket.StatusNormalClosure, "client hangup")
		c.cancel()
		if err != nil && (errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1) {
			err = nil
		}
	})
	return err
}

// receiveLoop reads frames until the socket ends. It owns events and closes
// it on exit.
func (c *Conn) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.connected.Store(false)
			if c.closing.Load() || c.ctx.Err() != nil {
				return
			}
			c.emit(c.endEvent(err))
			return
		}

		msg, err := c.parser.Parse(data)
		if err != nil {
			c.log.Warn("ws: dropping unparseable frame", "err", err)
			continue
		}
		c.emit(msg)
	}
}

func (c *Conn) endEvent(err error) protocol.Inbound {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		var ce websocket.CloseError
		errors.As(err, &ce)
		return protocol.Closed{Reason: ce.Reason}
	default:
		return protocol.TransportFailure{Err: &transport.TransportError{Op: "read", Err: err}}
	}
}

func (c *Conn) emit(msg protocol.Inbound) {
	select {
	case c.events <- msg:
	case <-c.ctx.Done():
	}
}
