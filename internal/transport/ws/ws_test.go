package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicebridge/internal/protocol"
	"github.com/MrWong99/voicebridge/internal/transport"
	"github.com/MrWong99/voicebridge/internal/transport/ws"
	"github.com/MrWong99/voicebridge/pkg/audio"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// startServer launches a test signaling server. The handler receives the
// accepted conn. The server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeRaw sends s as a text frame.
func writeRaw(t *testing.T, conn *websocket.Conn, s string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		t.Logf("writeRaw: %v (may be expected on close)", err)
	}
}

func nextEvent(t *testing.T, tr transport.Transport) protocol.Inbound {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDialer_URL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, org, want string
	}{
		{"http://localhost:8000", "org-1", "ws://localhost:8000/api/v1/webrtc/signaling/a1?organization_id=org-1"},
		{"https://api.example.com/", "", "wss://api.example.com/api/v1/webrtc/signaling/a1"},
		{"ws://h", "o", "ws://h/api/v1/webrtc/signaling/a1?organization_id=o"},
	}
	for _, tc := range tests {
		got, err := ws.NewDialer(tc.base, ws.WithOrganizationID(tc.org)).URL("a1")
		if err != nil {
			t.Fatalf("URL(%q): %v", tc.base, err)
		}
		if got != tc.want {
			t.Errorf("URL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}

	if _, err := ws.NewDialer("ftp://h").URL("a1"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestDial_SendsReadyAndRoutesMessages(t *testing.T) {
	t.Parallel()

	gotPath := make(chan string, 1)
	gotFirst := make(chan map[string]any, 1)
	gotSecond := make(chan map[string]any, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotPath <- r.URL.Path + "?" + r.URL.RawQuery

		var ready map[string]any
		readJSON(t, conn, &ready)
		gotFirst <- ready

		writeRaw(t, conn, `{"type":"pipeline_ready"}`)
		writeRaw(t, conn, `not json`)
		writeRaw(t, conn, `{"type":"audio","data":"AAA=","format":"ulaw_8000"}`)

		var text map[string]any
		readJSON(t, conn, &text)
		gotSecond <- text

		<-conn.CloseRead(context.Background()).Done()
	})

	d := ws.NewDialer(srv.URL, ws.WithOrganizationID("org-9"))
	tr, err := d.Dial(context.Background(), "asst-1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	if p := <-gotPath; p != "/api/v1/webrtc/signaling/asst-1?organization_id=org-9" {
		t.Errorf("path = %q", p)
	}
	if ready := <-gotFirst; ready["type"] != "ready" {
		t.Errorf("first message = %v, want type ready", ready)
	}

	if _, ok := nextEvent(t, tr).(protocol.PipelineReady); !ok {
		t.Error("expected PipelineReady")
	}
	// The malformed frame is dropped; the audio frame follows.
	ev := nextEvent(t, tr)
	a, ok := ev.(protocol.AudioMsg)
	if !ok || a.Chunk.Format != audio.FormatULaw8K {
		t.Errorf("event = %#v, want ulaw AudioMsg", ev)
	}

	if err := tr.Send(context.Background(), protocol.Text("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m := <-gotSecond; m["type"] != "text" || m["content"] != "hi" {
		t.Errorf("server received %v", m)
	}
}

func TestConn_RemoteCloseEmitsClosed(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var ready map[string]any
		readJSON(t, conn, &ready)
		conn.Close(websocket.StatusNormalClosure, "call over")
	})

	tr, err := ws.NewDialer(srv.URL).Dial(context.Background(), "a")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	ev := nextEvent(t, tr)
	c, ok := ev.(protocol.Closed)
	if !ok {
		t.Fatalf("event = %#v, want Closed", ev)
	}
	if c.Reason != "call over" {
		t.Errorf("Reason = %q, want %q", c.Reason, "call over")
	}
	if tr.Connected() {
		t.Error("Connected() = true after remote close")
	}
	if _, ok := <-tr.Events(); ok {
		t.Error("events channel not closed")
	}
}

func TestConn_AbnormalCloseEmitsFailure(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var ready map[string]any
		readJSON(t, conn, &ready)
		conn.Close(websocket.StatusInternalError, "boom")
	})

	tr, err := ws.NewDialer(srv.URL).Dial(context.Background(), "a")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	ev := nextEvent(t, tr)
	f, ok := ev.(protocol.TransportFailure)
	if !ok {
		t.Fatalf("event = %#v, want TransportFailure", ev)
	}
	var te *transport.TransportError
	if !errors.As(f.Err, &te) {
		t.Errorf("Err = %v, want *TransportError", f.Err)
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	tr, err := ws.NewDialer(srv.URL).Dial(context.Background(), "a")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := tr.Send(context.Background(), protocol.Text("x")); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	select {
	case _, ok := <-tr.Events():
		if ok {
			t.Error("unexpected event after local close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

func TestDial_Failure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := ws.NewDialer(srv.URL).Dial(context.Background(), "a")
	var te *transport.TransportError
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Fatalf("err = %v, want dial *TransportError", err)
	}

	_, err = ws.NewDialer("ws://" + strings.TrimPrefix(srv.URL, "http://")).Dial(context.Background(), "")
	if !errors.As(err, &te) {
		t.Errorf("empty assistant id err = %v, want *TransportError", err)
	}
}
