package session

import (
	"testing"
	"time"
)

// fixedClock returns a History whose clock advances by one second per
// insert starting at base.
func fixedClock(base time.Time) *History {
	h := NewHistory()
	n := 0
	h.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return h
}

func TestHistory_OrderedByTimestamp(t *testing.T) {
	t.Parallel()
	h := NewHistory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	h.Add(ChatMessage{Kind: KindAssistant, Content: "third", Timestamp: base.Add(2 * time.Second)})
	h.Add(ChatMessage{Kind: KindUser, Content: "first", Timestamp: base})
	h.Add(ChatMessage{Kind: KindSystem, Content: "second", Timestamp: base.Add(time.Second)})

	got := h.Snapshot()
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Errorf("msg[%d] = %q, want %q", i, got[i].Content, want)
		}
		if got[i].ID == "" {
			t.Errorf("msg[%d] has no ID", i)
		}
	}
}

func TestHistory_Stream(t *testing.T) {
	t.Parallel()
	h := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	first := h.Stream(KindAssistantStreaming, "Hel", false)
	second := h.Stream(KindAssistantStreaming, "Hello", false)
	if first.ID != second.ID {
		t.Fatal("streaming update created a new message")
	}
	if !second.Streaming || second.IsFinal {
		t.Errorf("open message = %+v, want streaming", second)
	}

	done := h.Stream(KindAssistantStreaming, "Hello!", true)
	if done.ID != first.ID || !done.IsFinal || done.Streaming {
		t.Errorf("final update = %+v", done)
	}

	next := h.Stream(KindAssistantStreaming, "Again", false)
	if next.ID == first.ID {
		t.Error("update after final reused the closed message")
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2", h.Len())
	}
}

func TestHistory_StreamKindsAreIndependent(t *testing.T) {
	t.Parallel()
	h := NewHistory()

	u := h.Stream(KindUserStreaming, "what", false)
	a := h.Stream(KindAssistantStreaming, "let me", false)
	u2 := h.Stream(KindUserStreaming, "what time", false)
	if u.ID != u2.ID || u.ID == a.ID {
		t.Error("user and assistant streams interfered")
	}
}

func TestHistory_Finalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "replaces streamed text", content: "Hello there", want: "Hello there"},
		{name: "keeps streamed text", content: "", want: "Hello th"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := NewHistory()
			h.Stream(KindAssistantStreaming, "Hello th", false)

			m, ok := h.Finalize(KindAssistantStreaming, tc.content)
			if !ok {
				t.Fatal("Finalize found no open message")
			}
			if m.Content != tc.want || !m.IsFinal || m.Streaming {
				t.Errorf("finalized = %+v, want final %q", m, tc.want)
			}
			if got := h.Snapshot()[0]; got.Content != tc.want {
				t.Errorf("stored content = %q, want %q", got.Content, tc.want)
			}
			if _, ok := h.Finalize(KindAssistantStreaming, ""); ok {
				t.Error("second Finalize found an open message")
			}
		})
	}
}

func TestHistory_Clear(t *testing.T) {
	t.Parallel()
	h := NewHistory()
	h.Add(ChatMessage{Kind: KindUser, Content: "hi"})
	h.Stream(KindAssistantStreaming, "hel", false)

	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Len after Clear = %d", h.Len())
	}
	if m := h.Stream(KindAssistantStreaming, "new", false); m.Content != "new" || h.Len() != 1 {
		t.Error("stream after Clear did not start a new message")
	}
}

func TestMessageKind_Speaker(t *testing.T) {
	t.Parallel()
	tests := map[MessageKind]string{
		KindUser:               "user",
		KindUserStreaming:      "user",
		KindAssistant:          "assistant",
		KindAssistantStreaming: "assistant",
		KindSystem:             "",
		KindAudio:              "",
		KindCallEnded:          "",
	}
	for kind, want := range tests {
		if got := kind.Speaker(); got != want {
			t.Errorf("%s.Speaker() = %q, want %q", kind, got, want)
		}
	}
}
