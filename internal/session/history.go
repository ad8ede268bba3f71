package session

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageKind tags a [ChatMessage].
type MessageKind string

const (
	KindAudio              MessageKind = "audio"
	KindText               MessageKind = "text"
	KindUser               MessageKind = "user"
	KindAssistant          MessageKind = "assistant"
	KindUserStreaming      MessageKind = "user_streaming"
	KindAssistantStreaming MessageKind = "assistant_streaming"
	KindSystem             MessageKind = "system"
	KindError              MessageKind = "error"
	KindCallEnded          MessageKind = "call_ended"
)

// Streaming reports whether k is a streaming variant.
func (k MessageKind) Streaming() bool {
	return k == KindUserStreaming || k == KindAssistantStreaming
}

// Speaker returns "user", "assistant" or "" for kinds without a speaker.
func (k MessageKind) Speaker() string {
	switch k {
	case KindUser, KindUserStreaming:
		return "user"
	case KindAssistant, KindAssistantStreaming:
		return "assistant"
	default:
		return ""
	}
}

// ChatMessage is one line of the chat transcript.
type ChatMessage struct {
	ID        string
	Kind      MessageKind
	Content   string
	Timestamp time.Time

	// IsFinal marks a streaming message that will not change again.
	IsFinal bool

	// Streaming is true while a streaming message is still being updated.
	Streaming bool
}

// History is the timestamp-ordered chat transcript. Every insert re-sorts,
// so readers always see non-decreasing timestamps. Safe for concurrent use.
type History struct {
	mu   sync.Mutex
	msgs []ChatMessage
	open map[MessageKind]string // streaming kind -> ID of the open message
	now  func() time.Time
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{open: make(map[MessageKind]string), now: time.Now}
}

// Add appends m and re-sorts. A missing ID or timestamp is filled in. The
// stored message is returned.
func (h *History) Add(m ChatMessage) ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.insertLocked(m)
}

func (h *History) insertLocked(m ChatMessage) ChatMessage {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = h.now()
	}
	h.msgs = append(h.msgs, m)
	slices.SortStableFunc(h.msgs, func(a, b ChatMessage) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return m
}

// Stream applies a streaming update of kind (user_streaming or
// assistant_streaming). The open message of that kind is updated in place;
// if none is open a new one is created. A final update closes the message so
// the next update starts a new one. The updated message is returned.
func (h *History) Stream(kind MessageKind, content string, final bool) ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id, ok := h.open[kind]; ok {
		for i := range h.msgs {
			if h.msgs[i].ID != id {
				continue
			}
			h.msgs[i].Content = content
			h.msgs[i].Streaming = !final
			h.msgs[i].IsFinal = final
			if final {
				delete(h.open, kind)
			}
			return h.msgs[i]
		}
		delete(h.open, kind)
	}

	m := h.insertLocked(ChatMessage{
		Kind:      kind,
		Content:   content,
		Streaming: !final,
		IsFinal:   final,
	})
	if !final {
		h.open[kind] = m.ID
	}
	return m
}

// Finalize closes the open streaming message of kind, if any, and returns
// it. A non-empty content replaces the streamed text.
func (h *History) Finalize(kind MessageKind, content string) (ChatMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, ok := h.open[kind]
	if !ok {
		return ChatMessage{}, false
	}
	delete(h.open, kind)
	for i := range h.msgs {
		if h.msgs[i].ID == id {
			if content != "" {
				h.msgs[i].Content = content
			}
			h.msgs[i].Streaming = false
			h.msgs[i].IsFinal = true
			return h.msgs[i], true
		}
	}
	return ChatMessage{}, false
}

// Snapshot returns a copy of the transcript in timestamp order.
func (h *History) Snapshot() []ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.msgs)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Clear removes every message.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
	clear(h.open)
}
