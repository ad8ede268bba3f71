package calllog

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. Safe for concurrent use.
type MemStore struct {
	mu          sync.Mutex
	calls       map[string]Call
	transcripts map[string][]TranscriptEntry
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		calls:       make(map[string]Call),
		transcripts: make(map[string][]TranscriptEntry),
	}
}

// StartCall implements [Store].
func (m *MemStore) StartCall(_ context.Context, c Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[c.SessionID]; ok {
		return fmt.Errorf("calllog: start call: session %q already logged", c.SessionID)
	}
	c.Status = StatusInitiated
	m.calls[c.SessionID] = c
	return nil
}

// EndCall implements [Store].
func (m *MemStore) EndCall(_ context.Context, sessionID string, e End) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[sessionID]
	if !ok {
		return fmt.Errorf("calllog: end call %q: %w", sessionID, ErrNotFound)
	}
	c.Status = e.Status
	c.EndedAt = e.EndedAt
	c.Duration = e.Duration
	c.CostUSD = e.CostUSD
	m.calls[sessionID] = c
	return nil
}

// GetCall implements [Store].
func (m *MemStore) GetCall(_ context.Context, sessionID string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[sessionID]
	if !ok {
		return Call{}, fmt.Errorf("calllog: get call %q: %w", sessionID, ErrNotFound)
	}
	return c, nil
}

// WriteTranscript implements [Store].
func (m *MemStore) WriteTranscript(_ context.Context, e TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transcripts[e.SessionID] = append(m.transcripts[e.SessionID], e)
	return nil
}

// Transcript implements [Store].
func (m *MemStore) Transcript(_ context.Context, sessionID string) ([]TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := slices.Clone(m.transcripts[sessionID])
	slices.SortStableFunc(out, func(a, b TranscriptEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemStore) Ping(context.Context) error { return nil }

// Calls returns every logged call.
func (m *MemStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Call) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}
