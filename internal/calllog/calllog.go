// Package calllog records one row per chat session (start, end, duration and
// cost) plus the final transcript lines spoken in it.
//
// Two [Store] implementations exist: [MemStore] for tests and runs without a
// database, and postgres.Store backed by PostgreSQL through pgx.
package calllog

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNotFound is returned when a session ID has no call log.
var ErrNotFound = errors.New("calllog: call not found")

// DefaultCostPerMinute is the per-minute call price in USD.
const DefaultCostPerMinute = 0.01

// Status is the lifecycle status of a logged call.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DirectionWeb marks calls placed from this client.
const DirectionWeb = "web"

// Call is one logged call.
type Call struct {
	SessionID      string
	AssistantID    string
	OrganizationID string
	Direction      string
	Status         Status
	StartedAt      time.Time
	EndedAt        time.Time
	Duration       time.Duration
	CostUSD        float64
}

// End carries the fields written when a call finishes.
type End struct {
	Status   Status
	EndedAt  time.Time
	Duration time.Duration
	CostUSD  float64
}

// TranscriptEntry is one final chat line.
type TranscriptEntry struct {
	SessionID string
	Speaker   string
	Text      string
	Timestamp time.Time
}

// Store persists call logs and transcripts.
type Store interface {
	// StartCall inserts a new call with [StatusInitiated].
	StartCall(ctx context.Context, c Call) error

	// EndCall completes the call identified by sessionID.
	EndCall(ctx context.Context, sessionID string, e End) error

	// GetCall returns the call identified by sessionID or [ErrNotFound].
	GetCall(ctx context.Context, sessionID string) (Call, error)

	// WriteTranscript appends one transcript entry.
	WriteTranscript(ctx context.Context, e TranscriptEntry) error

	// Transcript returns the entries of sessionID in timestamp order.
	Transcript(ctx context.Context, sessionID string) ([]TranscriptEntry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Cost prices a call of duration d at perMinute USD, pro rata by the second.
func Cost(d time.Duration, perMinute float64) float64 {
	secs := math.Floor(d.Seconds())
	if secs <= 0 {
		return 0
	}
	return secs / 60 * perMinute
}
