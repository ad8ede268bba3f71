// Package mock provides in-memory implementations of the [device.Source],
// [device.Stream], and [device.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts, timing and arguments, and expose exported fields that
// control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(16000)
//	src := &mock.Source{OpenResult: stream}
//	player := &mock.Player{Duration: 20 * time.Millisecond}
//	stream.Push(make([]float32, 4096))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.Source = (*Source)(nil)
	_ device.Stream = (*Stream)(nil)
	_ device.Player = (*Player)(nil)
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [device.Stream] whose samples the test pushes.
type Stream struct {
	mu     sync.Mutex
	ch     chan []float32
	rate   int
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream creates a Stream delivering blocks at rate Hz. The sample
// channel is buffered for 64 blocks.
func NewStream(rate int) *Stream {
	return &Stream{ch: make(chan []float32, 64), rate: rate}
}

// Samples implements [device.Stream].
func (s *Stream) Samples() <-chan []float32 { return s.ch }

// SampleRate implements [device.Stream].
func (s *Stream) SampleRate() int { return s.rate }

// Push delivers one block. It reports false if the stream is closed.
func (s *Stream) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- block
	return true
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements [device.Stream]. Closes the sample channel once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [device.Source].
type Source struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil a fresh 16 kHz [Stream] is
	// created per call and appended to Opened.
	OpenResult *Stream

	// OpenError is returned by Open when non-nil.
	OpenError error

	// OpenDelay blocks Open for the given duration (or until ctx is done).
	OpenDelay time.Duration

	// OpenCalls records the constraints of every Open call.
	OpenCalls []device.Constraints

	// Opened records every stream handed out.
	Opened []*Stream
}

// Open implements [device.Source].
func (s *Source) Open(ctx context.Context, c device.Constraints) (device.Stream, error) {
	s.mu.Lock()
	s.OpenCalls = append(s.OpenCalls, c)
	delay := s.OpenDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	st := s.OpenResult
	if st == nil {
		st = NewStream(16000)
	}
	s.Opened = append(s.Opened, st)
	return st, nil
}

// LastStream returns the most recently opened stream, or nil.
func (s *Source) LastStream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Opened) == 0 {
		return nil
	}
	return s.Opened[len(s.Opened)-1]
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayRecord captures one Play invocation.
type PlayRecord struct {
	Buffer   audio.Buffer
	Start    time.Time
	End      time.Time
	Canceled bool
}

// Player is a mock [device.Player]. Each Play blocks for Duration (or until
// Release is called when Gate is true), then records start/end times.
type Player struct {
	mu sync.Mutex

	// Duration is how long each Play blocks. Zero returns immediately.
	Duration time.Duration

	// Gate makes Play block until [Player.Release] is called or ctx is done.
	Gate bool

	// PlayError is returned by Play without playing when non-nil.
	PlayError error

	// Records holds every completed or cancelled Play, in start order.
	Records []PlayRecord

	release chan struct{}
	started chan struct{}
}

func (p *Player) init() {
	if p.release == nil {
		p.release = make(chan struct{}, 64)
	}
	if p.started == nil {
		p.started = make(chan struct{}, 64)
	}
}

// Started returns a channel that receives once per Play start.
func (p *Player) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	return p.started
}

// Release lets one gated Play complete naturally.
func (p *Player) Release() {
	p.mu.Lock()
	p.init()
	ch := p.release
	p.mu.Unlock()
	ch <- struct{}{}
}

// Play implements [device.Player].
func (p *Player) Play(ctx context.Context, buf audio.Buffer) error {
	p.mu.Lock()
	p.init()
	if p.PlayError != nil {
		err := p.PlayError
		p.mu.Unlock()
		return err
	}
	d, gate, release, started := p.Duration, p.Gate, p.release, p.started
	p.mu.Unlock()

	rec := PlayRecord{Buffer: buf, Start: time.Now()}
	select {
	case started <- struct{}{}:
	default:
	}

	var err error
	switch {
	case gate:
		select {
		case <-release:
		case <-ctx.Done():
			err = ctx.Err()
		}
	case d > 0:
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		}
	default:
		err = ctx.Err()
	}

	rec.End = time.Now()
	rec.Canceled = err != nil
	p.mu.Lock()
	p.Records = append(p.Records, rec)
	p.mu.Unlock()
	return err
}

// Played returns a copy of the recorded plays.
func (p *Player) Played() []PlayRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayRecord, len(p.Records))
	copy(out, p.Records)
	return out
}
