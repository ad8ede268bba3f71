// Package playback plays inbound assistant audio chunks strictly in arrival
// order with exactly one chunk audible at a time.
//
// A [Queue] owns a single drain goroutine. For each chunk it decodes the
// payload at the format's native rate, hands the buffer to a
// [device.Player], and waits for Play to return before dequeuing the next
// chunk. Play returning is the natural-completion signal; nothing else
// advances the queue.
//
// Chunks that fail to decode or play are logged, reported through
// [WithSkipHandler], and dropped. The queue never stalls on a bad chunk.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/audio/device"
)

// defaultQueueCap is the initial capacity hint for the pending slice.
const defaultQueueCap = 16

// PlaybackError reports that the player refused or failed a decoded buffer.
type PlaybackError struct {
	Format audio.Format
	Err    error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback: play %s chunk: %v", e.Format, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// ChunkEvent describes one chunk passing through the drain loop.
type ChunkEvent struct {
	// Seq is the 1-based arrival index of the chunk since the queue was created.
	Seq    uint64
	Format audio.Format

	// Samples and Duration describe the decoded buffer.
	Samples  int
	Duration time.Duration

	// At is when the event happened.
	At time.Time

	// Err is set on end events when playback was interrupted or failed.
	Err error
}

// Status is a point-in-time view of the queue.
type Status struct {
	QueueLength int
	Playing     bool
}

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithDecoder replaces the chunk decoder. The default is [audio.Decode].
func WithDecoder(fn func(audio.Chunk) (audio.Buffer, error)) Option {
	return func(q *Queue) {
		if fn != nil {
			q.decode = fn
		}
	}
}

// WithChunkStart registers fn to be called on the drain goroutine right
// before a chunk is handed to the player.
func WithChunkStart(fn func(ChunkEvent)) Option {
	return func(q *Queue) { q.onStart = fn }
}

// WithChunkEnd registers fn to be called on the drain goroutine after the
// player returned for a chunk.
func WithChunkEnd(fn func(ChunkEvent)) Option {
	return func(q *Queue) { q.onEnd = fn }
}

// WithSkipHandler registers fn to be called for every chunk dropped because
// it could not be decoded or played. err is a [*audio.DecodeError] or a
// [*PlaybackError].
func WithSkipHandler(fn func(seq uint64, err error)) Option {
	return func(q *Queue) { q.onSkip = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

type entry struct {
	chunk audio.Chunk
	seq   uint64
}

// Queue is an ordered, single-consumer playback queue.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	player  device.Player
	decode  func(audio.Chunk) (audio.Buffer, error)
	onStart func(ChunkEvent)
	onEnd   func(ChunkEvent)
	onSkip  func(uint64, error)
	log     *slog.Logger

	mu            sync.Mutex
	pending       []entry
	seq           uint64
	gen           uint64             // bumped by Clear; stale work is dropped
	active        bool               // a chunk is between dequeue and Play return
	cancelPlaying context.CancelFunc // cancels the active chunk

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	closed bool
}

// New creates a [Queue] that plays through player and starts the drain
// goroutine. Call [Queue.Close] to stop it.
func New(player device.Player, opts ...Option) *Queue {
	q := &Queue{
		player:  player,
		decode:  audio.Decode,
		log:     slog.Default(),
		pending: make([]entry, 0, defaultQueueCap),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.drain()
	return q
}

// Enqueue appends c to the tail of the queue. If the queue was idle, draining
// starts immediately. Enqueue after Close is a no-op.
func (q *Queue) Enqueue(c audio.Chunk) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.seq++
	q.pending = append(q.pending, entry{chunk: c, seq: q.seq})

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Clear stops the active chunk, discards every pending chunk and returns the
// queue to idle. A decode that completes after Clear is never played. Safe to
// call at any time.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.clearLocked()
}

func (q *Queue) clearLocked() {
	q.gen++
	if q.cancelPlaying != nil {
		q.cancelPlaying()
		q.cancelPlaying = nil
	}
	q.active = false
	clear(q.pending)
	q.pending = q.pending[:0]
}

// Status reports the pending length and whether a chunk is active.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Status{QueueLength: len(q.pending), Playing: q.active}
}

// Idle reports whether nothing is pending or playing.
func (q *Queue) Idle() bool {
	s := q.Status()
	return s.QueueLength == 0 && !s.Playing
}

// Close clears the queue, stops the drain goroutine and waits for it to exit.
// Close is idempotent and returns nil.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.exited
		return nil
	}
	q.closed = true
	q.clearLocked()
	q.mu.Unlock()

	close(q.done)
	<-q.exited
	return nil
}

// drain is the single consumer. It runs until Close.
func (q *Queue) drain() {
	defer close(q.exited)

	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			e, gen, ok := q.dequeue()
			if !ok {
				break
			}
			q.playOne(e, gen)
		}
	}
}

// dequeue pops the head and marks it active. ok is false when empty.
func (q *Queue) dequeue() (e entry, gen uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 || q.closed {
		return entry{}, 0, false
	}
	e = q.pending[0]
	q.pending[0] = entry{}
	q.pending = q.pending[1:]
	q.active = true
	return e, q.gen, true
}

// begin arms the cancel func for the active chunk unless Clear ran since
// dequeue. It returns a nil ctx when the chunk is stale.
func (q *Queue) begin(gen uint64) (context.Context, context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen != q.gen || q.closed {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancelPlaying = cancel
	return ctx, cancel
}

// finish clears the active flag if no Clear happened in between.
func (q *Queue) finish(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen == q.gen {
		q.active = false
		q.cancelPlaying = nil
	}
}

func (q *Queue) playOne(e entry, gen uint64) {
	defer q.finish(gen)

	buf, err := q.decode(e.chunk)
	if err != nil {
		q.log.Warn("playback: skipping undecodable chunk",
			"seq", e.seq, "format", e.chunk.Format.String(), "err", err)
		q.skip(e.seq, err)
		return
	}

	ctx, cancel := q.begin(gen)
	if ctx == nil {
		q.log.Debug("playback: dropping chunk decoded after clear", "seq", e.seq)
		return
	}
	defer cancel()

	ev := ChunkEvent{
		Seq:      e.seq,
		Format:   e.chunk.Format,
		Samples:  len(buf.Samples),
		Duration: buf.Duration(),
	}
	if q.onStart != nil {
		ev.At = time.Now()
		q.onStart(ev)
	}

	err = q.player.Play(ctx, buf)

	if q.onEnd != nil {
		ev.At = time.Now()
		ev.Err = err
		q.onEnd(ev)
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		q.log.Debug("playback: chunk interrupted", "seq", e.seq)
	default:
		perr := &PlaybackError{Format: e.chunk.Format, Err: err}
		q.log.Warn("playback: chunk failed, skipping", "seq", e.seq, "err", perr)
		q.skip(e.seq, perr)
	}
}

func (q *Queue) skip(seq uint64, err error) {
	if q.onSkip != nil {
		q.onSkip(seq, err)
	}
}
