// Package capture turns a live microphone stream into wire-format audio
// blocks and forwards them to a [Sender].
//
// A [Pipeline] frames the device stream into fixed-size blocks (4096 samples
// by default), encodes each block as base64 PCM16 and sends it in capture
// order. While muted, blocks are still produced and counted but never sent,
// which keeps the device open and the session warm.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/audio/device"
)

const (
	// DefaultBlockSize is the number of samples per outbound block.
	DefaultBlockSize = 4096

	// DefaultSampleRate is the wire capture rate in Hz.
	DefaultSampleRate = 16000

	// stopSendTimeout bounds the control "stop" send during Stop.
	stopSendTimeout = 2 * time.Second
)

// Control events sent around a recording.
const (
	ControlStart = "start"
	ControlStop  = "stop"
)

// Sender is the outbound half of the transport as seen by the pipeline.
type Sender interface {
	// SendAudio forwards one base64 PCM16 block.
	SendAudio(ctx context.Context, payload string) error

	// SendControl forwards a control event ("start" or "stop").
	SendControl(ctx context.Context, event string) error

	// Connected reports whether the transport can still accept messages.
	Connected() bool
}

// DeviceError reports that the microphone could not be acquired or stopped
// delivering audio. It is fatal to the recording; the pipeline is left
// stopped.
type DeviceError struct {
	// Op is "acquire microphone" when empty.
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	op := e.Op
	if op == "" {
		op = "acquire microphone"
	}
	return fmt.Sprintf("capture: %s: %v", op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Stats counts blocks since the pipeline was created.
type Stats struct {
	Produced   uint64
	Sent       uint64
	Muted      uint64
	SendErrors uint64
}

// BlockEvent is reported for every produced block.
type BlockEvent struct {
	Samples int
	Muted   bool
	Err     error
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithBlockSize sets the samples per block. Non-positive values are ignored.
func WithBlockSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// WithSampleRate sets the wire capture rate. Non-positive values are ignored.
func WithSampleRate(hz int) Option {
	return func(p *Pipeline) {
		if hz > 0 {
			p.sampleRate = hz
		}
	}
}

// WithCapabilities sets the probed platform capabilities. Processing flags are
// only requested from the device when the capability is present.
func WithCapabilities(c device.Capabilities) Option {
	return func(p *Pipeline) { p.caps = c }
}

// WithBlockHandler registers fn for every produced block. fn runs on the
// capture goroutine and must not block.
func WithBlockHandler(fn func(BlockEvent)) Option {
	return func(p *Pipeline) { p.onBlock = fn }
}

// WithStreamEndHandler registers fn for a microphone stream that ends while
// the pipeline is running. fn receives a [*DeviceError] wrapping
// [device.ErrStreamEnded] and runs on the capture goroutine after the
// pipeline has stopped itself.
func WithStreamEndHandler(fn func(error)) Option {
	return func(p *Pipeline) { p.onStreamEnd = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// Pipeline captures microphone audio and streams it to a [Sender]. All
// exported methods are safe for concurrent use.
type Pipeline struct {
	source      device.Source
	sender      Sender
	caps        device.Capabilities
	blockSize   int
	sampleRate  int
	onBlock     func(BlockEvent)
	onStreamEnd func(error)
	log         *slog.Logger

	muted      atomic.Bool
	produced   atomic.Uint64
	sent       atomic.Uint64
	mutedCount atomic.Uint64
	sendErrors atomic.Uint64

	mu      sync.Mutex
	running bool
	stream  device.Stream
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped [Pipeline].
func New(source device.Source, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:     source,
		sender:     sender,
		blockSize:  DefaultBlockSize,
		sampleRate: DefaultSampleRate,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Constraints returns the device constraints the pipeline requests.
func (p *Pipeline) Constraints() device.Constraints {
	return device.Constraints{
		SampleRate:       p.sampleRate,
		Channels:         1,
		EchoCancellation: p.caps.EchoCancellation,
		NoiseSuppression: p.caps.NoiseSuppression,
		AutoGainControl:  p.caps.AutoGainControl,
	}
}

// Start opens the microphone, sends the control "start" event and begins
// streaming. Starting a running pipeline is a no-op. If the device cannot be
// acquired a [*DeviceError] is returned and nothing is left running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	stream, err := p.source.Open(ctx, p.Constraints())
	if err != nil {
		return &DeviceError{Err: err}
	}
	return p.startLocked(ctx, stream)
}

// StartWithStream begins streaming from an already opened stream. The
// pipeline takes ownership of stream. If the pipeline is running, stream is
// closed and nil is returned.
func (p *Pipeline) StartWithStream(ctx context.Context, stream device.Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return stream.Close()
	}
	return p.startLocked(ctx, stream)
}

func (p *Pipeline) startLocked(ctx context.Context, stream device.Stream) error {
	if p.sender.Connected() {
		if err := p.sender.SendControl(ctx, ControlStart); err != nil {
			p.log.Warn("capture: failed to send start control", "err", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	p.running = true
	p.stream = stream
	p.cancel = cancel
	p.done = done

	go p.run(runCtx, stream, done)
	p.log.Debug("capture: started",
		"block_size", p.blockSize, "device_rate", stream.SampleRate(), "wire_rate", p.sampleRate)
	return nil
}

// Stop halts block production, releases the microphone and, if the sender is
// still connected, sends the control "stop" event. Stopping a stopped
// pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stream, cancel, done := p.stream, p.cancel, p.done
	p.stream, p.cancel = nil, nil
	p.mu.Unlock()

	cancel()
	closeErr := stream.Close()
	<-done

	var sendErr error
	if p.sender.Connected() {
		ctx, cancelSend := context.WithTimeout(context.Background(), stopSendTimeout)
		sendErr = p.sender.SendControl(ctx, ControlStop)
		cancelSend()
	}
	p.log.Debug("capture: stopped")

	if err := errors.Join(closeErr, sendErr); err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	return nil
}

// Running reports whether the pipeline is capturing.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SetMuted sets the mute flag. It takes effect on the next block.
func (p *Pipeline) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports the mute flag.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Stats returns a snapshot of the block counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Produced:   p.produced.Load(),
		Sent:       p.sent.Load(),
		Muted:      p.mutedCount.Load(),
		SendErrors: p.sendErrors.Load(),
	}
}

// run frames device samples into blocks until ctx is cancelled or the stream
// ends.
func (p *Pipeline) run(ctx context.Context, stream device.Stream, done chan struct{}) {
	defer close(done)

	block := make([]float32, 0, p.blockSize)
	rate := stream.SampleRate()
	samples := stream.Samples()

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-samples:
			if !ok {
				if p.streamEnded(done) && p.onStreamEnd != nil {
					p.onStreamEnd(&DeviceError{Op: "read microphone", Err: device.ErrStreamEnded})
				}
				return
			}
			if rate > 0 && rate != p.sampleRate {
				in = audio.DecodePCM16(audio.ResampleMono16(audio.EncodePCM16(in), rate, p.sampleRate))
			}
			for len(in) > 0 {
				n := min(p.blockSize-len(block), len(in))
				block = append(block, in[:n]...)
				in = in[n:]
				if len(block) == p.blockSize {
					p.emit(ctx, block)
					block = block[:0]
				}
			}
		}
	}
}

// emit sends one full block unless muted.
func (p *Pipeline) emit(ctx context.Context, block []float32) {
	p.produced.Add(1)
	ev := BlockEvent{Samples: len(block)}

	if p.muted.Load() {
		p.mutedCount.Add(1)
		ev.Muted = true
	} else {
		payload := audio.ToBase64(audio.EncodePCM16(block))
		if err := p.sender.SendAudio(ctx, payload); err != nil {
			p.sendErrors.Add(1)
			ev.Err = err
			if ctx.Err() == nil {
				p.log.Warn("capture: failed to send audio block", "err", err)
			}
		} else {
			p.sent.Add(1)
		}
	}

	if p.onBlock != nil {
		p.onBlock(ev)
	}
}

// streamEnded handles the device closing the stream on its own. It reports
// false when the close came from Stop.
func (p *Pipeline) streamEnded(done chan struct{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.done != done {
		return false
	}
	p.log.Warn("capture: microphone stream ended unexpectedly")
	p.running = false
	if err := p.stream.Close(); err != nil {
		p.log.Debug("capture: closing ended stream", "err", err)
	}
	p.cancel()
	p.stream, p.cancel = nil, nil
	return true
}
