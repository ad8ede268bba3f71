// Package native provides the hardware backed [device.Source] and
// [device.Player]: microphone capture through miniaudio (malgo) and speaker
// output through oto.
//
// Both backends need cgo on Linux (ALSA/PulseAudio headers). The oto context
// is process-wide; create at most one [Player].
package native

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.Source = (*Source)(nil)
	_ device.Stream = (*stream)(nil)
	_ device.Player = (*Player)(nil)
	_ device.Prober = Prober{}
)

const (
	// periodMillis is the miniaudio callback period.
	periodMillis = 20

	// streamBuffer is the number of callback periods buffered before blocks
	// are dropped.
	streamBuffer = 50

	// pollInterval is how often Play checks whether oto finished a buffer.
	pollInterval = 10 * time.Millisecond
)

// Prober reports the capabilities of the miniaudio backend. miniaudio does no
// voice processing, so every optional flag is false.
type Prober struct{}

// Probe implements [device.Prober].
func (Prober) Probe() device.Capabilities { return device.Capabilities{} }

// ─── Source ───────────────────────────────────────────────────────────────────

// Source opens the default capture device.
type Source struct {
	ctx *malgo.AllocatedContext
	log *slog.Logger
}

// NewSource initialises a miniaudio context. Call [Source.Close] when done.
func NewSource(log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug("native: miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("native: init audio context: %w", err)
	}
	return &Source{ctx: mctx, log: log}, nil
}

// Open implements [device.Source]. Samples are delivered as mono float32 at
// c.SampleRate; miniaudio converts from the hardware format.
func (s *Source) Open(ctx context.Context, c device.Constraints) (device.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		s.log.Debug("native: voice processing requested but not supported by miniaudio")
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(rate)
	cfg.PeriodSizeInMilliseconds = periodMillis

	st := &stream{
		ch:   make(chan []float32, streamBuffer),
		rate: rate,
		log:  s.log,
	}
	dev, err := malgo.InitDevice(s.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { st.deliver(in) },
	})
	if err != nil {
		return nil, fmt.Errorf("native: init capture device: %w: %w", device.ErrNoDevice, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("native: start capture device: %w", err)
	}
	st.dev = dev
	s.log.Debug("native: capture device started", "rate", rate)
	return st, nil
}

// Close releases the miniaudio context.
func (s *Source) Close() error {
	if err := s.ctx.Uninit(); err != nil {
		return fmt.Errorf("native: uninit audio context: %w", err)
	}
	s.ctx.Free()
	return nil
}

type stream struct {
	dev  *malgo.Device
	rate int
	log  *slog.Logger

	mu      sync.Mutex
	ch      chan []float32
	closed  bool
	dropped atomic.Uint64
}

// deliver runs on the miniaudio thread and must never block.
func (s *stream) deliver(in []byte) {
	block := make([]float32, len(in)/4)
	for i := range block {
		block[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- block:
	default:
		if s.dropped.Add(1) == 1 {
			s.log.Warn("native: capture consumer too slow, dropping blocks")
		}
	}
}

func (s *stream) Samples() <-chan []float32 { return s.ch }

func (s *stream) SampleRate() int { return s.rate }

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.dev.Uninit()
	if n := s.dropped.Load(); n > 0 {
		s.log.Debug("native: capture stream closed", "dropped_blocks", n)
	}
	return nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player plays buffers through the default output device via oto.
type Player struct {
	ctx *oto.Context

	mu     sync.Mutex
	render *audio.Renderer
}

// NewPlayer creates the process-wide oto context at the given device format
// and waits until the device is ready.
func NewPlayer(ctx context.Context, f audio.DeviceFormat) (*Player, error) {
	if f.SampleRate <= 0 {
		f.SampleRate = 48000
	}
	if f.Channels != 1 && f.Channels != 2 {
		f.Channels = 2
	}
	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("native: init output device: %w: %w", device.ErrNoDevice, err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Player{ctx: octx, render: &audio.Renderer{Target: f}}, nil
}

// Play implements [device.Player]. It returns once oto has drained the
// buffer, or with ctx.Err() after pausing playback when ctx is cancelled.
func (p *Player) Play(ctx context.Context, buf audio.Buffer) error {
	if len(buf.Samples) == 0 {
		return errors.New("native: empty buffer")
	}
	p.mu.Lock()
	pcm := p.render.Render(buf)
	p.mu.Unlock()

	pl := p.ctx.NewPlayer(bytes.NewReader(pcm))
	defer pl.Close()
	pl.Play()

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for pl.IsPlaying() {
		select {
		case <-ctx.Done():
			pl.Pause()
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := pl.Err(); err != nil {
		return fmt.Errorf("native: play: %w", err)
	}
	return nil
}
