// Package device defines the narrow hardware contracts the voice pipeline
// depends on: a microphone [Source] that yields float sample blocks, a
// speaker [Player] that plays one decoded buffer to completion, and a
// [Capabilities] probe resolved once at startup.
//
// Concrete implementations live in sub-packages (device/native for
// miniaudio/oto backed hardware); tests use device/mock.
package device

import (
	"context"
	"errors"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// ErrPermissionDenied is returned by [Source.Open] when the platform refuses
// microphone access.
var ErrPermissionDenied = errors.New("device: microphone permission denied")

// ErrNoDevice is returned when no suitable input or output device exists.
var ErrNoDevice = errors.New("device: no audio device available")

// ErrStreamEnded reports that a capture stream closed without being asked to.
var ErrStreamEnded = errors.New("device: microphone stream ended")

// Constraints describes the requested capture shape. The processing flags are
// requests; a source that cannot honour them still opens.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Capabilities reports which optional platform features are available. It is
// probed once and injected; callers never inspect the platform ad hoc.
type Capabilities struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Prober resolves platform [Capabilities].
type Prober interface {
	Probe() Capabilities
}

// StaticProber is a [Prober] that always returns the embedded value.
type StaticProber Capabilities

// Probe implements [Prober].
func (p StaticProber) Probe() Capabilities { return Capabilities(p) }

// Stream is an open microphone. Samples delivers mono float blocks in
// [-1, 1] at the negotiated rate; the channel is closed when the stream is
// closed or the device fails.
type Stream interface {
	// Samples returns the read-only channel of captured sample blocks. Block
	// sizes are device-defined and need not match the wire framing.
	Samples() <-chan []float32

	// SampleRate reports the rate the device actually delivers.
	SampleRate() int

	// Close releases the underlying tracks. Safe to call more than once.
	Close() error
}

// Source acquires microphone streams.
type Source interface {
	// Open acquires a new input stream. It may block on OS permission
	// prompts; ctx bounds the wait.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Player plays a single decoded buffer.
type Player interface {
	// Play starts playback of buf and blocks until the buffer has finished
	// playing naturally or ctx is cancelled. A cancelled ctx must stop the
	// sound promptly; Play then returns ctx.Err().
	Play(ctx context.Context, buf audio.Buffer) error
}
