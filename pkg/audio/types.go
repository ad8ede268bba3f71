// Package audio defines the wire audio formats spoken on the assistant
// signaling channel and the pure codec functions that move between wire bytes
// and normalised float samples.
//
// Two encodings exist on the wire:
//
//   - [FormatPCM16_16K]: 16-bit signed little-endian linear PCM at 16 kHz.
//   - [FormatULaw8K]: 8-bit G.711 μ-law at 8 kHz (telephony legacy path).
//
// Nothing in this package holds state; capture and playback live in the
// capture and playback sub-packages.
package audio

import (
	"fmt"
	"time"
)

// Format identifies the encoding of an audio payload on the wire.
type Format int

const (
	// FormatPCM16_16K is linear 16-bit PCM, mono, 16 kHz.
	FormatPCM16_16K Format = iota

	// FormatULaw8K is G.711 μ-law, mono, 8 kHz.
	FormatULaw8K
)

// Wire names of the supported formats as they appear in the "format" field.
const (
	WirePCM16_16K = "pcm_16000"
	WireULaw8K    = "ulaw_8000"
)

// String returns the wire name of the format.
func (f Format) String() string {
	switch f {
	case FormatPCM16_16K:
		return WirePCM16_16K
	case FormatULaw8K:
		return WireULaw8K
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// SampleRate returns the native playback rate of the format in Hz.
func (f Format) SampleRate() int {
	switch f {
	case FormatULaw8K:
		return 8000
	default:
		return 16000
	}
}

// IsValid reports whether f is a recognised format.
func (f Format) IsValid() bool {
	return f == FormatPCM16_16K || f == FormatULaw8K
}

// ParseFormat maps a wire name to a [Format]. Unknown names return a
// [*DecodeError].
func ParseFormat(s string) (Format, error) {
	switch s {
	case WirePCM16_16K:
		return FormatPCM16_16K, nil
	case WireULaw8K:
		return FormatULaw8K, nil
	default:
		return 0, &DecodeError{Op: "format", Msg: fmt.Sprintf("unsupported audio format %q", s)}
	}
}

// Chunk is one discrete unit of inbound assistant audio: a base64 payload and
// its encoding tag. Chunks are immutable once enqueued.
type Chunk struct {
	// Payload is the standard, padded base64 encoding of the audio bytes.
	Payload string

	// Format declares how the decoded bytes are encoded.
	Format Format
}

// Buffer is a decoded, playable chunk: mono float samples in [-1, 1] at the
// format's native rate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(b.Samples)) * int64(time.Second) / int64(b.SampleRate))
}
