package device

import (
	"context"
	"math"
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// Default fallback tone parameters: a short, quiet beep.
const (
	DefaultToneFrequency = 800.0
	DefaultToneDuration  = 200 * time.Millisecond
	DefaultToneGain      = 0.1
	DefaultToneRate      = 16000
)

// Tone synthesises a sine beep. It stands in for assistant speech when the
// primary playback path refuses a buffer, so the user hears something rather
// than silence.
type Tone struct {
	Frequency  float64
	Duration   time.Duration
	Gain       float64
	SampleRate int
}

// DefaultTone returns the 800 Hz, 200 ms, gain 0.1 beep.
func DefaultTone() Tone {
	return Tone{
		Frequency:  DefaultToneFrequency,
		Duration:   DefaultToneDuration,
		Gain:       DefaultToneGain,
		SampleRate: DefaultToneRate,
	}
}

// Buffer renders the tone.
func (t Tone) Buffer() audio.Buffer {
	rate := t.SampleRate
	if rate <= 0 {
		rate = DefaultToneRate
	}
	n := int(int64(rate) * int64(t.Duration) / int64(time.Second))
	samples := make([]float32, n)
	step := 2 * math.Pi * t.Frequency / float64(rate)
	for i := range samples {
		samples[i] = float32(t.Gain * math.Sin(step*float64(i)))
	}
	return audio.Buffer{Samples: samples, SampleRate: rate}
}

// TonePlayer plays [Tone] through another player regardless of the buffer it
// is asked to play. The original content is intentionally dropped.
type TonePlayer struct {
	Out  Player
	Tone Tone
}

// Play implements [Player].
func (p *TonePlayer) Play(ctx context.Context, _ audio.Buffer) error {
	return p.Out.Play(ctx, p.Tone.Buffer())
}
