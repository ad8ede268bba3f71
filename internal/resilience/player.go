package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/audio/device"
)

// Compile-time interface assertion.
var _ device.Player = (*PlayerFallback)(nil)

// PlayerFallback is a [device.Player] that plays through the first healthy
// backend. Each backend has its own circuit breaker, so a speaker that keeps
// failing is bypassed until it recovers.
//
// Cancellation is never a failure: a Play interrupted through its context
// returns ctx.Err() at once and no fallback is tried.
type PlayerFallback struct {
	group    *FallbackGroup[device.Player]
	onPlayed func(backend string)
}

// NewPlayerFallback creates a [PlayerFallback] with primary as the preferred
// backend. cfg.CircuitBreaker.IsFailure is replaced so that context
// cancellation is not counted against a backend.
func NewPlayerFallback(primary device.Player, primaryName string, cfg FallbackConfig) *PlayerFallback {
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return &PlayerFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend tried after the earlier ones.
func (f *PlayerFallback) AddFallback(name string, p device.Player) {
	f.group.AddFallback(name, p)
}

// AddTone registers a [device.TonePlayer] over out as the last resort. The
// listener hears a short beep instead of the lost buffer.
func (f *PlayerFallback) AddTone(name string, out device.Player, tone device.Tone) {
	f.group.AddFallback(name, &device.TonePlayer{Out: out, Tone: tone})
}

// OnPlayed registers fn to be called with the backend name after every
// successful Play. Must be set before the first Play.
func (f *PlayerFallback) OnPlayed(fn func(backend string)) {
	f.onPlayed = fn
}

// Backends returns the backend names in order.
func (f *PlayerFallback) Backends() []string { return f.group.Names() }

// Play implements [device.Player].
func (f *PlayerFallback) Play(ctx context.Context, buf audio.Buffer) error {
	name, err := f.group.Execute(func(p device.Player) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.Play(ctx, buf)
	})
	if err != nil {
		return err
	}
	if f.onPlayed != nil {
		f.onPlayed(name)
	}
	return nil
}
