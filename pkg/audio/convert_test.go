package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

func le16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func int16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want []int16
	}{
		{name: "three samples", in: le16(100, -200, 300), want: []int16{100, 100, -200, -200, 300, 300}},
		{name: "trailing odd byte dropped", in: append(le16(7, 8), 0xFF), want: []int16{7, 7, 8, 8}},
		{name: "empty", in: nil, want: []int16{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := int16s(audio.MonoToStereo(tc.in))
			if !slices.Equal(got, tc.want) {
				t.Errorf("MonoToStereo = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []byte
		src, dst int
		wantLen  int
		check    func(t *testing.T, got []int16)
	}{
		{name: "same rate is untouched", in: le16(1, 2, 3), src: 16000, dst: 16000, wantLen: 3},
		{name: "zero source rate", in: le16(1, 2), src: 0, dst: 48000, wantLen: 2},
		{name: "zero target rate", in: le16(1, 2), src: 48000, dst: 0, wantLen: 2},
		{name: "negative rate", in: le16(1, 2), src: -8000, dst: 16000, wantLen: 2},
		{
			name: "ulaw wire rate up to 16k", in: le16(1000, 3000), src: 8000, dst: 16000, wantLen: 4,
			check: func(t *testing.T, got []int16) {
				if got[0] != 1000 || got[1] != 2000 || got[2] != 3000 {
					t.Errorf("interpolated = %v, want 1000 2000 3000 ...", got)
				}
			},
		},
		{
			name: "48k device down to 16k", in: le16(10, 20, 30, 40, 50, 60), src: 48000, dst: 16000, wantLen: 2,
			check: func(t *testing.T, got []int16) {
				if got[0] != 10 || got[1] != 40 {
					t.Errorf("decimated = %v, want [10 40]", got)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := int16s(audio.ResampleMono16(tc.in, tc.src, tc.dst))
			if len(got) != tc.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tc.wantLen)
			}
			if tc.check != nil {
				tc.check(t, got)
			}
		})
	}
}

func TestRenderer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		target    audio.DeviceFormat
		buf       audio.Buffer
		wantBytes int
	}{
		{
			name:      "matching rate mono",
			target:    audio.DeviceFormat{SampleRate: 16000, Channels: 1},
			buf:       audio.Buffer{Samples: make([]float32, 160), SampleRate: 16000},
			wantBytes: 320,
		},
		{
			name:      "ulaw rate to 16k mono",
			target:    audio.DeviceFormat{SampleRate: 16000, Channels: 1},
			buf:       audio.Buffer{Samples: make([]float32, 80), SampleRate: 8000},
			wantBytes: 320,
		},
		{
			name:      "16k to 48k stereo",
			target:    audio.DeviceFormat{SampleRate: 48000, Channels: 2},
			buf:       audio.Buffer{Samples: make([]float32, 160), SampleRate: 16000},
			wantBytes: 480 * 4,
		},
		{
			name:      "empty buffer",
			target:    audio.DeviceFormat{SampleRate: 48000, Channels: 2},
			buf:       audio.Buffer{SampleRate: 16000},
			wantBytes: 0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := &audio.Renderer{Target: tc.target}
			if got := len(r.Render(tc.buf)); got != tc.wantBytes {
				t.Errorf("Render bytes = %d, want %d", got, tc.wantBytes)
			}
		})
	}
}

func TestRenderer_PreservesValues(t *testing.T) {
	t.Parallel()

	r := &audio.Renderer{Target: audio.DeviceFormat{SampleRate: 16000, Channels: 2}}
	out := int16s(r.Render(audio.Buffer{Samples: []float32{0.5, -0.25}, SampleRate: 16000}))
	want := []int16{16384, 16384, -8192, -8192}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}
