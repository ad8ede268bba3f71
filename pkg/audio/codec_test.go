package audio_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// canonicalULaw computes the G.711 μ-law expansion from first principles so
// the lookup table can be checked independently.
func canonicalULaw(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	v := ((int(mantissa) << 3) + 0x84) << exponent
	v -= 0x84
	if sign != 0 {
		return int16(-v)
	}
	return int16(v)
}

func TestDecodeULaw_MatchesCanonicalTable(t *testing.T) {
	t.Parallel()

	in := make([]byte, 256)
	for i := range in {
		in[i] = byte(i)
	}
	got := audio.DecodeULaw(in)
	for i := range 256 {
		want := float32(canonicalULaw(byte(i))) / 32768
		if got[i] != want {
			t.Errorf("byte 0x%02x: got %v, want %v", i, got[i], want)
		}
		if audio.ULawToLinear(byte(i)) != canonicalULaw(byte(i)) {
			t.Errorf("ULawToLinear(0x%02x) = %d, want %d", i, audio.ULawToLinear(byte(i)), canonicalULaw(byte(i)))
		}
	}
}

func TestDecodeULaw_Endpoints(t *testing.T) {
	t.Parallel()

	got := audio.DecodeULaw([]byte{0x00, 0x7F, 0x80, 0xFF})
	want := []float32{-32124.0 / 32768, 0, 32124.0 / 32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16(t *testing.T) {
	t.Parallel()

	pcm := le16(0, 16384, -16384, 32767, -32768)
	got := audio.DecodePCM16(pcm)
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768, -1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16_OddTrailingByteIgnored(t *testing.T) {
	t.Parallel()

	pcm := append(le16(1000, -1000), 0x7F)
	if got := audio.DecodePCM16(pcm); len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestEncodePCM16_Clamps(t *testing.T) {
	t.Parallel()

	got := int16s(audio.EncodePCM16([]float32{2, -2, 1, -1, 0}))
	want := []int16{32767, -32768, 32767, -32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16_RoundTrip(t *testing.T) {
	t.Parallel()

	// Every int16 value, as little-endian bytes.
	samples := make([]int16, 0, 65536)
	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		samples = append(samples, int16(v))
	}
	in := le16(samples...)
	out := audio.EncodePCM16(audio.DecodePCM16(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	got := int16s(out)
	for i, s := range samples {
		d := int(got[i]) - int(s)
		if d < -1 || d > 1 {
			t.Fatalf("sample %d: round trip %d -> %d exceeds 1 LSB", i, s, got[i])
		}
	}
}

func TestBase64_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{{}, {1}, {1, 2}, {1, 2, 3}, bytes.Repeat([]byte{0xAB}, 4097)} {
		enc := audio.ToBase64(in)
		dec, err := audio.FromBase64(enc)
		if err != nil {
			t.Fatalf("FromBase64(%q): %v", enc, err)
		}
		if !bytes.Equal(dec, in) {
			t.Errorf("round trip mismatch for %d bytes", len(in))
		}
	}
	if got := audio.ToBase64([]byte{1}); got != "AQ==" {
		t.Errorf("padding stripped: got %q, want %q", got, "AQ==")
	}
}

func TestFromBase64_Malformed(t *testing.T) {
	t.Parallel()

	_, err := audio.FromBase64("!!not base64!!")
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if de.Op != "base64" {
		t.Errorf("Op = %q, want base64", de.Op)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	pcm := audio.ToBase64(le16(100, 200, 300))
	ulaw := audio.ToBase64([]byte{0xFF, 0x80})

	tests := []struct {
		name     string
		chunk    audio.Chunk
		wantLen  int
		wantRate int
		wantErr  bool
	}{
		{"pcm16", audio.Chunk{Payload: pcm, Format: audio.FormatPCM16_16K}, 3, 16000, false},
		{"ulaw", audio.Chunk{Payload: ulaw, Format: audio.FormatULaw8K}, 2, 8000, false},
		{"malformed", audio.Chunk{Payload: "%%%", Format: audio.FormatPCM16_16K}, 0, 0, true},
		{"empty", audio.Chunk{Payload: "", Format: audio.FormatPCM16_16K}, 0, 0, true},
		{"unknown format", audio.Chunk{Payload: pcm, Format: audio.Format(42)}, 0, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			buf, err := audio.Decode(tc.chunk)
			if tc.wantErr {
				var de *audio.DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("err = %v, want *DecodeError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(buf.Samples) != tc.wantLen {
				t.Errorf("samples = %d, want %d", len(buf.Samples), tc.wantLen)
			}
			if buf.SampleRate != tc.wantRate {
				t.Errorf("rate = %d, want %d", buf.SampleRate, tc.wantRate)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for _, f := range []audio.Format{audio.FormatPCM16_16K, audio.FormatULaw8K} {
		got, err := audio.ParseFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", f.String(), got, err, f)
		}
	}
	if _, err := audio.ParseFormat("opus_48000"); err == nil {
		t.Error("ParseFormat(opus_48000): expected error")
	}
}

func TestBuffer_Duration(t *testing.T) {
	t.Parallel()

	b := audio.Buffer{Samples: make([]float32, 8000), SampleRate: 16000}
	if got := b.Duration().Milliseconds(); got != 500 {
		t.Errorf("Duration = %dms, want 500ms", got)
	}
}
