package audio

import (
	"encoding/base64"
	"fmt"
)

// pcmScale converts between int16 sample values and normalised floats.
const pcmScale = 32768.0

// DecodeError reports a malformed or unsupported audio payload. It is
// returned to the caller and never escapes into playback.
type DecodeError struct {
	// Op names the stage that failed ("base64", "format", "pcm16", ...).
	Op string

	// Msg is a human-readable description.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: decode %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("audio: decode %s: %s", e.Op, e.Msg)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ulawTable is the canonical G.711 μ-law to 16-bit linear expansion table.
var ulawTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// ULawToLinear returns the 16-bit linear value for a μ-law byte.
func ULawToLinear(b byte) int16 {
	return ulawTable[b]
}

// DecodePCM16 interprets pcm as little-endian signed 16-bit samples and
// scales them into [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float32(s) / pcmScale
	}
	return out
}

// DecodeULaw expands μ-law bytes through the G.711 table and scales the
// result into [-1, 1).
func DecodeULaw(ulaw []byte) []float32 {
	out := make([]float32, len(ulaw))
	for i, b := range ulaw {
		out[i] = float32(ulawTable[b]) / pcmScale
	}
	return out
}

// EncodePCM16 scales samples by 32768, clamps to the int16 range and emits
// little-endian 16-bit PCM. Fractions are truncated toward zero.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := float64(f) * pcmScale
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		s := int16(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// ToBase64 encodes b with the standard padded alphabet.
func ToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromBase64 decodes standard padded base64. Malformed input yields a
// [*DecodeError].
func FromBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Op: "base64", Msg: "malformed payload", Err: err}
	}
	return b, nil
}

// Decode turns a wire chunk into a playable [Buffer] at the chunk format's
// native sample rate. No resampling is performed.
func Decode(c Chunk) (Buffer, error) {
	raw, err := FromBase64(c.Payload)
	if err != nil {
		return Buffer{}, err
	}
	if len(raw) == 0 {
		return Buffer{}, &DecodeError{Op: c.Format.String(), Msg: "empty payload"}
	}
	switch c.Format {
	case FormatPCM16_16K:
		if len(raw) < 2 {
			return Buffer{}, &DecodeError{Op: "pcm16", Msg: "payload shorter than one sample"}
		}
		return Buffer{Samples: DecodePCM16(raw), SampleRate: c.Format.SampleRate()}, nil
	case FormatULaw8K:
		return Buffer{Samples: DecodeULaw(raw), SampleRate: c.Format.SampleRate()}, nil
	default:
		return Buffer{}, &DecodeError{Op: "format", Msg: fmt.Sprintf("unsupported audio format %s", c.Format)}
	}
}
