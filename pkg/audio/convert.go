package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// DeviceFormat describes the fixed sample rate and channel count of an
// output device. Devices rarely run at the 8/16 kHz wire rates, so decoded
// buffers are rendered into the device format right before they are written.
type DeviceFormat struct {
	SampleRate int
	Channels   int
}

// Renderer converts decoded [Buffer] values into interleaved int16 PCM for a
// device. The first rate mismatch is logged at debug level. A Renderer is
// not safe for concurrent use.
type Renderer struct {
	Target         DeviceFormat
	warnedMismatch sync.Once
}

// Render converts buf into little-endian int16 PCM in the target format.
// Conversion order: quantise, resample, then channel convert.
func (r *Renderer) Render(buf Buffer) []byte {
	pcm := EncodePCM16(buf.Samples)
	if buf.SampleRate <= 0 || len(pcm) == 0 {
		return pcm
	}

	if buf.SampleRate != r.Target.SampleRate {
		r.warnedMismatch.Do(func() {
			slog.Debug("audio renderer: resampling for device",
				"from", formatString(buf.SampleRate, 1),
				"to", formatString(r.Target.SampleRate, r.Target.Channels),
			)
		})
		pcm = ResampleMono16(pcm, buf.SampleRate, r.Target.SampleRate)
	}

	if r.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
