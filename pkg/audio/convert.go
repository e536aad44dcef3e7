package audio

import (
	"fmt"
)

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
	at := func(i int) int16 { return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8 }

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := at(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = at(idx + 1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DownmixMono averages the planes of b into a single channel. A mono buffer
// is returned as-is.
func DownmixMono(b *Buffer) []float32 {
	switch b.Channels() {
	case 0:
		return nil
	case 1:
		return b.Planes[0]
	}
	out := make([]float32, b.Frames())
	scale := 1 / float32(b.Channels())
	for _, plane := range b.Planes {
		for i, s := range plane {
			out[i] += s * scale
		}
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
