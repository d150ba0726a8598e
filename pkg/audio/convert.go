package audio

import (
	"encoding/binary"
	"math"
)

// Resample converts mono samples from fromRate to toRate by piecewise-linear
// interpolation. Input and output are laid on parallel normalised time axes
// [0, 1) of length len(samples) and floor(len(samples)*toRate/fromRate);
// output positions past the last input sample hold the last sample value.
//
// Equal rates and empty input return samples unchanged. The result is not
// band-limited, so downsampling can alias.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	if fromRate <= 0 || toRate <= 0 {
		return samples
	}
	n := len(samples)
	outLen := int(int64(n) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return []float32{}
	}

	out := make([]float32, outLen)
	step := float64(n) / float64(outLen)
	last := n - 1
	for i := range outLen {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples, or 0 for an empty
// slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Float32ToPCM16 converts float samples to 16-bit signed little-endian PCM.
// Samples are clipped to [-1, 1] and scaled by 32767.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float samples
// normalised to [-1, 1). A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// BytesToFloat32 reinterprets little-endian IEEE-754 bytes (as delivered by
// float32 device callbacks) as samples. A trailing partial sample is ignored.
func BytesToFloat32(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// PutFloat32 writes samples into dst as little-endian IEEE-754 bytes and
// returns the number of samples written.
func PutFloat32(dst []byte, samples []float32) int {
	n := min(len(dst)/4, len(samples))
	for i := range n {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(samples[i]))
	}
	return n
}

// SamplesFor returns round(ms/1000 * sampleRate).
func SamplesFor(ms float64, sampleRate int) int {
	return int(math.Round(ms / 1000 * float64(sampleRate)))
}
