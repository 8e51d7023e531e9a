// Package audio holds the PCM helpers shared by the speech providers and the
// realtime session: format conversion, WAV framing and chunking.
//
// All PCM in Soven is 16-bit signed little-endian. The appliance sends and
// receives mono audio at the session sample rate (16 kHz by default).
package audio

import (
	"encoding/binary"
	"math"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(v))
}

func clamp16(v float64) int16 {
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}

// StereoToMono folds interleaved L/R frames into their average. A trailing
// partial frame is dropped.
func StereoToMono(pcm []byte) []byte {
	const frame = 2 * BytesPerSample
	n := len(pcm) / frame
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		l, r := sampleAt(pcm, 2*i), sampleAt(pcm, 2*i+1)
		putSample(out, i, int16((int32(l)+int32(r))/2))
	}
	return out
}

// ResampleMono16 converts mono PCM between sample rates by linear
// interpolation. Equal or non-positive rates return pcm as is.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	in := len(pcm) / BytesPerSample
	n := int(int64(in) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]byte, n*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * step
		j := int(pos)
		a := float64(sampleAt(pcm, j))
		b := a
		if j+1 < in {
			b = float64(sampleAt(pcm, j+1))
		}
		frac := pos - float64(j)
		putSample(out, i, clamp16(a+(b-a)*frac))
	}
	return out
}

// ToMono16 brings PCM with the given layout to mono at dstRate. Layouts with
// more than two channels are only resampled.
func ToMono16(pcm []byte, srcRate, channels, dstRate int) []byte {
	if channels == 2 {
		pcm = StereoToMono(pcm)
	}
	return ResampleMono16(pcm, srcRate, dstRate)
}

// ToFloat32 scales mono PCM to [-1, 1). A trailing odd byte is ignored.
func ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768
	}
	return out
}
