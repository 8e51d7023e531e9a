package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int
	Channels   int
}

// EncodeWAV prefixes 16-bit PCM with a minimal 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	le := binary.LittleEndian
	block := channels * BytesPerSample

	buf := make([]byte, 0, 44+len(pcm))
	buf = append(buf, "RIFF"...)
	buf = le.AppendUint32(buf, uint32(36+len(pcm)))
	buf = append(buf, "WAVEfmt "...)
	buf = le.AppendUint32(buf, 16) // fmt chunk size
	buf = le.AppendUint16(buf, 1)  // linear PCM
	buf = le.AppendUint16(buf, uint16(channels))
	buf = le.AppendUint32(buf, uint32(sampleRate))
	buf = le.AppendUint32(buf, uint32(sampleRate*block))
	buf = le.AppendUint16(buf, uint16(block))
	buf = le.AppendUint16(buf, 8*BytesPerSample)
	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, uint32(len(pcm)))
	return append(buf, pcm...)
}

// ParseWAV walks the RIFF chunks of wav and returns the data offset and the
// format from the "fmt " sub-chunk. The fmt chunk size varies between
// encoders, so the offset is never assumed to be 44.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				info.SampleRate = 22050
				info.Channels = 1
			}
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV missing data chunk")
}

// RMS is the root-mean-square level of 16-bit PCM in sample units, 0 for
// buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var energy float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		energy += v * v
	}
	return math.Sqrt(energy / float64(n))
}

// Duration returns the playback length of mono 16-bit PCM at sampleRate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesFor returns the byte length of d worth of mono 16-bit PCM at
// sampleRate.
func BytesFor(d time.Duration, sampleRate int) int {
	return int(d.Milliseconds()) * sampleRate / 1000 * BytesPerSample
}

// Chunks splits pcm into consecutive slices of at most size bytes, keeping
// order. size is rounded down to a whole sample. The slices alias pcm.
func Chunks(pcm []byte, size int) [][]byte {
	size -= size % BytesPerSample
	if size <= 0 {
		size = BytesPerSample
	}
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		out = append(out, pcm[start:end])
	}
	return out
}
