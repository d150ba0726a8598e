package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wavBitsPerSample = 16

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF/WAVE
// header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * wavBitsPerSample / 8
	blockAlign := channels * wavBitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], wavBitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// EncodeWAVFloat clips samples to [-1, 1], converts them to 16-bit PCM, and
// wraps the result as a mono WAV file.
func EncodeWAVFloat(samples []float32, sampleRate int) []byte {
	return EncodeWAV(Float32ToPCM16(samples), sampleRate, 1)
}

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE file and returns it as mono
// float32 samples. Multi-channel audio is averaged down to mono. Chunks are
// walked rather than assuming a 44-byte header.
func DecodeWAV(wav []byte) (samples []float32, sampleRate int, err error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: not a RIFF/WAVE file")
	}
	channels, bits := 0, 0
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := wav[off+8:]
		switch id {
		case "fmt ":
			if size < 16 || len(body) < 16 {
				return nil, 0, errors.New("audio: short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, 0, fmt.Errorf("audio: unsupported WAV format %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
		case "data":
			if channels == 0 {
				return nil, 0, errors.New("audio: data chunk before fmt chunk")
			}
			if bits != wavBitsPerSample {
				return nil, 0, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			// Streaming writers leave the size at 0 or 0xFFFFFFFF.
			if size > 0 && size < len(body) {
				body = body[:size]
			}
			return downmix(PCM16ToFloat32(body), channels), sampleRate, nil
		}
		off += 8 + size + size%2
	}
	return nil, 0, errors.New("audio: WAV file has no data chunk")
}

func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
