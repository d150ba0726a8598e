// Package audio holds the sample types, format conversions, and device
// interfaces shared by the capture and playback paths.
//
// All audio inside waketurn is mono float32 in [-1, 1]. Conversion to 16-bit
// PCM only happens at the edges: device backends that cannot deliver float
// samples, and collaborators that expect a WAV upload or stream raw PCM.
package audio

// Frame is one block of mono audio as it travels from a device callback to a
// consumer. Frames are immutable once produced: producers allocate a fresh
// Samples slice per frame and consumers never write into it.
type Frame struct {
	// Samples holds mono float32 samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g. 16000 for capture, 48000 for playback).
	SampleRate int

	// Seq is the monotonic index of this frame within its stream, starting at 0.
	Seq uint64
}
