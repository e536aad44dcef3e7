package audio

import (
	"fmt"
	"time"
)

// Frame is one block of captured audio after encoding: little-endian signed
// 16-bit PCM. Frames are immutable once produced and are handed to the
// outbound channel exactly once.
type Frame struct {
	// PCM holds little-endian int16 samples, interleaved when Channels > 1.
	PCM []byte

	// SampleRate in Hz (16000 for microphone capture).
	SampleRate int

	// Channels is the interleaved channel count. Capture is always mono.
	Channels int
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.PCM) / (2 * f.Channels)
}

// Buffer is a decoded playback segment: float samples in [-1, 1] stored as one
// plane per channel. All planes have the same length.
type Buffer struct {
	// SampleRate in Hz (24000 for synthesized speech).
	SampleRate int

	// Planes holds one slice of samples per channel.
	Planes [][]float32
}

// NewBuffer allocates a silent buffer with the given shape.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	planes := make([][]float32, channels)
	for i := range planes {
		planes[i] = make([]float32, frames)
	}
	return &Buffer{SampleRate: sampleRate, Planes: planes}
}

// Channels returns the number of channels in the buffer.
func (b *Buffer) Channels() int { return len(b.Planes) }

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if len(b.Planes) == 0 {
		return 0
	}
	return len(b.Planes[0])
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return FramesToDuration(int64(b.Frames()), b.SampleRate)
}

// String implements fmt.Stringer, e.g. "24000Hz mono, 480 frames".
func (b *Buffer) String() string {
	return fmt.Sprintf("%s, %d frames", formatString(b.SampleRate, b.Channels()), b.Frames())
}

// FramesToDuration converts a sample-frame count at rate into a duration.
func FramesToDuration(frames int64, rate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// DurationToFrames converts d into the nearest whole sample-frame count at rate.
func DurationToFrames(d time.Duration, rate int) int64 {
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
