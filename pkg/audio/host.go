// Package audio defines the sample formats, codec and device abstractions for
// the voice session pipeline.
//
// The device side is split in two:
//
//   - [Host] allocates an [InputContext] for microphone capture and an
//     [OutputContext] for scheduled playback, each at its own sample rate.
//   - [OutputContext] exposes a monotonically increasing playback clock and
//     schedules decoded [Buffer] values at absolute positions on it.
//
// Platform backends live in sub-packages (audio/portaudio, audio/malgo); the
// software output clock shared by them lives in audio/render.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned (wrapped) when the user or the operating
	// system refuses access to the microphone.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrContextClosed is returned by operations on a closed audio context.
	ErrContextClosed = errors.New("audio: context closed")
)

// Host is the entry point for a platform audio backend.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// NewInputContext allocates a capture context running at sampleRate.
	NewInputContext(sampleRate int) (InputContext, error)

	// NewOutputContext allocates a playback context running at sampleRate.
	NewOutputContext(sampleRate int) (OutputContext, error)
}

// InputContext owns the capture side of a session.
type InputContext interface {
	// SampleRate returns the context's capture rate in Hz.
	SampleRate() int

	// OpenMicrophone requests access to the default input device. It blocks
	// until access is granted or refused. A refusal wraps [ErrPermissionDenied].
	OpenMicrophone(ctx context.Context) (Microphone, error)

	// Close releases the context. Safe to call more than once.
	Close() error
}

// Microphone is a granted input device.
type Microphone interface {
	// Start begins delivering mono blocks of exactly blockSize float samples
	// to onBlock. onBlock runs on the device thread: it must not block, and
	// the slice is only valid for the duration of the call.
	Start(blockSize int, onBlock func(samples []float32)) error

	// Stop stops all device tracks. Safe to call more than once and before
	// Start.
	Stop() error
}

// OutputContext owns the playback side of a session.
type OutputContext interface {
	// SampleRate returns the context's playback rate in Hz.
	SampleRate() int

	// CurrentTime returns the playback clock. It starts at zero and never
	// decreases.
	CurrentTime() time.Duration

	// Schedule queues buf to start at the absolute clock position at. If at
	// is already in the past, playback starts immediately. onEnded is invoked
	// once, on an internal goroutine, when playback reaches the end of buf;
	// it is not invoked for sources stopped with [Source.Stop].
	Schedule(buf *Buffer, at time.Duration, onEnded func()) (Source, error)

	// Close releases the context and silences every scheduled source. Safe to
	// call more than once.
	Close() error
}

// Source is one scheduled playback of a [Buffer].
type Source interface {
	// Stop silences the source immediately. Safe to call more than once.
	Stop()
}
