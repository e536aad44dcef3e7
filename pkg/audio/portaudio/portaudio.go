// Package portaudio implements [audio.Host] on top of the PortAudio library.
//
// Capture uses a blocking-free callback stream sized to the requested block
// length, so the device thread hands over exactly one block per callback.
// Playback pulls from a [render.Timeline], which doubles as the output
// context's clock.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/audio/render"
)

var _ audio.Host = (*Host)(nil)

const defaultOutputBufferFrames = 480

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Host.
type Option func(*Host)

// WithOutputChannels sets the number of interleaved output channels. Defaults to 1.
func WithOutputChannels(n int) Option {
	return func(h *Host) { h.outputChannels = n }
}

// WithOutputBufferFrames sets the playback callback size. Smaller values lower
// latency at the cost of more frequent callbacks. Defaults to 480.
func WithOutputBufferFrames(n int) Option {
	return func(h *Host) { h.outputBufferFrames = n }
}

// ── Host ───────────────────────────────────────────────────────────────────────

// Host opens the system default input and output devices via PortAudio.
// Each context holds its own reference on the PortAudio library, released by
// the context's Close.
type Host struct {
	outputChannels     int
	outputBufferFrames int
}

// New creates a PortAudio host.
func New(opts ...Option) *Host {
	h := &Host{
		outputChannels:     1,
		outputBufferFrames: defaultOutputBufferFrames,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// NewInputContext implements [audio.Host].
func (h *Host) NewInputContext(sampleRate int) (audio.InputContext, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &inputContext{rate: sampleRate}, nil
}

// NewOutputContext implements [audio.Host].
func (h *Host) NewOutputContext(sampleRate int) (audio.OutputContext, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	tl := render.New(sampleRate, h.outputChannels)
	stream, err := pa.OpenDefaultStream(0, h.outputChannels, float64(sampleRate), h.outputBufferFrames,
		func(out []float32) { tl.Render(out) })
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}
	return &outputContext{Timeline: tl, stream: stream}, nil
}

// ── input ──────────────────────────────────────────────────────────────────────

type inputContext struct {
	rate int

	mu     sync.Mutex
	mics   []*microphone
	closed bool
}

func (c *inputContext) SampleRate() int { return c.rate }

// OpenMicrophone resolves the default input device. PortAudio has no consent
// prompt; a missing or inaccessible device is reported as a refusal.
func (c *inputContext) OpenMicrophone(_ context.Context) (audio.Microphone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, audio.ErrContextClosed
	}
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default input: %w: %w", audio.ErrPermissionDenied, err)
	}
	slog.Debug("portaudio: microphone selected", "device", dev.Name, "rate", c.rate)
	m := &microphone{rate: c.rate}
	c.mics = append(c.mics, m)
	return m, nil
}

func (c *inputContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	mics := c.mics
	c.mics = nil
	c.mu.Unlock()

	for _, m := range mics {
		_ = m.Stop()
	}
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

type microphone struct {
	rate int

	mu      sync.Mutex
	stream  *pa.Stream
	stopped bool
}

// Start opens a mono float32 capture stream with blockSize frames per buffer.
func (m *microphone) Start(blockSize int, onBlock func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return audio.ErrContextClosed
	}
	if m.stream != nil {
		return fmt.Errorf("portaudio: microphone already started")
	}
	stream, err := pa.OpenDefaultStream(1, 0, float64(m.rate), blockSize, func(in []float32) { onBlock(in) })
	if err != nil {
		return fmt.Errorf("portaudio: open input: %w: %w", audio.ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start input: %w", err)
	}
	m.stream = stream
	return nil
}

func (m *microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	if m.stream == nil {
		return nil
	}
	stopErr := m.stream.Stop()
	closeErr := m.stream.Close()
	m.stream = nil
	if stopErr != nil {
		return fmt.Errorf("portaudio: stop input: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("portaudio: close input: %w", closeErr)
	}
	return nil
}

// ── output ─────────────────────────────────────────────────────────────────────

type outputContext struct {
	*render.Timeline

	closeOnce sync.Once
	closeErr  error
	stream    *pa.Stream
}

// Close silences the timeline, then stops the device stream.
func (c *outputContext) Close() error {
	c.closeOnce.Do(func() {
		_ = c.Timeline.Close()
		if err := c.stream.Stop(); err != nil {
			c.closeErr = fmt.Errorf("portaudio: stop output: %w", err)
		}
		if err := c.stream.Close(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("portaudio: close output: %w", err)
		}
		if err := pa.Terminate(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("portaudio: terminate: %w", err)
		}
	})
	return c.closeErr
}
