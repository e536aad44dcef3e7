// Package miniaudio implements [audio.Host] with the miniaudio library via
// malgo. It is the portable alternative to the PortAudio backend and the one
// that supports selecting a capture device by name.
package miniaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/audio/render"
)

var _ audio.Host = (*Host)(nil)

// Option is a functional option for configuring a Host.
type Option func(*Host)

// WithCaptureDevice selects the capture device whose name matches exactly.
// An unknown name falls back to the system default with a warning.
func WithCaptureDevice(name string) Option {
	return func(h *Host) { h.captureDevice = name }
}

// WithOutputChannels sets the number of interleaved output channels. Defaults to 1.
func WithOutputChannels(n int) Option {
	return func(h *Host) { h.outputChannels = n }
}

// Host allocates one malgo context per audio context.
type Host struct {
	captureDevice  string
	outputChannels int
}

// New creates a miniaudio host.
func New(opts ...Option) *Host {
	h := &Host{outputChannels: 1}
	for _, o := range opts {
		o(h)
	}
	return h
}

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) error {
	err := ctx.Uninit()
	ctx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}

// NewInputContext implements [audio.Host].
func (h *Host) NewInputContext(sampleRate int) (audio.InputContext, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	return &inputContext{ctx: ctx, rate: sampleRate, deviceName: h.captureDevice}, nil
}

// NewOutputContext implements [audio.Host].
func (h *Host) NewOutputContext(sampleRate int) (audio.OutputContext, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	tl := render.New(sampleRate, h.outputChannels)
	var scratch []float32

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(h.outputChannels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	onSend := func(pOutput, _ []byte, frameCount uint32) {
		n := int(frameCount) * h.outputChannels
		if cap(scratch) < n {
			scratch = make([]float32, n)
		}
		scratch = scratch[:n]
		tl.Render(scratch)
		putFloats(pOutput, scratch)
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		_ = freeContext(ctx)
		return nil, fmt.Errorf("miniaudio: init playback: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = freeContext(ctx)
		return nil, fmt.Errorf("miniaudio: start playback: %w", err)
	}
	return &outputContext{Timeline: tl, ctx: ctx, dev: dev}, nil
}

// ── input ──────────────────────────────────────────────────────────────────────

type inputContext struct {
	ctx        *malgo.AllocatedContext
	rate       int
	deviceName string

	mu     sync.Mutex
	mics   []*microphone
	closed bool
}

func (c *inputContext) SampleRate() int { return c.rate }

// OpenMicrophone resolves the capture device. Enumeration failures and an
// empty device list are reported as a refusal.
func (c *inputContext) OpenMicrophone(_ context.Context) (audio.Microphone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, audio.ErrContextClosed
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list capture devices: %w: %w", audio.ErrPermissionDenied, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("miniaudio: no capture device: %w", audio.ErrPermissionDenied)
	}

	m := &microphone{ctx: c.ctx, rate: c.rate}
	if c.deviceName != "" {
		for _, info := range infos {
			if info.Name() == c.deviceName {
				id := info.ID
				m.deviceID = &id
				break
			}
		}
		if m.deviceID == nil {
			slog.Warn("miniaudio: capture device not found, using default", "device", c.deviceName)
		}
	}
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
	return freeContext(c.ctx)
}

type microphone struct {
	ctx      *malgo.AllocatedContext
	rate     int
	deviceID *malgo.DeviceID

	mu      sync.Mutex
	dev     *malgo.Device
	stopped bool
}

// Start opens a mono float32 capture device. miniaudio delivers periods of
// arbitrary length, so samples are re-chunked into blocks of blockSize.
func (m *microphone) Start(blockSize int, onBlock func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return audio.ErrContextClosed
	}
	if m.dev != nil {
		return fmt.Errorf("miniaudio: microphone already started")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.rate)
	cfg.PeriodSizeInFrames = uint32(blockSize)
	cfg.Alsa.NoMMap = 1
	if m.deviceID != nil {
		cfg.Capture.DeviceID = m.deviceID.Pointer()
	}

	block := make([]float32, 0, blockSize)
	onRecv := func(_, pInput []byte, _ uint32) {
		for i := 0; i+3 < len(pInput); i += 4 {
			block = append(block, math.Float32frombits(binary.LittleEndian.Uint32(pInput[i:])))
			if len(block) == blockSize {
				onBlock(block)
				block = block[:0]
			}
		}
	}

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		return fmt.Errorf("miniaudio: init capture: %w: %w", audio.ErrPermissionDenied, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("miniaudio: start capture: %w", err)
	}
	m.dev = dev
	return nil
}

func (m *microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	if m.dev == nil {
		return nil
	}
	err := m.dev.Stop()
	m.dev.Uninit()
	m.dev = nil
	if err != nil {
		return fmt.Errorf("miniaudio: stop capture: %w", err)
	}
	return nil
}

// ── output ─────────────────────────────────────────────────────────────────────

type outputContext struct {
	*render.Timeline

	ctx *malgo.AllocatedContext
	dev *malgo.Device

	closeOnce sync.Once
	closeErr  error
}

func (c *outputContext) Close() error {
	c.closeOnce.Do(func() {
		_ = c.Timeline.Close()
		if err := c.dev.Stop(); err != nil {
			c.closeErr = fmt.Errorf("miniaudio: stop playback: %w", err)
		}
		c.dev.Uninit()
		if err := freeContext(c.ctx); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// putFloats writes samples into dst as little-endian float32.
func putFloats(dst []byte, samples []float32) {
	for i, s := range samples {
		off := i * 4
		if off+4 > len(dst) {
			return
		}
		binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(s))
	}
}
