// Package mock provides in-memory implementations of the [audio.Host] family
// of interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so tests
// can assert on call counts, and expose exported fields to control return
// values. The output context is a real [render.Timeline]; tests advance its
// clock with Render.
//
// Typical usage:
//
//	host := &mock.Host{}
//	sess := session.New(cfg, session.Deps{Host: host, ...})
//	_ = sess.Start(ctx)
//	host.Microphone().Emit(make([]float32, 4096))
package mock

import (
	"context"
	"sync"

	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/audio/render"
)

var (
	_ audio.Host          = (*Host)(nil)
	_ audio.InputContext  = (*InputContext)(nil)
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.OutputContext = (*OutputContext)(nil)
)

// ─── Host ─────────────────────────────────────────────────────────────────────

// Host is a mock implementation of [audio.Host].
type Host struct {
	mu sync.Mutex

	// InputErr, if non-nil, is returned by NewInputContext.
	InputErr error

	// OutputErr, if non-nil, is returned by NewOutputContext.
	OutputErr error

	// MicErr, if non-nil, is returned by OpenMicrophone on every input context.
	MicErr error

	// CloseErr, if non-nil, is returned by Close on every context.
	CloseErr error

	// Inputs and Outputs record every context handed out, in order.
	Inputs  []*InputContext
	Outputs []*OutputContext
}

// NewInputContext records the call and returns a fresh InputContext.
func (h *Host) NewInputContext(sampleRate int) (audio.InputContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.InputErr != nil {
		return nil, h.InputErr
	}
	c := &InputContext{Rate: sampleRate, MicErr: h.MicErr, CloseErr: h.CloseErr}
	h.Inputs = append(h.Inputs, c)
	return c, nil
}

// NewOutputContext records the call and returns a fresh OutputContext.
func (h *Host) NewOutputContext(sampleRate int) (audio.OutputContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.OutputErr != nil {
		return nil, h.OutputErr
	}
	c := &OutputContext{Timeline: render.New(sampleRate, 1), CloseErr: h.CloseErr}
	h.Outputs = append(h.Outputs, c)
	return c, nil
}

// Input returns the most recent input context, or nil.
func (h *Host) Input() *InputContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Inputs) == 0 {
		return nil
	}
	return h.Inputs[len(h.Inputs)-1]
}

// Output returns the most recent output context, or nil.
func (h *Host) Output() *OutputContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Outputs) == 0 {
		return nil
	}
	return h.Outputs[len(h.Outputs)-1]
}

// Microphone returns the microphone of the most recent input context, or nil.
func (h *Host) Microphone() *Microphone {
	if in := h.Input(); in != nil {
		return in.Microphone()
	}
	return nil
}

// ─── InputContext ─────────────────────────────────────────────────────────────

// InputContext is a mock implementation of [audio.InputContext].
type InputContext struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// MicErr, if non-nil, is returned by OpenMicrophone.
	MicErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	mic    *Microphone
	closed bool
}

// SampleRate implements [audio.InputContext].
func (c *InputContext) SampleRate() int { return c.Rate }

// OpenMicrophone returns MicErr or a new Microphone.
func (c *InputContext) OpenMicrophone(ctx context.Context) (audio.Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MicErr != nil {
		return nil, c.MicErr
	}
	c.mic = &Microphone{}
	return c.mic, nil
}

// Microphone returns the last microphone opened on this context, or nil.
func (c *InputContext) Microphone() *Microphone {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mic
}

// Close records the call and returns CloseErr.
func (c *InputContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.closed = true
	return c.CloseErr
}

// Closed reports whether Close has been called at least once.
func (c *InputContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone]. Tests push
// capture blocks with Emit.
type Microphone struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// BlockSize is the block size passed to Start.
	BlockSize int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	onBlock func([]float32)
	started bool
	stopped bool
}

// Start records the callback; it is invoked by Emit until Stop.
func (m *Microphone) Start(blockSize int, onBlock func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	m.BlockSize = blockSize
	m.onBlock = onBlock
	m.started = true
	return nil
}

// Stop records the call; subsequent Emit calls are ignored.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStop++
	m.stopped = true
	return m.StopErr
}

// Emit delivers one block to the registered callback. It reports whether the
// block was delivered (started and not stopped).
func (m *Microphone) Emit(samples []float32) bool {
	m.mu.Lock()
	fn := m.onBlock
	live := m.started && !m.stopped
	m.mu.Unlock()
	if !live || fn == nil {
		return false
	}
	fn(samples)
	return true
}

// Started reports whether Start has succeeded.
func (m *Microphone) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Stopped reports whether Stop has been called.
func (m *Microphone) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// ─── OutputContext ────────────────────────────────────────────────────────────

// OutputContext is an [audio.OutputContext] backed by a [render.Timeline]
// that records Close calls.
type OutputContext struct {
	*render.Timeline

	mu sync.Mutex

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Close closes the timeline, records the call and returns CloseErr.
func (c *OutputContext) Close() error {
	_ = c.Timeline.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	return c.CloseErr
}

// Closed reports whether Close has been called at least once.
func (c *OutputContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClose > 0
}
