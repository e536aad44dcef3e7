// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled channels.
// Use Channel to inject inbound events and inspect what the session sent.
//
// Example:
//
//	ch := mock.NewChannel()
//	p := &mock.Provider{Channel: ch}
//	handle, _ := p.Connect(ctx, cfg)
//	ch.Emit(realtime.Event{Kind: realtime.EventOpen})
package mock

import (
	"context"
	"sync"

	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Channel is returned by Connect. If nil, Connect returns a new Channel
	// from NewChannel.
	Channel *Channel

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities realtime.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Channels records every channel handed out by Connect.
	Channels []*Channel
}

// Connect records the call and returns Channel, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	ch := p.Channel
	if ch == nil {
		ch = NewChannel()
	}
	p.Channels = append(p.Channels, ch)
	return ch, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() realtime.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Last returns the most recent channel handed out by Connect, or nil.
func (p *Provider) Last() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Channels) == 0 {
		return nil
	}
	return p.Channels[len(p.Channels)-1]
}

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// Channel is a mock implementation of realtime.Channel. Inbound events are
// injected with Emit; Close closes the events channel like a real adapter.
type Channel struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// CloseErr, if non-nil, is returned by the first Close.
	CloseErr error

	// Sent records every blob accepted by SendRealtimeInput.
	Sent []realtime.Blob

	// CallCountSend counts SendRealtimeInput calls, including failed ones.
	CallCountSend int

	// CallCountClose counts Close calls.
	CallCountClose int

	events chan realtime.Event
	closed bool

	// sent is signalled (non-blocking) on every successful send.
	sentSignal chan struct{}
}

// NewChannel returns a Channel with a buffered events channel.
func NewChannel() *Channel {
	return &Channel{
		events:     make(chan realtime.Event, 64),
		sentSignal: make(chan struct{}, 1),
	}
}

// SendRealtimeInput records blob and returns SendErr.
func (c *Channel) SendRealtimeInput(_ context.Context, blob realtime.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountSend++
	if c.SendErr != nil {
		return c.SendErr
	}
	if c.closed {
		return realtime.ErrChannelClosed
	}
	c.Sent = append(c.Sent, blob)
	select {
	case c.sentSignal <- struct{}{}:
	default:
	}
	return nil
}

// Events implements realtime.Channel.
func (c *Channel) Events() <-chan realtime.Event { return c.events }

// Emit injects an inbound event. It reports false if the channel is closed.
// A terminal event (error or close) closes the events channel after delivery.
func (c *Channel) Emit(ev realtime.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	if ev.Kind == realtime.EventError || ev.Kind == realtime.EventClose {
		c.closed = true
		close(c.events)
	}
	return true
}

// EmitContent is shorthand for emitting an EventMessage with sc.
func (c *Channel) EmitContent(sc realtime.ServerContent) bool {
	return c.Emit(realtime.Event{
		Kind:    realtime.EventMessage,
		Message: &realtime.ServerMessage{ServerContent: &sc},
	})
}

// Close records the call and closes the events channel. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	if c.CallCountClose == 1 {
		return c.CloseErr
	}
	return nil
}

// Sends returns a copy of every blob sent so far.
func (c *Channel) Sends() []realtime.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]realtime.Blob, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// SentSignal is signalled after a successful send. Tests use it to wait for
// asynchronous submission.
func (c *Channel) SentSignal() <-chan struct{} { return c.sentSignal }

// Closed reports whether Close (or a terminal Emit) has closed the channel.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Closes returns the number of Close calls.
func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClose
}

// Ensure Channel implements realtime.Channel at compile time.
var _ realtime.Channel = (*Channel)(nil)
