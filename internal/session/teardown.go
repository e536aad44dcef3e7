package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asmcenter/voicecoach/internal/capture"
	"github.com/asmcenter/voicecoach/internal/playback"
	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
)

// Teardown is the set of release steps run when a session ends. Every step
// tolerates resources that were never acquired.
type Teardown interface {
	CloseChannel() error
	StopTracks() error
	CloseAudioContexts() error
	StopSources()
}

var _ Teardown = (*Context)(nil)

// Context holds every resource owned by one running session. Fields are
// filled in as Start acquires them; a Context that is no longer the session's
// current one is dead and is only touched by teardown.
type Context struct {
	channel   realtime.Channel
	input     audio.InputContext
	mic       audio.Microphone
	capture   *capture.Pipeline
	output    audio.OutputContext
	scheduler *playback.Scheduler
	timer     *time.Timer

	cancel     context.CancelFunc
	captureErr chan error
}

func newContext(cancel context.CancelFunc) *Context {
	return &Context{
		cancel:     cancel,
		captureErr: make(chan error, 1),
	}
}

// CloseChannel closes the realtime channel.
func (c *Context) CloseChannel() error {
	if c.channel == nil {
		return nil
	}
	return c.channel.Close()
}

// StopTracks stops the microphone, waiting for the capture pipeline when one
// was started.
func (c *Context) StopTracks() error {
	if c.capture != nil {
		return c.capture.Stop()
	}
	if c.mic != nil {
		return c.mic.Stop()
	}
	return nil
}

// CloseAudioContexts closes the input and output contexts.
func (c *Context) CloseAudioContexts() error {
	var errs []error
	if c.input != nil {
		if err := c.input.Close(); err != nil {
			errs = append(errs, fmt.Errorf("input: %w", err))
		}
	}
	if c.output != nil {
		if err := c.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("output: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StopSources force-stops every scheduled playback source.
func (c *Context) StopSources() {
	if c.scheduler != nil {
		c.scheduler.Close()
	}
}

// reportCaptureError is the capture pipeline's error handler. It runs on the
// sender goroutine, which teardown waits for, so it must not block.
func (c *Context) reportCaptureError(err error) {
	select {
	case c.captureErr <- err:
	default:
	}
}

// shutdown runs every step of t in order and joins the failures.
func shutdown(t Teardown) error {
	var errs []error
	if err := t.CloseChannel(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if err := t.StopTracks(); err != nil {
		errs = append(errs, fmt.Errorf("stop tracks: %w", err))
	}
	if err := t.CloseAudioContexts(); err != nil {
		errs = append(errs, fmt.Errorf("close audio contexts: %w", err))
	}
	t.StopSources()
	return errors.Join(errs...)
}
