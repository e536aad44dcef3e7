// Package capture turns a live microphone into a stream of encoded frames on
// a realtime channel.
//
// The microphone callback never waits on the network: each block is copied
// into a bounded queue and a single sender goroutine encodes and submits the
// frames in order. When the queue is full the newest block is dropped.
// Submission failures are not retried; the first one is reported through the
// error handler and the pipeline stops forwarding.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/asmcenter/voicecoach/internal/observe"
	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
)

const (
	// DefaultSampleRate is the microphone rate the realtime services expect.
	DefaultSampleRate = 16000

	// DefaultBlockSize is the number of samples per captured frame.
	DefaultBlockSize = 4096

	// DefaultQueueSize is the number of frames buffered ahead of the sender.
	DefaultQueueSize = 32
)

// ErrAlreadyStarted is returned by Start on a pipeline that was started before.
var ErrAlreadyStarted = errors.New("capture: already started")

// Sender is the outbound half of a realtime channel.
type Sender interface {
	SendRealtimeInput(ctx context.Context, blob realtime.Blob) error
}

// Config holds the frame geometry. Zero fields take the package defaults.
type Config struct {
	SampleRate int
	BlockSize  int
	QueueSize  int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Captured uint64
	Sent     uint64
	Dropped  uint64
	Failed   uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records frame counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithErrorHandler registers fn to receive the first submission failure. fn
// is called from the sender goroutine and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pipeline) { p.onError = fn }
}

// WithLogger sets the logger used for drop and failure warnings.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline forwards microphone blocks to a Sender.
type Pipeline struct {
	mic     audio.Microphone
	sender  Sender
	cfg     Config
	mime    string
	metrics *observe.Metrics
	onError func(error)
	log     *slog.Logger

	queue chan []float32
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopErr  error

	captured atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64

	warnedDrop atomic.Bool
	halted     atomic.Bool
}

// New creates a Pipeline reading from mic and writing to sender. The
// microphone is not opened until Start.
func New(mic audio.Microphone, sender Sender, cfg Config, opts ...Option) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		mic:    mic,
		sender: sender,
		cfg:    cfg,
		mime:   audio.PCMMIMEType(cfg.SampleRate),
		log:    slog.Default(),
		queue:  make(chan []float32, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start begins capturing. Frames are submitted with ctx until Stop is called
// or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	p.wg.Go(func() { p.sendLoop(ctx) })

	if err := p.mic.Start(p.cfg.BlockSize, p.onBlock); err != nil {
		close(p.done)
		p.wg.Wait()
		p.stopOnce.Do(func() {})
		return fmt.Errorf("capture: start microphone: %w", err)
	}
	return nil
}

// Stop stops the microphone and waits for the sender goroutine. Frames still
// queued are discarded. Stop is idempotent and safe to call without Start.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.started = true
		p.mu.Unlock()
		if !started {
			return
		}
		p.stopErr = p.mic.Stop()
		close(p.done)
		p.wg.Wait()
	})
	if p.stopErr != nil {
		return fmt.Errorf("capture: stop microphone: %w", p.stopErr)
	}
	return nil
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Captured: p.captured.Load(),
		Sent:     p.sent.Load(),
		Dropped:  p.dropped.Load(),
		Failed:   p.failed.Load(),
	}
}

// onBlock runs on the audio thread. The device may reuse samples after the
// callback returns, so the block is copied.
func (p *Pipeline) onBlock(samples []float32) {
	if p.halted.Load() {
		return
	}
	p.captured.Add(1)
	block := make([]float32, len(samples))
	copy(block, samples)

	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.queue <- block:
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.FramesDropped.Add(context.Background(), 1)
		}
		if p.warnedDrop.CompareAndSwap(false, true) {
			p.log.Warn("capture: outbound queue full, dropping frames", "queue", p.cfg.QueueSize)
		}
	}
}

func (p *Pipeline) sendLoop(ctx context.Context) {
	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case block := <-p.queue:
			if p.halted.Load() {
				continue
			}
			p.submit(ctx, block)
		}
	}
}

func (p *Pipeline) submit(ctx context.Context, block []float32) {
	blob := realtime.Blob{
		Data:     audio.EncodeFrame(block),
		MIMEType: p.mime,
	}
	if err := p.sender.SendRealtimeInput(ctx, blob); err != nil {
		p.failed.Add(1)
		if !p.halted.CompareAndSwap(false, true) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("capture: frame submission failed", "err", err)
		if p.onError != nil {
			p.onError(fmt.Errorf("capture: send frame: %w", err))
		}
		return
	}
	p.sent.Add(1)
	if p.metrics != nil {
		p.metrics.FramesSent.Add(ctx, 1)
	}
}
