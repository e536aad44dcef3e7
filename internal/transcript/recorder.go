package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asmcenter/voicecoach/internal/observe"
	"github.com/asmcenter/voicecoach/internal/resilience"
)

// Sink persists committed items outside the process. Implementations must be
// safe for concurrent use.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Write stores items for the given session. Items arrive in commit order.
	Write(ctx context.Context, sessionID string, items []Item) error

	// Close releases the sink's resources.
	Close() error
}

const (
	defaultRecorderQueue = 256
	defaultWriteTimeout  = 5 * time.Second
)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderMetrics records per-sink write outcomes on m.
func WithRecorderMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithWriteTimeout bounds each sink write. Default: 5s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.writeTimeout = d }
}

// WithQueueSize sets the number of batches buffered ahead of the writer.
// Default: 256.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) { r.queueSize = n }
}

// WithBreakerConfig sets the circuit breaker template used for every sink.
// The breaker name is always the sink name.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) RecorderOption {
	return func(r *Recorder) { r.breakerCfg = cfg }
}

type guardedSink struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
}

type batch struct {
	sessionID string
	items     []Item
}

// Recorder fans committed items out to sinks on a background goroutine. A
// failing sink never blocks the session: writes are queued, each sink sits
// behind its own circuit breaker, and a full queue drops the batch.
type Recorder struct {
	metrics      *observe.Metrics
	writeTimeout time.Duration
	queueSize    int
	breakerCfg   resilience.CircuitBreakerConfig

	sinks []guardedSink
	queue chan batch
	done  chan struct{}

	// abort cancels in-flight writes and discards the queue when Close gives
	// up waiting.
	abort  context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// NewRecorder starts a Recorder writing to sinks. With no sinks Record is a
// no-op.
func NewRecorder(sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		writeTimeout: defaultWriteTimeout,
		queueSize:    defaultRecorderQueue,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	for _, s := range sinks {
		cfg := r.breakerCfg
		cfg.Name = s.Name()
		r.sinks = append(r.sinks, guardedSink{sink: s, breaker: resilience.NewCircuitBreaker(cfg)})
	}
	r.queue = make(chan batch, r.queueSize)
	r.abort, r.cancel = context.WithCancel(context.Background())
	go r.run()
	return r
}

// Record queues items for every sink. It never blocks.
func (r *Recorder) Record(sessionID string, items ...Item) {
	if len(items) == 0 || len(r.sinks) == 0 {
		return
	}
	b := batch{sessionID: sessionID, items: append([]Item(nil), items...)}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- b:
	default:
		slog.Warn("transcript: recorder queue full, dropping items",
			"session_id", sessionID, "items", len(items))
	}
}

// Close stops accepting items, waits for queued batches to be written and
// closes every sink. When ctx expires first, in-flight writes are cancelled
// and the rest of the queue is discarded; sinks are closed only after the
// writer has stopped.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		var errs []error
		select {
		case <-r.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("transcript: flush: %w", ctx.Err()))
			r.cancel()
			<-r.done
		}
		r.cancel()
		for _, g := range r.sinks {
			if err := g.sink.Close(); err != nil {
				errs = append(errs, fmt.Errorf("transcript: close %s: %w", g.sink.Name(), err))
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

func (r *Recorder) run() {
	defer close(r.done)
	dropped := 0
	for b := range r.queue {
		if r.abort.Err() != nil {
			dropped += len(b.items)
			continue
		}
		if err := r.write(r.abort, b); err != nil {
			slog.Warn("transcript: sink write failed", "session_id", b.sessionID, "err", err)
		}
	}
	if dropped > 0 {
		slog.Warn("transcript: recorder closed before flushing, items dropped", "items", dropped)
	}
}

// write sends one batch to every sink in parallel. Every sink is attempted
// even if another fails.
func (r *Recorder) write(ctx context.Context, b batch) error {
	var g errgroup.Group
	for _, gs := range r.sinks {
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
			defer cancel()
			err := gs.breaker.Do(wctx, func(ctx context.Context) error {
				return gs.sink.Write(ctx, b.sessionID, b.items)
			})
			r.recordOutcome(ctx, gs.sink.Name(), err)
			if err != nil {
				return fmt.Errorf("%s: %w", gs.sink.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Recorder) recordOutcome(ctx context.Context, sink string, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "rejected"
	case err != nil:
		status = "error"
	}
	r.metrics.RecordSinkWrite(ctx, sink, status)
}
