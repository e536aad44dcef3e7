// Package playback sequences decoded response audio on an output clock so
// segments play back-to-back in arrival order.
//
// Each segment starts at max(cursor, now) where cursor is the end of the
// previously scheduled segment and now is the output clock. Late segments
// therefore start immediately and early segments queue behind what is already
// playing, without gaps or overlaps. Interrupt stops everything that is
// playing or pending and rewinds the cursor.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asmcenter/voicecoach/internal/observe"
	"github.com/asmcenter/voicecoach/pkg/audio"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records scheduling counters and lead times on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler owns the timeline cursor and the set of active sources for one
// output context. It is safe for concurrent use.
type Scheduler struct {
	out     audio.OutputContext
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	cursor time.Duration
	active map[uint64]audio.Source
	nextID uint64
	closed bool
}

// New creates a Scheduler on out with a zero cursor and no active sources.
func New(out audio.OutputContext, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		log:    slog.Default(),
		active: make(map[uint64]audio.Source),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule queues buf after everything already scheduled and returns its
// start time on the output clock.
func (s *Scheduler) Schedule(buf *audio.Buffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	now := s.out.CurrentTime()
	start := max(s.cursor, now)

	s.nextID++
	id := s.nextID
	src, err := s.out.Schedule(buf, start, func() { s.ended(id) })
	if err != nil {
		return 0, fmt.Errorf("playback: schedule: %w", err)
	}
	s.active[id] = src
	s.cursor = start + buf.Duration()

	if s.metrics != nil {
		ctx := context.Background()
		s.metrics.SegmentsScheduled.Add(ctx, 1)
		s.metrics.ScheduleLead.Record(ctx, (start - now).Seconds())
	}
	return start, nil
}

// ScheduleEncoded decodes a base64 PCM16 mono payload at sampleRate and
// schedules it, resampling to the output rate when they differ. Undecodable
// payloads are counted and returned as errors without touching the timeline.
func (s *Scheduler) ScheduleEncoded(data string, sampleRate int) (time.Duration, error) {
	buf, err := audio.DecodeBase64Segment(data, sampleRate, 1)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SegmentsMalformed.Add(context.Background(), 1)
		}
		return 0, fmt.Errorf("playback: %w", err)
	}
	if buf.Frames() == 0 {
		return s.Cursor(), nil
	}
	if rate := s.out.SampleRate(); rate > 0 && rate != sampleRate {
		pcm := audio.ResampleMono16(audio.EncodePCM16(buf.Planes[0]), sampleRate, rate)
		if buf, err = audio.DecodeSegment(pcm, rate, 1); err != nil {
			return 0, fmt.Errorf("playback: resample: %w", err)
		}
	}
	return s.Schedule(buf)
}

// Interrupt stops every active source, clears the set and rewinds the cursor
// to zero. It returns the number of sources stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	n := s.stopAllLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Interruptions.Add(context.Background(), 1)
	}
	s.log.Debug("playback: interrupted", "stopped", n)
	return n
}

// StopAll stops every active source, clears the set and rewinds the cursor
// without counting an interruption.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopAllLocked()
}

// Close stops every active source and rejects further scheduling. It is
// idempotent and does not close the output context.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopAllLocked()
}

// Cursor returns the time at which the next segment would start if the
// output clock has not passed it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// ActiveCount returns the number of sources playing or pending.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) stopAllLocked() int {
	n := len(s.active)
	for id, src := range s.active {
		src.Stop()
		delete(s.active, id)
	}
	s.cursor = 0
	return n
}

// ended removes a finished source. Sources already removed by Interrupt or
// Close are ignored; ids are never reused.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
