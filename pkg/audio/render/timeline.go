// Package render provides a software [audio.OutputContext]: a sample-accurate
// playback clock with a start-time ordered queue of scheduled buffers.
//
// A device backend drives the clock by calling [Timeline.Render] from its
// output callback. Each call mixes every voice that overlaps the requested
// window into the output and advances the clock by the number of frames
// rendered. Without a device the clock only moves when Render is called,
// which is what tests rely on.
package render

import (
	"container/heap"
	"sync"
	"time"

	"github.com/asmcenter/voicecoach/pkg/audio"
)

var _ audio.OutputContext = (*Timeline)(nil)

// Timeline is safe for concurrent use. Ended callbacks are invoked on the
// goroutine calling Render after the internal lock has been released, so
// they may call back into the Timeline.
type Timeline struct {
	rate     int
	channels int

	mu      sync.Mutex
	clock   int64 // frames rendered so far
	pending voiceHeap
	playing []*voice
	seq     uint64
	closed  bool
}

// New returns a Timeline at sampleRate rendering interleaved output with the
// given channel count (1 or 2 in practice).
func New(sampleRate, channels int) *Timeline {
	if channels <= 0 {
		channels = 1
	}
	return &Timeline{rate: sampleRate, channels: channels}
}

// SampleRate implements [audio.OutputContext].
func (t *Timeline) SampleRate() int { return t.rate }

// Channels returns the interleaved output channel count.
func (t *Timeline) Channels() int { return t.channels }

// CurrentTime implements [audio.OutputContext].
func (t *Timeline) CurrentTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.FramesToDuration(t.clock, t.rate)
}

// Schedule implements [audio.OutputContext].
func (t *Timeline) Schedule(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, audio.ErrContextClosed
	}

	start := audio.DurationToFrames(at, t.rate)
	if start < t.clock {
		start = t.clock
	}
	t.seq++
	v := &voice{
		t:       t,
		buf:     buf,
		start:   start,
		seq:     t.seq,
		onEnded: onEnded,
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Active returns the number of scheduled voices that have neither ended nor
// been stopped.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.pending {
		if !v.done {
			n++
		}
	}
	for _, v := range t.playing {
		if !v.done {
			n++
		}
	}
	return n
}

// Render fills out with the next len(out)/Channels() frames of mixed output
// and advances the clock by that many frames. A closed Timeline renders
// silence and keeps its clock.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	frames := len(out) / t.channels
	end := t.clock + int64(frames)

	for t.pending.Len() > 0 && t.pending[0].start < end {
		v := heap.Pop(&t.pending).(*voice)
		if !v.done {
			t.playing = append(t.playing, v)
		}
	}

	var ended []func()
	keep := t.playing[:0]
	for _, v := range t.playing {
		if v.done {
			continue
		}
		offset := 0
		if v.start > t.clock {
			offset = int(v.start - t.clock)
		}
		n := min(frames-offset, v.buf.Frames()-v.pos)
		if n > 0 {
			t.mix(out, offset, v, n)
			v.pos += n
		}
		if v.pos >= v.buf.Frames() {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		keep = append(keep, v)
	}
	clear(t.playing[len(keep):])
	t.playing = keep
	t.clock = end
	t.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	for _, fn := range ended {
		fn()
	}
}

// mix adds n frames of v, starting at its current position, into out at
// frame offset. Must be called with t.mu held.
func (t *Timeline) mix(out []float32, offset int, v *voice, n int) {
	planes := v.buf.Planes
	if len(planes) == 0 {
		return
	}
	if t.channels == 1 && len(planes) > 1 {
		scale := 1 / float32(len(planes))
		for i := range n {
			var sum float32
			for _, p := range planes {
				sum += p[v.pos+i]
			}
			out[offset+i] += sum * scale
		}
		return
	}
	for i := range n {
		base := (offset + i) * t.channels
		for c := range t.channels {
			p := planes[min(c, len(planes)-1)]
			out[base+c] += p[v.pos+i]
		}
	}
}

// Close implements [audio.OutputContext]. Pending and playing voices are
// dropped without firing their ended callbacks.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, v := range t.pending {
		v.done = true
	}
	for _, v := range t.playing {
		v.done = true
	}
	t.pending = nil
	t.playing = nil
	return nil
}

// voice is one scheduled buffer. Stopped voices stay in the heap until they
// are popped and skipped.
type voice struct {
	t       *Timeline
	buf     *audio.Buffer
	start   int64
	pos     int
	seq     uint64
	onEnded func()
	done    bool
}

// Stop implements [audio.Source].
func (v *voice) Stop() {
	v.t.mu.Lock()
	v.done = true
	v.t.mu.Unlock()
}
