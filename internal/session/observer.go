package session

import (
	"sync"

	"github.com/asmcenter/voicecoach/internal/transcript"
)

// Observer receives session notifications. Calls for one session arrive in
// order on a single goroutine and never while the session holds a lock, so
// implementations may call back into the session or its owner.
type Observer interface {
	OnStatusChange(status Status)
	OnTranscriptAppended(item transcript.Item)
	OnError(message string)
}

// ObserverFuncs adapts plain functions to [Observer]. Nil fields are skipped.
type ObserverFuncs struct {
	StatusChange       func(Status)
	TranscriptAppended func(transcript.Item)
	Error              func(string)
}

var _ Observer = ObserverFuncs{}

func (f ObserverFuncs) OnStatusChange(s Status) {
	if f.StatusChange != nil {
		f.StatusChange(s)
	}
}

func (f ObserverFuncs) OnTranscriptAppended(it transcript.Item) {
	if f.TranscriptAppended != nil {
		f.TranscriptAppended(it)
	}
}

func (f ObserverFuncs) OnError(msg string) {
	if f.Error != nil {
		f.Error(msg)
	}
}

// Observers fans every notification out to each element in order.
type Observers []Observer

var _ Observer = Observers(nil)

func (o Observers) OnStatusChange(s Status) {
	for _, ob := range o {
		ob.OnStatusChange(s)
	}
}

func (o Observers) OnTranscriptAppended(it transcript.Item) {
	for _, ob := range o {
		ob.OnTranscriptAppended(it)
	}
}

func (o Observers) OnError(msg string) {
	for _, ob := range o {
		ob.OnError(msg)
	}
}

// ── Notifier ──────────────────────────────────────────────────────────────────

// notifier delivers observer calls on its own goroutine. post never blocks;
// the queue is unbounded because a session produces a handful of events per
// turn. Posts before start are queued. After close the remaining queue is
// drained and done is closed.
type notifier struct {
	obs   Observer
	start sync.Once

	mu     sync.Mutex
	queue  []func(Observer)
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newNotifier(obs Observer) *notifier {
	n := &notifier{
		obs:  obs,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	return n
}

// launch starts the delivery goroutine. Later calls do nothing.
func (n *notifier) launch() {
	n.start.Do(func() { go n.run() })
}

func (n *notifier) post(fn func(Observer)) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, fn := range batch {
			fn(n.obs)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-n.wake
	}
}
