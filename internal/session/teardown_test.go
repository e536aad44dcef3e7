package session

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/asmcenter/voicecoach/internal/transcript"
)

type fakeTeardown struct {
	calls    []string
	channel  error
	tracks   error
	contexts error
}

func (f *fakeTeardown) CloseChannel() error {
	f.calls = append(f.calls, "channel")
	return f.channel
}

func (f *fakeTeardown) StopTracks() error {
	f.calls = append(f.calls, "tracks")
	return f.tracks
}

func (f *fakeTeardown) CloseAudioContexts() error {
	f.calls = append(f.calls, "contexts")
	return f.contexts
}

func (f *fakeTeardown) StopSources() {
	f.calls = append(f.calls, "sources")
}

func TestShutdown_RunsEveryStepInOrder(t *testing.T) {
	t.Parallel()

	chErr := errors.New("already closed")
	ctxErr := errors.New("device lost")
	f := &fakeTeardown{channel: chErr, contexts: ctxErr}

	err := shutdown(f)

	want := []string{"channel", "tracks", "contexts", "sources"}
	if !slices.Equal(f.calls, want) {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}
	if !errors.Is(err, chErr) || !errors.Is(err, ctxErr) {
		t.Errorf("shutdown = %v, want both step errors", err)
	}
}

func TestShutdown_EmptyContext(t *testing.T) {
	t.Parallel()

	if err := shutdown(newContext(func() {})); err != nil {
		t.Errorf("shutdown of an empty context = %v, want nil", err)
	}
}

func TestNotifier_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []string
	)
	n := newNotifier(ObserverFuncs{
		TranscriptAppended: func(it transcript.Item) {
			mu.Lock()
			got = append(got, it.Text)
			mu.Unlock()
		},
	})
	n.post(func(o Observer) { o.OnTranscriptAppended(transcript.Item{Text: "a"}) })
	n.launch()

	want := []string{"a", "b", "c", "d"}
	for _, s := range want[1:] {
		n.post(func(o Observer) { o.OnTranscriptAppended(transcript.Item{Text: s}) })
	}
	n.close()
	n.post(func(o Observer) { o.OnTranscriptAppended(transcript.Item{Text: "late"}) })

	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, want) {
		t.Errorf("delivered = %v, want %v", got, want)
	}
}

func TestNotifier_PostDoesNotWaitForObserver(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	n := newNotifier(ObserverFuncs{StatusChange: func(Status) { <-release }})
	n.launch()

	posted := make(chan struct{})
	go func() {
		for range 100 {
			n.post(func(o Observer) { o.OnStatusChange(StatusActive) })
		}
		close(posted)
	}()

	select {
	case <-posted:
	case <-time.After(2 * time.Second):
		t.Fatal("post blocked on a slow observer")
	}
	close(release)
	n.close()
	<-n.done
}

func TestNotifier_IdleUntilLaunched(t *testing.T) {
	t.Parallel()

	delivered := make(chan Status, 1)
	n := newNotifier(ObserverFuncs{StatusChange: func(st Status) { delivered <- st }})
	n.post(func(o Observer) { o.OnStatusChange(StatusConnecting) })

	select {
	case st := <-delivered:
		t.Fatalf("delivered %v before launch", st)
	case <-time.After(50 * time.Millisecond):
	}

	n.launch()
	n.launch()
	if st := <-delivered; st != StatusConnecting {
		t.Errorf("delivered %v, want connecting", st)
	}
	n.close()
	<-n.done
}

func TestObservers_FanOut(t *testing.T) {
	t.Parallel()

	var a, b []string
	obs := Observers{
		ObserverFuncs{Error: func(m string) { a = append(a, m) }},
		ObserverFuncs{Error: func(m string) { b = append(b, m) }},
		ObserverFuncs{},
	}
	obs.OnError("boom")
	obs.OnStatusChange(StatusError)

	if len(a) != 1 || len(b) != 1 {
		t.Errorf("fan-out = %v / %v", a, b)
	}
}
