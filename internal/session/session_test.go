package session_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/asmcenter/voicecoach/internal/session"
	"github.com/asmcenter/voicecoach/internal/transcript"
	"github.com/asmcenter/voicecoach/pkg/audio"
	amock "github.com/asmcenter/voicecoach/pkg/audio/mock"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
	rmock "github.com/asmcenter/voicecoach/pkg/provider/realtime/mock"
)

// ── helpers ───────────────────────────────────────────────────────────────────

type recordingObserver struct {
	mu       sync.Mutex
	statuses []session.Status
	items    []transcript.Item
	errors   []string
}

func (r *recordingObserver) OnStatusChange(s session.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingObserver) OnTranscriptAppended(it transcript.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, it)
}

func (r *recordingObserver) OnError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recordingObserver) snapshot() ([]session.Status, []transcript.Item, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.statuses), slices.Clone(r.items), slices.Clone(r.errors)
}

type harness struct {
	sess     *session.Session
	host     *amock.Host
	provider *rmock.Provider
	channel  *rmock.Channel
	obs      *recordingObserver
}

func newHarness(t *testing.T, cfg session.Config) *harness {
	t.Helper()
	h := &harness{
		host:    &amock.Host{},
		channel: rmock.NewChannel(),
		obs:     &recordingObserver{},
	}
	h.provider = &rmock.Provider{Channel: h.channel}
	return h.build(cfg)
}

func (h *harness) build(cfg session.Config) *harness {
	h.sess = session.New(cfg, session.Deps{
		Host:     h.host,
		Provider: h.provider,
		Observer: h.obs,
	})
	return h
}

// open starts the session and confirms the channel.
func (h *harness) open(t *testing.T) {
	t.Helper()
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.channel.Emit(realtime.Event{Kind: realtime.EventOpen})
	waitFor(t, "status active", func() bool { return h.sess.Status() == session.StatusActive })
}

// turn emits a user transcription followed by a turn boundary and waits for
// it to be committed. Since events are processed in order, everything emitted
// before it has been handled once it returns.
func (h *harness) turn(t *testing.T, text string) {
	t.Helper()
	n := len(h.sess.Transcript())
	h.channel.EmitContent(realtime.ServerContent{
		InputTranscription: &realtime.Transcription{Text: text},
		TurnComplete:       true,
	})
	waitFor(t, "turn "+text, func() bool { return len(h.sess.Transcript()) == n+1 })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, s *session.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to end")
	}
}

func audioPart(d time.Duration) realtime.Part {
	samples := make([]float32, audio.DurationToFrames(d, session.DefaultOutputSampleRate))
	return realtime.Part{InlineData: &realtime.InlineData{
		MIMEType: "audio/pcm;rate=24000",
		Data:     audio.EncodeFrame(samples),
	}}
}

// ── lifecycle ─────────────────────────────────────────────────────────────────

func TestSession_StartOpenStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{Realtime: realtime.SessionConfig{
		Voice:             "Kore",
		SystemInstruction: "You are an interviewer.",
	}})
	h.open(t)

	if got := len(h.provider.ConnectCalls); got != 1 {
		t.Fatalf("Connect calls = %d, want 1", got)
	}
	cfg := h.provider.ConnectCalls[0].Cfg
	if cfg.Voice != "Kore" || !cfg.InputTranscription || !cfg.OutputTranscription {
		t.Errorf("session config = %+v", cfg)
	}
	if !slices.Equal(cfg.ResponseModalities, []realtime.Modality{realtime.ModalityAudio}) {
		t.Errorf("modalities = %v, want [AUDIO]", cfg.ResponseModalities)
	}
	if got := h.host.Input().SampleRate(); got != 16000 {
		t.Errorf("input rate = %d, want 16000", got)
	}
	if got := h.host.Output().SampleRate(); got != 24000 {
		t.Errorf("output rate = %d, want 24000", got)
	}
	if h.sess.Deadline().IsZero() {
		t.Error("Deadline is zero for an active session")
	}

	if err := h.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, h.sess)

	statuses, _, errs := h.obs.snapshot()
	want := []session.Status{session.StatusConnecting, session.StatusActive, session.StatusFinished}
	if !slices.Equal(statuses, want) {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
	if !h.channel.Closed() {
		t.Error("channel not closed")
	}
	if !h.host.Microphone().Stopped() {
		t.Error("microphone not stopped")
	}
	if !h.host.Input().Closed() || !h.host.Output().Closed() {
		t.Error("audio contexts not closed")
	}
}

func TestSession_CapturedFramesReachChannel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)
	t.Cleanup(func() { _ = h.sess.Stop() })

	mic := h.host.Microphone()
	if mic.BlockSize != 4096 {
		t.Errorf("block size = %d, want 4096", mic.BlockSize)
	}
	if !mic.Emit(make([]float32, 4096)) {
		t.Fatal("microphone not started after open")
	}
	select {
	case <-h.channel.SentSignal():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent")
	}
	sent := h.channel.Sends()
	if len(sent) != 1 || sent[0].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestSession_NoCaptureBeforeOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.sess.Stop() })

	if got := h.sess.Status(); got != session.StatusConnecting {
		t.Errorf("status = %v, want connecting", got)
	}
	if h.host.Microphone().Emit(make([]float32, 4096)) {
		t.Error("microphone delivered blocks before the channel opened")
	}
}

func TestSession_StopTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)

	if err := h.sess.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := h.sess.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	waitDone(t, h.sess)

	if got := h.channel.Closes(); got != 1 {
		t.Errorf("channel Close calls = %d, want 1", got)
	}
	if got := h.host.Input().CallCountClose; got != 1 {
		t.Errorf("input Close calls = %d, want 1", got)
	}
	statuses, _, _ := h.obs.snapshot()
	if n := countStatus(statuses, session.StatusFinished); n != 1 {
		t.Errorf("finished notified %d times, want 1", n)
	}
}

func countStatus(ss []session.Status, want session.Status) int {
	n := 0
	for _, s := range ss {
		if s == want {
			n++
		}
	}
	return n
}

func TestSession_ConcurrentStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() { _ = h.sess.Stop() })
	}
	h.channel.Emit(realtime.Event{Kind: realtime.EventClose})
	wg.Wait()
	waitDone(t, h.sess)

	if got := h.sess.Status(); got != session.StatusFinished {
		t.Errorf("status = %v, want finished", got)
	}
	if got := h.channel.Closes(); got != 1 {
		t.Errorf("channel Close calls = %d, want 1", got)
	}
}

func TestSession_StartTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)
	t.Cleanup(func() { _ = h.sess.Stop() })

	if err := h.sess.Start(context.Background()); !errors.Is(err, session.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestSession_StopIdleIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	if err := h.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := h.sess.Status(); got != session.StatusIdle {
		t.Errorf("status = %v, want idle", got)
	}
}

func TestSession_TeardownJoinsErrors(t *testing.T) {
	t.Parallel()

	closeErr := errors.New("device busy")
	h := newHarness(t, session.Config{})
	h.host.CloseErr = closeErr
	h.open(t)

	err := h.sess.Stop()
	if !errors.Is(err, closeErr) {
		t.Fatalf("Stop = %v, want wrapping %v", err, closeErr)
	}
	// Later steps still ran.
	if !h.host.Output().Closed() {
		t.Error("output context not closed after input close failed")
	}
	if got := h.sess.Status(); got != session.StatusFinished {
		t.Errorf("status = %v, want finished", got)
	}
}

// ── start failures ────────────────────────────────────────────────────────────

func TestSession_StartFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(h *harness)
		wantKind session.ErrorKind
		wantMsg  string
	}{
		{
			name: "permission denied",
			setup: func(h *harness) {
				h.host.MicErr = fmt.Errorf("portaudio: open stream: %w", audio.ErrPermissionDenied)
			},
			wantKind: session.KindPermissionDenied,
			wantMsg:  "Microphone access was denied. Check microphone permissions and try again.",
		},
		{
			name:     "microphone unavailable",
			setup:    func(h *harness) { h.host.MicErr = errors.New("no default input device") },
			wantKind: session.KindDeviceFailure,
			wantMsg:  "Audio device unavailable. Please check your speakers and microphone.",
		},
		{
			name:     "output device",
			setup:    func(h *harness) { h.host.OutputErr = errors.New("no speakers") },
			wantKind: session.KindDeviceFailure,
			wantMsg:  "Audio device unavailable. Please check your speakers and microphone.",
		},
		{
			name:     "connect",
			setup:    func(h *harness) { h.provider.ConnectErr = errors.New("dial tcp: connection refused") },
			wantKind: session.KindChannelOpenFailure,
			wantMsg:  "Could not connect to the interview service. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, session.Config{})
			tt.setup(h)

			err := h.sess.Start(context.Background())
			if got := session.KindOf(err); got != tt.wantKind {
				t.Fatalf("Start = %v (kind %v), want kind %v", err, got, tt.wantKind)
			}
			waitDone(t, h.sess)

			if got := h.sess.Status(); got != session.StatusError {
				t.Errorf("status = %v, want error", got)
			}
			if h.sess.Err() != err {
				t.Errorf("Err = %v, want %v", h.sess.Err(), err)
			}
			_, _, errs := h.obs.snapshot()
			if len(errs) != 1 || errs[0] != tt.wantMsg {
				t.Errorf("errors = %q, want [%q]", errs, tt.wantMsg)
			}
			for i, in := range h.host.Inputs {
				if !in.Closed() {
					t.Errorf("input context %d left open", i)
				}
				if mic := in.Microphone(); mic != nil && !mic.Stopped() {
					t.Errorf("microphone %d left running", i)
				}
			}
			for i, out := range h.host.Outputs {
				if !out.Closed() {
					t.Errorf("output context %d left open", i)
				}
			}
		})
	}
}

func TestSession_MicrophoneStartFailureOnOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		startErr error
		wantKind session.ErrorKind
		wantMsg  string
	}{
		{
			name:     "permission denied",
			startErr: fmt.Errorf("portaudio: start input stream: %w: access refused", audio.ErrPermissionDenied),
			wantKind: session.KindPermissionDenied,
			wantMsg:  "Microphone access was denied. Check microphone permissions and try again.",
		},
		{
			name:     "device gone",
			startErr: errors.New("malgo: device unplugged"),
			wantKind: session.KindDeviceFailure,
			wantMsg:  "Audio device unavailable. Please check your speakers and microphone.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, session.Config{})
			if err := h.sess.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			h.host.Microphone().StartErr = tt.startErr
			h.channel.Emit(realtime.Event{Kind: realtime.EventOpen})
			waitDone(t, h.sess)

			if got := h.sess.Status(); got != session.StatusError {
				t.Fatalf("status = %v, want error", got)
			}
			if got := session.KindOf(h.sess.Err()); got != tt.wantKind {
				t.Errorf("kind = %v, want %v", got, tt.wantKind)
			}
			if !errors.Is(h.sess.Err(), tt.startErr) {
				t.Errorf("Err = %v, want wrapping %v", h.sess.Err(), tt.startErr)
			}
			_, _, errs := h.obs.snapshot()
			if len(errs) != 1 || errs[0] != tt.wantMsg {
				t.Errorf("errors = %q, want [%q]", errs, tt.wantMsg)
			}
		})
	}
}

func TestSession_PermissionDeniedSkipsConnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.host.MicErr = audio.ErrPermissionDenied

	err := h.sess.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start = %v, want wrapping ErrPermissionDenied", err)
	}
	if got := len(h.provider.ConnectCalls); got != 0 {
		t.Errorf("Connect calls = %d, want 0", got)
	}
}

// ── channel events ────────────────────────────────────────────────────────────

func TestSession_ClosedBeforeOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.channel.Emit(realtime.Event{Kind: realtime.EventClose, Reason: "invalid api key"})
	waitDone(t, h.sess)

	if got := session.KindOf(h.sess.Err()); got != session.KindChannelOpenFailure {
		t.Errorf("kind = %v, want channel_open_failure", got)
	}
	statuses, _, _ := h.obs.snapshot()
	want := []session.Status{session.StatusConnecting, session.StatusError}
	if !slices.Equal(statuses, want) {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
}

func TestSession_RemoteCloseFinishes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)

	h.channel.Emit(realtime.Event{Kind: realtime.EventClose, Reason: "session ended"})
	waitDone(t, h.sess)

	if got := h.sess.Status(); got != session.StatusFinished {
		t.Errorf("status = %v, want finished", got)
	}
	if err := h.sess.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
	_, _, errs := h.obs.snapshot()
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
	if !h.host.Microphone().Stopped() {
		t.Error("microphone not stopped")
	}
}

func TestSession_RuntimeError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)

	netErr := errors.New("websocket: read: connection reset by peer")
	h.channel.Emit(realtime.Event{Kind: realtime.EventError, Err: netErr})
	waitDone(t, h.sess)

	if got := h.sess.Status(); got != session.StatusError {
		t.Errorf("status = %v, want error", got)
	}
	if !errors.Is(h.sess.Err(), netErr) {
		t.Errorf("Err = %v, want wrapping %v", h.sess.Err(), netErr)
	}
	statuses, _, errs := h.obs.snapshot()
	if last := statuses[len(statuses)-1]; last != session.StatusError {
		t.Errorf("last status = %v, want error", last)
	}
	if len(errs) != 1 || errs[0] != "Connection lost. Please try again." {
		t.Errorf("errors = %q", errs)
	}
}

func TestSession_SendFailureIsRuntimeError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.channel.SendErr = errors.New("broken pipe")
	h.open(t)

	h.host.Microphone().Emit(make([]float32, 4096))
	waitDone(t, h.sess)

	if got := session.KindOf(h.sess.Err()); got != session.KindChannelRuntimeError {
		t.Errorf("kind = %v, want channel_runtime_error", got)
	}
}

func TestSession_EventsBeforeOpenAreIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.sess.Stop() })

	h.channel.EmitContent(realtime.ServerContent{
		InputTranscription: &realtime.Transcription{Text: "early"},
		TurnComplete:       true,
	})
	h.channel.Emit(realtime.Event{Kind: realtime.EventOpen})
	waitFor(t, "status active", func() bool { return h.sess.Status() == session.StatusActive })
	h.turn(t, "late")

	items := h.sess.Transcript()
	if len(items) != 1 || items[0].Text != "late" {
		t.Errorf("transcript = %+v, want only the post-open turn", items)
	}
}

// ── transcript ────────────────────────────────────────────────────────────────

func TestSession_TranscriptDeltasCommitOnTurnComplete(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := &harness{
		host:    &amock.Host{},
		channel: rmock.NewChannel(),
		obs:     &recordingObserver{},
	}
	h.provider = &rmock.Provider{Channel: h.channel}
	h.sess = session.New(session.Config{}, session.Deps{
		Host:     h.host,
		Provider: h.provider,
		Observer: h.obs,
		Now:      func() time.Time { return now },
	})
	h.open(t)

	h.channel.EmitContent(realtime.ServerContent{InputTranscription: &realtime.Transcription{Text: "Hel"}})
	h.channel.EmitContent(realtime.ServerContent{InputTranscription: &realtime.Transcription{Text: "lo"}})
	h.channel.EmitContent(realtime.ServerContent{OutputTranscription: &realtime.Transcription{Text: "Hi"}})
	h.channel.EmitContent(realtime.ServerContent{TurnComplete: true})
	waitFor(t, "commit", func() bool { return len(h.sess.Transcript()) == 2 })

	want := []transcript.Item{
		{Role: transcript.RoleUser, Text: "Hello", Timestamp: now},
		{Role: transcript.RoleModel, Text: "Hi", Timestamp: now},
	}
	if got := h.sess.Transcript(); !slices.Equal(got, want) {
		t.Errorf("transcript = %+v, want %+v", got, want)
	}

	// An empty turn appends nothing.
	h.channel.EmitContent(realtime.ServerContent{TurnComplete: true})
	h.turn(t, "next")
	if got := len(h.sess.Transcript()); got != 3 {
		t.Errorf("transcript length = %d, want 3", got)
	}

	if err := h.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, h.sess)
	_, items, _ := h.obs.snapshot()
	if len(items) != 3 || !slices.Equal(items[:2], want) {
		t.Errorf("observed items = %+v", items)
	}
}

func TestSession_TranscriptKeptAfterStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)
	h.turn(t, "I have five years of experience.")
	_ = h.sess.Stop()

	if got := len(h.sess.Transcript()); got != 1 {
		t.Errorf("transcript length after stop = %d, want 1", got)
	}
}

// ── playback ──────────────────────────────────────────────────────────────────

func TestSession_AudioIsScheduledBackToBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)
	t.Cleanup(func() { _ = h.sess.Stop() })

	h.channel.EmitContent(realtime.ServerContent{ModelTurn: &realtime.ModelTurn{
		Parts: []realtime.Part{audioPart(time.Second), audioPart(time.Second)},
	}})
	h.channel.EmitContent(realtime.ServerContent{ModelTurn: &realtime.ModelTurn{
		Parts: []realtime.Part{audioPart(time.Second)},
	}})
	h.turn(t, "marker")

	if got := h.host.Output().Active(); got != 3 {
		t.Errorf("active sources = %d, want 3", got)
	}
}

func TestSession_InterruptionStopsPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)
	t.Cleanup(func() { _ = h.sess.Stop() })

	h.channel.EmitContent(realtime.ServerContent{ModelTurn: &realtime.ModelTurn{
		Parts: []realtime.Part{audioPart(time.Second), audioPart(time.Second)},
	}})
	h.turn(t, "before")
	if got := h.host.Output().Active(); got != 2 {
		t.Fatalf("active sources = %d, want 2", got)
	}

	h.channel.EmitContent(realtime.ServerContent{Interrupted: true})
	h.turn(t, "after")
	if got := h.host.Output().Active(); got != 0 {
		t.Errorf("active sources after interruption = %d, want 0", got)
	}
	if got := h.sess.Status(); got != session.StatusActive {
		t.Errorf("status = %v, want active", got)
	}
}

func TestSession_MalformedAudioIsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)
	t.Cleanup(func() { _ = h.sess.Stop() })

	h.channel.EmitContent(realtime.ServerContent{ModelTurn: &realtime.ModelTurn{
		Parts: []realtime.Part{
			{InlineData: &realtime.InlineData{MIMEType: "audio/pcm;rate=24000", Data: "AAAA"}},
			audioPart(time.Second),
		},
	}})
	h.turn(t, "marker")

	if got := h.sess.Status(); got != session.StatusActive {
		t.Errorf("status = %v, want active", got)
	}
	if got := h.host.Output().Active(); got != 1 {
		t.Errorf("active sources = %d, want 1", got)
	}
}

func TestSession_StopSilencesPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.open(t)

	h.channel.EmitContent(realtime.ServerContent{ModelTurn: &realtime.ModelTurn{
		Parts: []realtime.Part{audioPart(time.Second)},
	}})
	h.turn(t, "marker")
	_ = h.sess.Stop()

	if got := h.host.Output().Active(); got != 0 {
		t.Errorf("active sources after stop = %d, want 0", got)
	}
}

// ── max duration ──────────────────────────────────────────────────────────────

func TestSession_MaxDurationFinishes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{MaxDuration: 20 * time.Millisecond})
	h.open(t)
	waitDone(t, h.sess)

	if got := h.sess.Status(); got != session.StatusFinished {
		t.Errorf("status = %v, want finished", got)
	}
	if h.sess.Err() != nil {
		t.Errorf("Err = %v, want nil", h.sess.Err())
	}
}

func TestSession_MaxDurationDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{MaxDuration: -1})
	h.open(t)
	t.Cleanup(func() { _ = h.sess.Stop() })

	if !h.sess.Deadline().IsZero() {
		t.Errorf("Deadline = %v, want zero", h.sess.Deadline())
	}
}

// ── status ────────────────────────────────────────────────────────────────────

func TestStatus_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   session.Status
		want     string
		terminal bool
	}{
		{session.StatusIdle, "idle", false},
		{session.StatusConnecting, "connecting", false},
		{session.StatusActive, "active", false},
		{session.StatusFinished, "finished", true},
		{session.StatusError, "error", true},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.want, got, tt.terminal)
		}
		var parsed session.Status
		if err := parsed.UnmarshalText([]byte(tt.want)); err != nil || parsed != tt.status {
			t.Errorf("UnmarshalText(%q) = %v, %v", tt.want, parsed, err)
		}
	}

	var s session.Status
	if err := s.UnmarshalText([]byte("paused")); err == nil {
		t.Error("UnmarshalText accepted an unknown status")
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("refused")
	err := fmt.Errorf("start: %w", &session.Error{Kind: session.KindChannelOpenFailure, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if got := session.KindOf(err); got != session.KindChannelOpenFailure {
		t.Errorf("KindOf = %v", got)
	}
	if got := session.KindOf(cause); got != 0 {
		t.Errorf("KindOf(plain error) = %v, want 0", got)
	}
}
