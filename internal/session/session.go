// Package session runs one realtime voice interview from microphone request
// to teardown.
//
// A Session moves through idle → connecting → active and ends in finished or
// error; terminal states are final and a new interview needs a new Session.
// All inbound channel events are handled serially on one goroutine through a
// dispatch table keyed by (status, event kind). Every path that ends a
// session goes through the same teardown, which runs exactly once per
// session:
//
//  1. close the realtime channel
//  2. stop the microphone tracks
//  3. close both audio contexts
//  4. force-stop every scheduled playback source
//
// Observers are notified asynchronously, in order, from a dedicated
// goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/asmcenter/voicecoach/internal/capture"
	"github.com/asmcenter/voicecoach/internal/observe"
	"github.com/asmcenter/voicecoach/internal/playback"
	"github.com/asmcenter/voicecoach/internal/transcript"
	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
)

const (
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000

	// DefaultMaxDuration bounds an interview once it is active.
	DefaultMaxDuration = 30 * time.Minute
)

// Config controls one session.
type Config struct {
	// InputSampleRate is the capture rate in Hz. Defaults to 16000.
	InputSampleRate int

	// OutputSampleRate is the playback rate in Hz. Defaults to 24000.
	OutputSampleRate int

	// BlockSize is the number of samples per captured frame. Defaults to 4096.
	BlockSize int

	// CaptureQueue is the number of frames buffered ahead of the network.
	CaptureQueue int

	// Realtime is sent to the remote service when the channel opens.
	// Transcription of both sides is always requested.
	Realtime realtime.SessionConfig

	// MaxDuration ends an active session normally once it elapses. Zero uses
	// DefaultMaxDuration; a negative value disables the limit.
	MaxDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = DefaultInputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = DefaultOutputSampleRate
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if len(c.Realtime.ResponseModalities) == 0 {
		c.Realtime.ResponseModalities = []realtime.Modality{realtime.ModalityAudio}
	}
	c.Realtime.InputTranscription = true
	c.Realtime.OutputTranscription = true
	return c
}

// Deps are the collaborators of a Session. Host and Provider are required.
type Deps struct {
	Host     audio.Host
	Provider realtime.Provider

	// Observer receives status, transcript and error notifications.
	Observer Observer

	// Metrics is optional.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now. Transcript timestamps use it.
	Now func() time.Time

	// ID overrides the generated session identifier.
	ID string
}

// handler reacts to one event in one status. sc is the live context the
// event belongs to.
type handler func(s *Session, ctx context.Context, sc *Context, ev realtime.Event)

// transitions lists every (status, event) pair the session reacts to. Events
// in any other combination are logged and ignored.
var transitions = map[Status]map[realtime.EventKind]handler{
	StatusConnecting: {
		realtime.EventOpen:  (*Session).onOpen,
		realtime.EventError: (*Session).onOpenFailed,
		realtime.EventClose: (*Session).onOpenFailed,
	},
	StatusActive: {
		realtime.EventMessage: (*Session).onMessage,
		realtime.EventError:   (*Session).onRuntimeError,
		realtime.EventClose:   (*Session).onRemoteClose,
	},
}

// Session is one realtime interview. All methods are safe for concurrent use.
type Session struct {
	id       string
	cfg      Config
	host     audio.Host
	provider realtime.Provider
	metrics  *observe.Metrics
	log      *slog.Logger
	now      func() time.Time
	notify   *notifier

	// asm is only touched by the event loop.
	asm  transcript.Assembler
	conv transcript.Log

	mu        sync.Mutex
	status    Status
	err       error
	sc        *Context
	startedAt time.Time
	deadline  time.Time

	loop sync.WaitGroup
	done chan struct{}
}

// New creates an idle Session. Nothing is acquired until Start.
func New(cfg Config, deps Deps) *Session {
	id := deps.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:       id,
		cfg:      cfg.withDefaults(),
		host:     deps.Host,
		provider: deps.Provider,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		now:      deps.Now,
		done:     make(chan struct{}),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("session_id", id)
	if s.now == nil {
		s.now = time.Now
	}
	obs := deps.Observer
	if obs == nil {
		obs = ObserverFuncs{}
	}
	s.notify = newNotifier(obs)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the *Error recorded when the session entered StatusError, or
// nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StartedAt returns when Start was called, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Deadline returns when an active session will be ended by MaxDuration. It is
// zero before the channel opens and when the limit is disabled.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Transcript returns a copy of the conversation log in commit order.
func (s *Session) Transcript() []transcript.Item { return s.conv.Items() }

// Done is closed once the session has ended, its resources are released and
// every observer notification has been delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

// ── Start / Stop ──────────────────────────────────────────────────────────────

// Start acquires the audio contexts and microphone and connects the realtime
// channel. It returns once the channel is connected; the session becomes
// active asynchronously when the remote end confirms. ctx bounds only the
// start phase.
//
// On failure the session is in StatusError, everything acquired has been
// released and the returned error is a *Error.
func (s *Session) Start(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "session.start",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()
	log := observe.SessionLogger(ctx, s.id)

	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sc := newContext(cancel)
	s.sc = sc
	s.startedAt = s.now()
	s.notify.launch()
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
	}

	// Cancelling ctx while connecting aborts the session.
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	in, err := s.host.NewInputContext(s.cfg.InputSampleRate)
	if err != nil {
		return s.fail(sc, KindDeviceFailure, fmt.Errorf("input context: %w", err))
	}
	if !s.attach(sc, func() { sc.input = in }) {
		_ = in.Close()
		return ErrStopped
	}

	out, err := s.host.NewOutputContext(s.cfg.OutputSampleRate)
	if err != nil {
		return s.fail(sc, KindDeviceFailure, fmt.Errorf("output context: %w", err))
	}
	sched := playback.New(out, playback.WithMetrics(s.metrics), playback.WithLogger(s.log))
	if !s.attach(sc, func() { sc.output, sc.scheduler = out, sched }) {
		_ = out.Close()
		return ErrStopped
	}

	mic, err := in.OpenMicrophone(runCtx)
	if err != nil {
		return s.fail(sc, microphoneErrorKind(err), fmt.Errorf("open microphone: %w", err))
	}
	if !s.attach(sc, func() { sc.mic = mic }) {
		_ = mic.Stop()
		return ErrStopped
	}

	ch, err := s.provider.Connect(runCtx, s.cfg.Realtime)
	if err != nil {
		return s.fail(sc, KindChannelOpenFailure, fmt.Errorf("connect: %w", err))
	}
	started := s.attach(sc, func() {
		sc.channel = ch
		s.loop.Go(func() { s.run(runCtx, sc, ch.Events()) })
	})
	if !started {
		_ = ch.Close()
		return ErrStopped
	}
	log.Info("session: channel connected, waiting for open")
	return nil
}

// Stop ends the session normally and returns the joined teardown errors. It
// is idempotent; once the session has ended, Stop returns nil. Stopping an
// idle session does nothing.
func (s *Session) Stop() error {
	s.mu.Lock()
	sc := s.sc
	s.mu.Unlock()
	if sc == nil {
		return nil
	}
	_, err := s.end(sc, StatusFinished, nil)
	return err
}

// microphoneErrorKind classifies a failure to open or start the microphone.
// Backends that only touch the device when the stream starts report a refusal
// there, so both call sites use it.
func microphoneErrorKind(err error) ErrorKind {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return KindPermissionDenied
	}
	return KindDeviceFailure
}

// attach runs fn under the lock if sc is still the live context.
func (s *Session) attach(sc *Context, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sc != sc {
		return false
	}
	fn()
	return true
}

func (s *Session) live(sc *Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sc == sc
}

// fail ends sc in StatusError. It returns the recorded *Error, or ErrStopped
// if sc had already ended.
func (s *Session) fail(sc *Context, kind ErrorKind, cause error) error {
	serr := &Error{Kind: kind, Err: cause}
	if ended, _ := s.end(sc, StatusError, serr); !ended {
		return ErrStopped
	}
	return serr
}

// end moves the session into a terminal status and tears sc down. Only the
// first call for the live context has any effect; it reports whether this
// call was that one.
func (s *Session) end(sc *Context, status Status, cause error) (bool, error) {
	s.mu.Lock()
	if sc == nil || s.sc != sc {
		s.mu.Unlock()
		return false, nil
	}
	s.sc = nil
	s.err = cause
	if sc.timer != nil {
		sc.timer.Stop()
	}
	startedAt := s.startedAt
	s.setStatusLocked(status)
	if status == StatusError {
		msg := KindOf(cause).Message()
		s.notify.post(func(o Observer) { o.OnError(msg) })
	}
	s.mu.Unlock()

	err := shutdown(sc)
	sc.cancel()

	ctx := context.Background()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, -1)
		s.metrics.SessionDuration.Record(ctx, s.now().Sub(startedAt).Seconds())
		if status == StatusError {
			s.metrics.RecordSessionError(ctx, KindOf(cause).String())
		}
	}
	if status == StatusError {
		s.log.Warn("session: ended with error", "kind", KindOf(cause).String(), "err", cause)
	} else {
		s.log.Info("session: finished", "items", s.conv.Len())
	}
	if err != nil {
		s.log.Warn("session: teardown", "err", err)
	}

	s.notify.close()
	go func() {
		s.loop.Wait()
		<-s.notify.done
		close(s.done)
	}()
	return true, err
}

func (s *Session) setStatusLocked(status Status) {
	s.status = status
	s.notify.post(func(o Observer) { o.OnStatusChange(status) })
}

// ── Event loop ────────────────────────────────────────────────────────────────

func (s *Session) run(ctx context.Context, sc *Context, events <-chan realtime.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// The adapter closed the stream without a terminal event.
				s.dispatch(ctx, sc, realtime.Event{Kind: realtime.EventClose})
				return
			}
			s.dispatch(ctx, sc, ev)
			if ev.Kind == realtime.EventError || ev.Kind == realtime.EventClose {
				return
			}
		case err := <-sc.captureErr:
			_ = s.fail(sc, KindChannelRuntimeError, err)
			return
		case <-ctx.Done():
			_, _ = s.end(sc, StatusFinished, nil)
			return
		}
	}
}

func (s *Session) dispatch(ctx context.Context, sc *Context, ev realtime.Event) {
	s.mu.Lock()
	live := s.sc == sc
	status := s.status
	s.mu.Unlock()
	if !live {
		return
	}
	h, ok := transitions[status][ev.Kind]
	if !ok {
		s.log.Debug("session: ignoring event", "status", status.String(), "event", ev.Kind.String())
		return
	}
	h(s, ctx, sc, ev)
}

func (s *Session) onOpen(ctx context.Context, sc *Context, _ realtime.Event) {
	pipe := capture.New(sc.mic, sc.channel,
		capture.Config{
			SampleRate: s.cfg.InputSampleRate,
			BlockSize:  s.cfg.BlockSize,
			QueueSize:  s.cfg.CaptureQueue,
		},
		capture.WithMetrics(s.metrics),
		capture.WithErrorHandler(sc.reportCaptureError),
		capture.WithLogger(s.log),
	)

	s.mu.Lock()
	if s.sc != sc {
		s.mu.Unlock()
		return
	}
	// Holding the lock keeps teardown from running between the start of the
	// microphone and recording the pipeline on sc.
	if err := pipe.Start(ctx); err != nil {
		s.mu.Unlock()
		_ = s.fail(sc, microphoneErrorKind(err), err)
		return
	}
	sc.capture = pipe
	if d := s.cfg.MaxDuration; d > 0 {
		s.deadline = s.now().Add(d)
		sc.timer = time.AfterFunc(d, func() { s.expire(sc) })
	}
	s.setStatusLocked(StatusActive)
	s.mu.Unlock()

	s.log.Info("session: active", "max_duration", s.cfg.MaxDuration)
}

func (s *Session) onOpenFailed(_ context.Context, sc *Context, ev realtime.Event) {
	cause := ev.Err
	if cause == nil {
		cause = fmt.Errorf("channel closed before open: %q", ev.Reason)
	}
	_ = s.fail(sc, KindChannelOpenFailure, cause)
}

func (s *Session) onRuntimeError(_ context.Context, sc *Context, ev realtime.Event) {
	cause := ev.Err
	if cause == nil {
		cause = errors.New("channel error")
	}
	_ = s.fail(sc, KindChannelRuntimeError, cause)
}

func (s *Session) onRemoteClose(_ context.Context, sc *Context, ev realtime.Event) {
	s.log.Info("session: closed by remote", "reason", ev.Reason)
	_, _ = s.end(sc, StatusFinished, nil)
}

// onMessage applies one server message: audio first, then interruption,
// then transcription deltas, then the turn boundary.
func (s *Session) onMessage(ctx context.Context, sc *Context, ev realtime.Event) {
	if ev.Message == nil || ev.Message.ServerContent == nil {
		return
	}
	content := ev.Message.ServerContent

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			rate := audio.ParsePCMRate(part.InlineData.MIMEType, s.cfg.OutputSampleRate)
			if _, err := sc.scheduler.ScheduleEncoded(part.InlineData.Data, rate); err != nil {
				if errors.Is(err, playback.ErrClosed) {
					return
				}
				s.log.Warn("session: dropping audio segment", "err", err)
			}
		}
	}

	if content.Interrupted {
		n := sc.scheduler.Interrupt()
		s.log.Debug("session: interrupted", "stopped", n)
	}

	if t := content.InputTranscription; t != nil {
		s.asm.AppendInput(t.Text)
	}
	if t := content.OutputTranscription; t != nil {
		s.asm.AppendOutput(t.Text)
	}

	if content.TurnComplete {
		if items := s.asm.Commit(s.now()); len(items) > 0 {
			s.commit(ctx, sc, items)
		}
	}
}

func (s *Session) commit(ctx context.Context, sc *Context, items []transcript.Item) {
	s.mu.Lock()
	if s.sc != sc {
		s.mu.Unlock()
		return
	}
	s.conv.Append(items...)
	for _, it := range items {
		s.notify.post(func(o Observer) { o.OnTranscriptAppended(it) })
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TurnsCommitted.Add(ctx, 1)
		for _, it := range items {
			s.metrics.RecordTranscriptItem(ctx, string(it.Role))
		}
	}
}

func (s *Session) expire(sc *Context) {
	if !s.live(sc) {
		return
	}
	s.log.Info("session: max duration reached", "max_duration", s.cfg.MaxDuration)
	_, _ = s.end(sc, StatusFinished, nil)
}
