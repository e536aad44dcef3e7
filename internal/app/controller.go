// Package app owns the interview lifecycle of the running process.
//
// A [Controller] holds at most one [session.Session]. It builds each session
// from the config that is current when Start is called, fans the session's
// notifications out to the console, the API hub and the transcript recorder,
// and returns to idle on Reset once the previous interview has ended.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asmcenter/voicecoach/internal/config"
	"github.com/asmcenter/voicecoach/internal/observe"
	"github.com/asmcenter/voicecoach/internal/session"
	"github.com/asmcenter/voicecoach/internal/transcript"
	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
)

var (
	// ErrSessionRunning is returned by Start and Reset while the current
	// session has not reached a terminal state.
	ErrSessionRunning = errors.New("app: a session is already running")

	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("app: controller is shut down")
)

// ProviderFactory builds the realtime provider for one session. main passes
// [config.Registry.CreateRealtime].
type ProviderFactory func(config.RealtimeConfig) (realtime.Provider, error)

// Deps are the collaborators of a [Controller]. Host, NewProvider and Config
// are required.
type Deps struct {
	Host        audio.Host
	NewProvider ProviderFactory

	// Config returns the configuration to use for the next session, usually
	// [config.Watcher.Current].
	Config func() *config.Config

	// Observer receives every session's notifications plus the idle status
	// on Reset. The idle status is delivered with the controller locked, so
	// that call must not re-enter the Controller.
	Observer session.Observer

	// Recorder persists committed transcript items. Optional.
	Recorder *transcript.Recorder

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	SessionID string         `json:"sessionId,omitempty"`
	Status    session.Status `json:"status"`
	ErrorKind string         `json:"errorKind,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"startedAt,omitzero"`
	Deadline  time.Time      `json:"deadline,omitzero"`
	Items     int            `json:"transcriptItems"`
}

// Controller runs interviews one at a time. It is safe for concurrent use.
type Controller struct {
	deps Deps
	log  *slog.Logger

	mu     sync.Mutex
	sess   *session.Session
	closed bool
}

// New returns an idle Controller.
func New(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = session.ObserverFuncs{}
	}
	return &Controller{deps: deps, log: deps.Logger}
}

// Start begins a new interview using the current configuration and returns
// its session ID. It fails with [ErrSessionRunning] while another interview
// is connecting or active. A previous interview that has ended is replaced
// without an explicit Reset.
//
// Observers see every notification of the previous interview before the new
// one's first status; Start waits for that delivery, bounded by ctx.
//
// The returned error wraps a *session.Error when the session itself failed.
func (c *Controller) Start(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return "", ErrShutdown
		}
		prev := c.sess
		if prev == nil || ended(prev) {
			break
		}
		c.mu.Unlock()
		if !prev.Status().Terminal() {
			return "", ErrSessionRunning
		}
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return "", fmt.Errorf("app: start: wait for previous session: %w", ctx.Err())
		}
	}

	cfg := c.deps.Config()
	scfg, err := sessionConfig(cfg)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("app: start: %w", err)
	}
	provider, err := c.deps.NewProvider(cfg.Realtime)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("app: start: create provider: %w", err)
	}

	id := uuid.NewString()
	sess := session.New(scfg, session.Deps{
		ID:       id,
		Host:     c.deps.Host,
		Provider: provider,
		Observer: session.Observers{c.deps.Observer, c.recordTo(id)},
		Metrics:  c.deps.Metrics,
		Logger:   c.log,
	})
	c.sess = sess
	c.mu.Unlock()

	c.log.Info("app: starting interview",
		"session_id", id,
		"provider", cfg.Realtime.Provider,
		"voice", cfg.Realtime.Voice,
	)
	if err := sess.Start(ctx); err != nil {
		return id, fmt.Errorf("app: start: %w", err)
	}
	return id, nil
}

// recordTo forwards committed items of session id to the recorder.
func (c *Controller) recordTo(id string) session.Observer {
	rec := c.deps.Recorder
	if rec == nil {
		return session.ObserverFuncs{}
	}
	return session.ObserverFuncs{
		TranscriptAppended: func(it transcript.Item) { rec.Record(id, it) },
	}
}

// Stop ends the current interview normally. It does nothing when no interview
// is running.
func (c *Controller) Stop() error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	if err := sess.Stop(); err != nil {
		return fmt.Errorf("app: stop: %w", err)
	}
	return nil
}

// Reset returns to idle after an interview has finished or failed, dropping
// its transcript from memory. Reset waits until observers have seen every
// notification of the ended interview before sending idle, so it must not be
// called from an observer callback.
func (c *Controller) Reset() error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	if !sess.Status().Terminal() {
		return ErrSessionRunning
	}
	<-sess.Done()

	c.mu.Lock()
	if c.sess != sess {
		// A concurrent Start or Reset replaced it.
		c.mu.Unlock()
		return nil
	}
	c.sess = nil
	c.deps.Observer.OnStatusChange(session.StatusIdle)
	c.mu.Unlock()
	return nil
}

// ended reports whether s has released everything and delivered its last
// notification.
func ended(s *session.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// Snapshot reports the current interview, or an idle snapshot when there is
// none.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return Snapshot{Status: session.StatusIdle}
	}

	snap := Snapshot{
		SessionID: sess.ID(),
		Status:    sess.Status(),
		StartedAt: sess.StartedAt(),
		Deadline:  sess.Deadline(),
		Items:     len(sess.Transcript()),
	}
	if err := sess.Err(); err != nil {
		snap.ErrorKind = session.KindOf(err).String()
		snap.Error = session.KindOf(err).Message()
	}
	return snap
}

// Transcript returns the current interview's committed items.
func (c *Controller) Transcript() []transcript.Item {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Transcript()
}

// Done returns a channel closed when the current interview has ended, or nil
// when there is none.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.Done()
}

// Shutdown stops the running interview, waits for its teardown and flushes
// the recorder. Later calls to Start fail with [ErrShutdown].
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	sess := c.sess
	c.mu.Unlock()

	var errs []error
	if sess != nil {
		if err := sess.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown: %w", err))
		}
		select {
		case <-sess.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("app: shutdown: wait for session: %w", ctx.Err()))
		}
	}
	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown: %w", err))
		}
	}
	c.log.Info("app: shutdown complete")
	return errors.Join(errs...)
}

// sessionConfig maps the file configuration onto one session.
func sessionConfig(cfg *config.Config) (session.Config, error) {
	instruction, err := cfg.Realtime.Instruction()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		InputSampleRate:  cfg.Audio.InputSampleRate,
		OutputSampleRate: cfg.Audio.OutputSampleRate,
		BlockSize:        cfg.Audio.FrameSize,
		CaptureQueue:     cfg.Audio.CaptureQueue,
		MaxDuration:      cfg.Session.MaxDuration,
		Realtime: realtime.SessionConfig{
			Voice:             cfg.Realtime.Voice,
			SystemInstruction: instruction,
		},
	}, nil
}
