// Package api serves the local control API: health probes, Prometheus
// metrics, interview start/stop/reset, the transcript and a WebSocket event
// stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asmcenter/voicecoach/internal/app"
	"github.com/asmcenter/voicecoach/internal/config"
	"github.com/asmcenter/voicecoach/internal/console"
	"github.com/asmcenter/voicecoach/internal/health"
	"github.com/asmcenter/voicecoach/internal/observe"
	"github.com/asmcenter/voicecoach/internal/session"
	"github.com/asmcenter/voicecoach/internal/transcript"
)

// Controller is the subset of [app.Controller] the API drives.
type Controller interface {
	Start(ctx context.Context) (string, error)
	Stop() error
	Reset() error
	Snapshot() app.Snapshot
	Transcript() []transcript.Item
}

var _ Controller = (*app.Controller)(nil)

// Server routes control requests to a [Controller].
type Server struct {
	ctrl    Controller
	hub     *Hub
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithHealth sets the readiness checks served on /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New returns a Server for ctrl broadcasting through hub.
func New(ctrl Controller, hub *Hub, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, hub: hub, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /session", s.handleSnapshot)
	mux.HandleFunc("POST /session/start", s.handleStart)
	mux.HandleFunc("POST /session/stop", s.handleStop)
	mux.HandleFunc("POST /session/reset", s.handleReset)
	mux.HandleFunc("GET /session/transcript", s.handleTranscript)
	mux.HandleFunc("GET /events", s.handleEvents)
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves until ctx is cancelled and then shuts down
// gracefully. TLS is used when tls is non-nil.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tls *config.TLSConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api: listening", "addr", addr, "tls", tls != nil)
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// ── handlers ──────────────────────────────────────────────────────────────────

type errorBody struct {
	Error     string `json:"error"`
	ErrorKind string `json:"errorKind,omitempty"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	_, err := s.ctrl.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
	case errors.Is(err, app.ErrSessionRunning):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, app.ErrShutdown), errors.Is(err, session.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		s.log.Warn("api: start failed", "err", err)
		body := errorBody{Error: err.Error()}
		if kind := session.KindOf(err); kind != 0 {
			body = errorBody{Error: kind.Message(), ErrorKind: kind.String()}
		}
		writeJSON(w, http.StatusBadGateway, body)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		s.log.Warn("api: stop reported teardown errors", "err", err)
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Reset(); err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	items := s.ctrl.Transcript()
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := console.WriteTranscript(w, items, s.now()); err != nil {
			s.log.Debug("api: write transcript", "err", err)
		}
		return
	}
	if items == nil {
		items = []transcript.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	s.hub.Serve(w, r, Event{Type: EventStatus, Status: snap.Status.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
