// Package gemini implements the realtime.Provider interface for Google's
// Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Microphone audio is sent as base64-encoded PCM media chunks;
// serverContent messages are forwarded unchanged as realtime events.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
)

// Compile-time assertions that Provider and channel satisfy the realtime interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Channel = (*channel)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	bidiPath       = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// Audio turns routinely exceed the websocket library's 32 KiB default.
	maxMessageBytes = 16 << 20

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() realtime.Capabilities {
	return realtime.Capabilities{
		InputSampleRate:      16000,
		OutputSampleRate:     24000,
		MaxSessionDurationMs: 15 * 60 * 1000,
		Voices:               []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

// Connect dials Gemini Live and sends the setup message. EventOpen is emitted
// when the server answers with setupComplete.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Channel, error) {
	wsURL := p.baseURL + bidiPath + "?key=" + url.QueryEscape(p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)

	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:   conn,
		events: make(chan realtime.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    chCtx,
		cancel: chCancel,
	}

	if err := ch.writeJSON(ctx, buildSetup(p.model, cfg)); err != nil {
		chCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go ch.receiveLoop()
	go ch.keepaliveLoop()

	return ch, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []realtime.Modality `json:"responseModalities"`
	SpeechConfig       *speechConfig       `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []realtime.Part `json:"parts"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []realtime.Blob `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage        `json:"setupComplete,omitempty"`
	ServerContent *realtime.ServerContent `json:"serverContent,omitempty"`
	GoAway        *goAway                 `json:"goAway,omitempty"`
	Error         *geminiError            `json:"error,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func buildSetup(model string, cfg realtime.SessionConfig) setupMessage {
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []realtime.Modality{realtime.ModalityAudio}
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model:            "models/" + model,
			GenerationConfig: generationConfig{ResponseModalities: modalities},
		},
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []realtime.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	conn   *websocket.Conn
	events chan realtime.Event

	mu     sync.Mutex
	done   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message. The write
// is abandoned when either ctx or the channel's own context ends.
func (c *channel) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// emit delivers ev unless the channel is being closed locally.
func (c *channel) emit(ev realtime.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// receiveLoop reads messages from the WebSocket and forwards them as events.
// It owns the events channel and closes it when it exits.
func (c *channel) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			// Local Close: exit without reporting.
			if c.ctx.Err() != nil {
				return
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				c.emit(realtime.Event{Kind: realtime.EventClose, Reason: ce.Reason})
				return
			}
			c.emit(realtime.Event{Kind: realtime.EventError, Err: fmt.Errorf("gemini: read: %w", err)})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gemini: skipping undecodable message", "err", err, "bytes", len(data))
			continue
		}

		if !c.handle(&msg) {
			return
		}
	}
}

// handle forwards one decoded message. It returns false when the loop must
// stop.
func (c *channel) handle(msg *serverMessage) bool {
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		c.emit(realtime.Event{
			Kind: realtime.EventError,
			Err:  fmt.Errorf("gemini: server error %d %s: %s", msg.Error.Code, msg.Error.Status, text),
		})
		return false
	}
	if msg.SetupComplete != nil {
		if !c.emit(realtime.Event{Kind: realtime.EventOpen}) {
			return false
		}
	}
	if msg.GoAway != nil {
		slog.Info("gemini: server requested disconnect", "time_left", msg.GoAway.TimeLeft)
	}
	if msg.ServerContent != nil {
		ev := realtime.Event{
			Kind:    realtime.EventMessage,
			Message: &realtime.ServerMessage{ServerContent: msg.ServerContent},
		}
		if !c.emit(ev) {
			return false
		}
	}
	return true
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *channel) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ── Channel methods ────────────────────────────────────────────────────────────

// SendRealtimeInput delivers one media blob (16 kHz PCM16 for microphone
// audio) to the model.
func (c *channel) SendRealtimeInput(ctx context.Context, blob realtime.Blob) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.ErrChannelClosed
	}
	c.mu.Unlock()

	return c.writeJSON(ctx, realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []realtime.Blob{blob}},
	})
}

// Events returns the inbound event stream.
func (c *channel) Events() <-chan realtime.Event { return c.events }

// Close terminates the channel and releases all resources. Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(c.done) // signals keepaliveLoop via done channel
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
