// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and translates its event protocol into the serverContent shape
// used by the rest of the pipeline: audio deltas become inline-data parts,
// transcript deltas become transcription fragments, server-side speech
// detection becomes an interruption and response.done completes the turn.
//
// Input transcription runs asynchronously on OpenAI's side and may finish
// after response.done. While a committed user utterance still awaits its
// transcript, the turn boundary is held back and emitted right after the
// transcript (or its failure) arrives, so the user's words are committed with
// the reply they prompted.
//
// OpenAI expects 24 kHz PCM16 input, so 16 kHz microphone frames are
// resampled before they are appended to the input buffer.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
)

// Compile-time assertions that Provider and channel satisfy the realtime interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Channel = (*channel)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// pcm16 is fixed at 24 kHz mono by the Realtime API.
	pcmRate = 24000

	transcriptionModel = "whisper-1"
	maxMessageBytes    = 16 << 20
	eventBuffer        = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
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

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() realtime.Capabilities {
	return realtime.Capabilities{
		InputSampleRate:      16000,
		OutputSampleRate:     pcmRate,
		MaxSessionDurationMs: 30 * 60 * 1000,
		Voices:               []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect dials the Realtime endpoint and sends session.update. EventOpen is
// emitted when the server confirms with session.updated.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Channel, error) {
	wsURL := p.baseURL + "?model=" + url.QueryEscape(p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)

	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:          conn,
		events:        make(chan realtime.Event, eventBuffer),
		forwardOutput: cfg.OutputTranscription,
		trackInput:    cfg.InputTranscription,
		ctx:           chCtx,
		cancel:        chCancel,
	}

	if err := ch.writeJSON(ctx, buildSessionUpdate(cfg)); err != nil {
		chCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go ch.receiveLoop()

	return ch, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           turnDetection        `json:"turn_detection"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

func buildSessionUpdate(cfg realtime.SessionConfig) sessionUpdateMessage {
	// The Realtime API cannot produce audio without text; transcripts of the
	// model's speech therefore always arrive, and OutputTranscription only
	// decides whether they are forwarded.
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.SystemInstruction,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     turnDetection{Type: "server_vad"},
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionParams{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	conn   *websocket.Conn
	events chan realtime.Event

	// forwardOutput mirrors SessionConfig.OutputTranscription; set before
	// receiveLoop starts.
	forwardOutput bool

	// trackInput mirrors SessionConfig.InputTranscription. pendingInput and
	// heldTurn are owned by receiveLoop.
	trackInput   bool
	pendingInput int
	heldTurn     bool

	mu     sync.Mutex
	opened bool
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *channel) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *channel) emit(ev realtime.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *channel) emitContent(sc *realtime.ServerContent) bool {
	return c.emit(realtime.Event{
		Kind:    realtime.EventMessage,
		Message: &realtime.ServerMessage{ServerContent: sc},
	})
}

// receiveLoop reads events from the WebSocket and translates them. It owns
// the events channel and closes it when it exits.
func (c *channel) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				c.emit(realtime.Event{Kind: realtime.EventClose, Reason: ce.Reason})
				return
			}
			c.emit(realtime.Event{Kind: realtime.EventError, Err: fmt.Errorf("openai: read: %w", err)})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("openai: skipping undecodable event", "err", err, "bytes", len(data))
			continue
		}

		if !c.handleServerEvent(&evt) {
			return
		}
	}
}

func (c *channel) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "session.updated":
		c.mu.Lock()
		first := !c.opened
		c.opened = true
		c.mu.Unlock()
		if first {
			return c.emit(realtime.Event{Kind: realtime.EventOpen})
		}

	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		return c.emitContent(&realtime.ServerContent{
			ModelTurn: &realtime.ModelTurn{Parts: []realtime.Part{{
				InlineData: &realtime.InlineData{MIMEType: audio.PCMMIMEType(pcmRate), Data: evt.Delta},
			}}},
		})

	case "response.audio_transcript.delta":
		if evt.Delta == "" || !c.forwardOutput {
			return true
		}
		return c.emitContent(&realtime.ServerContent{
			OutputTranscription: &realtime.Transcription{Text: evt.Delta},
		})

	case "input_audio_buffer.committed":
		if c.trackInput {
			c.pendingInput++
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" {
			ok := c.emitContent(&realtime.ServerContent{
				InputTranscription: &realtime.Transcription{Text: evt.Transcript},
			})
			if !ok {
				return false
			}
		}
		return c.inputSettled()

	case "conversation.item.input_audio_transcription.failed":
		slog.Warn("openai: input transcription failed")
		return c.inputSettled()

	case "input_audio_buffer.speech_started":
		return c.emitContent(&realtime.ServerContent{Interrupted: true})

	case "response.done":
		if c.pendingInput > 0 {
			c.heldTurn = true
			return true
		}
		return c.emitContent(&realtime.ServerContent{TurnComplete: true})

	case "error":
		// Realtime error events refer to a single client request (for
		// example cancelling a response that already finished) and leave the
		// session usable.
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		slog.Warn("openai: server reported error", "message", msg)
	}
	return true
}

// inputSettled records that one pending input transcription has arrived and
// releases a held turn boundary once none are outstanding.
func (c *channel) inputSettled() bool {
	if c.pendingInput > 0 {
		c.pendingInput--
	}
	if c.pendingInput == 0 && c.heldTurn {
		c.heldTurn = false
		return c.emitContent(&realtime.ServerContent{TurnComplete: true})
	}
	return true
}

// ── Channel methods ────────────────────────────────────────────────────────────

// SendRealtimeInput resamples a PCM16 blob to 24 kHz and appends it to the
// input audio buffer.
func (c *channel) SendRealtimeInput(ctx context.Context, blob realtime.Blob) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.ErrChannelClosed
	}
	c.mu.Unlock()

	pcm, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return fmt.Errorf("openai: decode input: %w", err)
	}
	srcRate := audio.ParsePCMRate(blob.MIMEType, pcmRate)
	pcm = audio.ResampleMono16(pcm, srcRate, pcmRate)

	return c.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
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

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
