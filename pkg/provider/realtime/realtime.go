// Package realtime defines the Provider interface for bidirectional realtime
// conversation backends.
//
// A realtime provider accepts a continuous stream of encoded microphone audio
// and answers with synthesized speech plus live transcriptions of both sides
// of the conversation, all over a single long-lived Channel.
//
// Inbound traffic is surfaced as an ordered stream of [Event] values on
// [Channel.Events]: exactly one [EventOpen] once the remote end has accepted
// the session configuration, any number of [EventMessage], and finally either
// [EventError] or [EventClose]. The events channel is closed after the last
// event.
//
// The message shape follows the Gemini Live serverContent envelope; adapters
// for other services translate into it.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"errors"
)

// ErrChannelClosed is returned when sending on a closed Channel.
var ErrChannelClosed = errors.New("realtime: channel closed")

// Modality is a response modality requested from the remote service.
type Modality string

const (
	// ModalityAudio requests synthesized speech.
	ModalityAudio Modality = "AUDIO"

	// ModalityText requests text parts.
	ModalityText Modality = "TEXT"
)

// SessionConfig is sent to the remote service once, when the channel opens.
type SessionConfig struct {
	// ResponseModalities lists the requested output modalities. Defaults to
	// audio only when empty.
	ResponseModalities []Modality

	// Voice is the provider-specific name of the prebuilt synthesis voice.
	Voice string

	// SystemInstruction is the system-level prompt that frames the whole
	// conversation.
	SystemInstruction string

	// InputTranscription enables transcription of the user's speech.
	InputTranscription bool

	// OutputTranscription enables transcription of the synthesized speech.
	OutputTranscription bool
}

// Blob is one encoded media payload sent to the remote service.
type Blob struct {
	// Data is base64-encoded media.
	Data string `json:"data"`

	// MIMEType describes Data, e.g. "audio/pcm;rate=16000".
	MIMEType string `json:"mimeType"`
}

// ── Inbound messages ──────────────────────────────────────────────────────────

// ServerMessage is one inbound message. Only ServerContent is consumed by
// the session pipeline.
type ServerMessage struct {
	ServerContent *ServerContent `json:"serverContent,omitempty"`
}

// ServerContent carries incremental model output for the current turn.
type ServerContent struct {
	// ModelTurn holds synthesized audio (inline data) and optional text parts.
	ModelTurn *ModelTurn `json:"modelTurn,omitempty"`

	// Interrupted reports that the user barged in and any pending playback
	// must be discarded.
	Interrupted bool `json:"interrupted,omitempty"`

	// InputTranscription is a fragment of the user's recognized speech.
	InputTranscription *Transcription `json:"inputTranscription,omitempty"`

	// OutputTranscription is a fragment of the model's spoken response.
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool `json:"turnComplete,omitempty"`
}

// ModelTurn is the model's output within a turn.
type ModelTurn struct {
	Parts []Part `json:"parts"`
}

// Part is one piece of a model turn.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64-encoded media embedded in a Part.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Transcription is a transcription fragment.
type Transcription struct {
	Text string `json:"text"`
}

// ── Events ────────────────────────────────────────────────────────────────────

// EventKind identifies the kind of an [Event].
type EventKind int

const (
	// EventOpen is emitted once when the remote end confirms the session.
	EventOpen EventKind = iota

	// EventMessage carries one inbound [ServerMessage].
	EventMessage

	// EventError reports a fatal channel error. No further events follow.
	EventError

	// EventClose reports that the remote end closed the channel. No further
	// events follow.
	EventClose
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one item on [Channel.Events].
type Event struct {
	Kind EventKind

	// Message is set for EventMessage.
	Message *ServerMessage

	// Err is set for EventError.
	Err error

	// Reason is the close reason for EventClose, if the remote end sent one.
	Reason string
}

// ── Interfaces ────────────────────────────────────────────────────────────────

// Channel is an open realtime connection. The caller owns it and must call
// Close when done.
type Channel interface {
	// SendRealtimeInput submits one media blob. It does not wait for any
	// acknowledgement from the remote service.
	SendRealtimeInput(ctx context.Context, blob Blob) error

	// Events returns the inbound event stream. The channel is closed after
	// the final EventError or EventClose, or after Close.
	Events() <-chan Event

	// Close terminates the connection. Calling Close more than once is safe
	// and returns nil. No EventClose is emitted for a local Close.
	Close() error
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// InputSampleRate is the capture rate the provider expects, in Hz.
	InputSampleRate int

	// OutputSampleRate is the rate of synthesized audio, in Hz.
	OutputSampleRate int

	// MaxSessionDurationMs is the provider-imposed session limit. Zero means
	// no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string
}

// Provider opens realtime channels.
type Provider interface {
	// Connect dials the remote service and sends cfg. It returns once the
	// configuration has been submitted; the channel is usable for sending
	// immediately, and EventOpen follows on Events when the remote end
	// accepts it.
	Connect(ctx context.Context, cfg SessionConfig) (Channel, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
