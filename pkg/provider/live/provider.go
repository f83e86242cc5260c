// Package live defines the Provider interface for realtime speech model
// backends.
//
// A live provider wraps a duplex streaming endpoint that accepts base64 PCM
// microphone audio and returns synthesised speech plus transcriptions of both
// directions within a single long-lived session. Examples include the Gemini
// Live API and the OpenAI Realtime API.
//
// The central abstraction is Session: an outbound half (SendRealtimeInput,
// SendClientContent) and an inbound event stream (Events) carrying the
// open/message/error/close lifecycle. Sends are fire-and-forget from the
// caller's point of view; ordering of in-flight sends is guaranteed by the
// session, not by callers.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned by send methods after Close.
var ErrSessionClosed = errors.New("live: session closed")

// Modality is an output modality requested from the model.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Media is one chunk of inline media exchanged with the model.
type Media struct {
	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the base64-encoded payload.
	Data string
}

// Turn is one content turn sent as client content.
type Turn struct {
	// Role is "user" or "model".
	Role string

	// Texts holds the text parts of the turn in order.
	Texts []string
}

// ClientContent is a text input sent outside the realtime audio stream.
type ClientContent struct {
	Turns []Turn

	// TurnComplete tells the model to respond once the turns are delivered.
	TurnComplete bool
}

// UserText builds the client content for a single completed user text turn.
func UserText(text string) ClientContent {
	return ClientContent{
		Turns:        []Turn{{Role: "user", Texts: []string{text}}},
		TurnComplete: true,
	}
}

// ServerMessage is the union of everything a single inbound message may carry.
// Any combination of fields may be set.
type ServerMessage struct {
	// InputTranscription is a partial transcript of the caller's speech.
	InputTranscription string

	// OutputTranscription is a partial transcript of the model's speech.
	OutputTranscription string

	// Audio holds inline audio parts of the model turn, in arrival order.
	Audio []Media

	// Text holds inline text parts of the model turn.
	Text []string

	// TurnComplete signals that the model finished its turn.
	TurnComplete bool

	// Interrupted signals that the model stopped because the caller spoke.
	Interrupted bool
}

// EventType discriminates Event.
type EventType int

const (
	// EventOpen is emitted once the remote side acknowledged the session setup.
	EventOpen EventType = iota + 1

	// EventMessage carries a ServerMessage.
	EventMessage

	// EventError carries a non-fatal error reported by the remote side.
	EventError

	// EventClose is the last event on the channel. Err holds the cause when
	// the session ended abnormally.
	EventClose
)

// String returns the lower-case event name.
func (t EventType) String() string {
	switch t {
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

// Event is a single inbound session event.
type Event struct {
	Type    EventType
	Message *ServerMessage
	Err     error
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// SystemInstruction is the system-level prompt for the model.
	SystemInstruction string

	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// ResponseModalities defaults to audio only.
	ResponseModalities []Modality

	// InputTranscription enables transcription of the caller's audio.
	InputTranscription bool

	// OutputTranscription enables transcription of the model's audio.
	OutputTranscription bool
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// InputSampleRate is the PCM rate the provider expects from the microphone.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of synthesised audio.
	OutputSampleRate int

	// MaxSessionDuration is the provider-imposed session limit. Zero means
	// no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voice names.
	Voices []string
}

// Session represents an open live session.
//
// Callers must call Close when the session is no longer needed. After Close
// the Events channel receives a final EventClose and is then closed.
type Session interface {
	// SendRealtimeInput streams a media chunk to the model.
	SendRealtimeInput(m Media) error

	// SendClientContent delivers text turns outside the audio stream.
	SendClientContent(c ClientContent) error

	// Events returns the inbound event channel. It is closed after the
	// EventClose event has been delivered.
	Events() <-chan Event

	// Err returns the error that ended the session abnormally, or nil.
	Err() error

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any live speech backend.
type Provider interface {
	// Connect dials the endpoint and sends the session setup. The returned
	// session emits EventOpen once the remote side is ready; audio sent
	// before that may be rejected by the remote side.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
