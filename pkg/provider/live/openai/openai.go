// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// It opens a bidirectional WebSocket to the Realtime endpoint and exchanges
// JSON events. Microphone audio is appended to the input audio buffer as
// base64 PCM16 at 24 kHz; server-side voice activity detection commits turns.
// Incoming events are folded into live.ServerMessage values:
//
//	response.audio.delta                                   → Audio
//	response.audio_transcript.delta                        → OutputTranscription
//	conversation.item.input_audio_transcription.completed  → InputTranscription
//	response.done                                          → TurnComplete
//	input_audio_buffer.speech_started                      → Interrupted
//
// The session reports EventOpen when the server confirms the configuration
// with session.updated.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel              = "gpt-4o-realtime-preview"
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultTranscriptionModel = "whisper-1"

	sampleRate   = 24000
	writeTimeout = 10 * time.Second
	readLimit    = 16 << 20
	eventBuffer  = 64
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

// WithTranscriptionModel sets the model that transcribes caller audio.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcriptionModel = model }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey             string
	model              string
	baseURL            string
	transcriptionModel string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		transcriptionModel: defaultTranscriptionModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:    sampleRate,
		OutputSampleRate:   sampleRate,
		MaxSessionDuration: 30 * time.Minute,
		Voices:             []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect dials the Realtime endpoint and sends session.update. The session
// emits EventOpen once session.updated arrives.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, url.QueryEscape(p.model))

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan live.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.writeJSON(p.sessionUpdate(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

func (p *Provider) sessionUpdate(cfg live.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Voice:             cfg.Voice,
		Instructions:      cfg.SystemInstruction,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []live.Modality{live.ModalityAudio}
	}
	for _, m := range modalities {
		switch m {
		case live.ModalityAudio:
			// Audio responses always carry a text channel on this API.
			params.Modalities = appendUnique(params.Modalities, "audio", "text")
		case live.ModalityText:
			params.Modalities = appendUnique(params.Modalities, "text")
		}
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionParams{Model: p.transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
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

	// response.audio.delta / response.audio_transcript.delta / response.text.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event

	mu     sync.Mutex
	errVal error
	opened bool
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// receiveLoop reads events from the WebSocket and translates them. It closes
// the events channel after the final EventClose.
func (s *session) receiveLoop() {
	var cause error
	defer func() { s.finish(cause) }()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				cause = fmt.Errorf("openai: read: %w", err)
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			if !s.emit(live.Event{Type: live.EventError, Err: fmt.Errorf("openai: malformed event: %w", err)}) {
				return
			}
			continue
		}
		if ev, ok := s.translate(&evt); ok && !s.emit(ev) {
			return
		}
	}
}

// translate maps one Realtime event to a live event. Events without meaning
// for the session are dropped.
func (s *session) translate(evt *serverEvent) (live.Event, bool) {
	message := func(m live.ServerMessage) (live.Event, bool) {
		return live.Event{Type: live.EventMessage, Message: &m}, true
	}

	switch evt.Type {
	case "session.updated":
		s.mu.Lock()
		first := !s.opened
		s.opened = true
		s.mu.Unlock()
		if first {
			return live.Event{Type: live.EventOpen}, true
		}

	case "response.audio.delta":
		if evt.Delta != "" {
			return message(live.ServerMessage{
				Audio: []live.Media{{MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate), Data: evt.Delta}},
			})
		}

	case "response.audio_transcript.delta":
		if evt.Delta != "" {
			return message(live.ServerMessage{OutputTranscription: evt.Delta})
		}

	case "response.text.delta":
		if evt.Delta != "" {
			return message(live.ServerMessage{Text: []string{evt.Delta}})
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" {
			return message(live.ServerMessage{InputTranscription: evt.Transcript})
		}

	case "response.done":
		return message(live.ServerMessage{TurnComplete: true})

	case "input_audio_buffer.speech_started":
		return message(live.ServerMessage{Interrupted: true})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		return live.Event{Type: live.EventError, Err: fmt.Errorf("openai: %s", msg)}, true
	}
	return live.Event{}, false
}

func (s *session) finish(cause error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = cause
	}
	err := s.errVal
	s.mu.Unlock()

	ev := live.Event{Type: live.EventClose, Err: err}
	if s.ctx.Err() != nil {
		select {
		case s.events <- ev:
		default:
		}
	} else {
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
		}
	}
	close(s.events)
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ── live.Session methods ───────────────────────────────────────────────────────

// SendRealtimeInput appends a base64 PCM16 chunk to the input audio buffer.
func (s *session) SendRealtimeInput(m live.Media) error {
	if s.isClosed() {
		return live.ErrSessionClosed
	}
	if err := s.writeJSON(appendAudioMessage{Type: "input_audio_buffer.append", Audio: m.Data}); err != nil {
		return fmt.Errorf("openai: append audio: %w", err)
	}
	return nil
}

// SendClientContent inserts each turn as a conversation item and, when the
// content completes the turn, requests a response.
func (s *session) SendClientContent(c live.ClientContent) error {
	if s.isClosed() {
		return live.ErrSessionClosed
	}

	for _, t := range c.Turns {
		role := "user"
		partType := "input_text"
		if t.Role == "model" || t.Role == "assistant" {
			role = "assistant"
			partType = "text"
		}
		parts := make([]conversationPart, 0, len(t.Texts))
		for _, text := range t.Texts {
			parts = append(parts, conversationPart{Type: partType, Text: text})
		}
		msg := createConversationItemMessage{
			Type: "conversation.item.create",
			Item: conversationItem{Type: "message", Role: role, Content: parts},
		}
		if err := s.writeJSON(msg); err != nil {
			return fmt.Errorf("openai: create item: %w", err)
		}
	}
	if c.TurnComplete {
		if err := s.writeJSON(map[string]string{"type": "response.create"}); err != nil {
			return fmt.Errorf("openai: create response: %w", err)
		}
	}
	return nil
}

// Events returns the inbound event channel.
func (s *session) Events() <-chan live.Event { return s.events }

// Err returns the error that ended the session abnormally.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
