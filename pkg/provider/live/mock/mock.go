// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to script inbound events and inspect what the controller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... start the controller with p ...
//	sess.Open()
//	sess.Emit(live.ServerMessage{OutputTranscription: "Hello"})
//	sess.RemoteClose(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ConnectCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastConfig returns the SessionConfig of the most recent Connect call.
func (p *Provider) LastConfig() live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ConnectCalls) == 0 {
		return live.SessionConfig{}
	}
	return p.ConnectCalls[len(p.ConnectCalls)-1].Cfg
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a scripted implementation of live.Session.
//
// Inbound events are injected with Open, Emit, Error and RemoteClose. The
// events channel is closed after the first EventClose, whether it came from
// RemoteClose or from Close.
type Session struct {
	mu     sync.Mutex
	events chan live.Event
	ended  bool
	err    error

	// SendErr, if non-nil, is returned by every send call.
	SendErr error

	// RealtimeInputs records every accepted SendRealtimeInput call in order.
	RealtimeInputs []live.Media

	// ClientContents records every SendClientContent call in order.
	ClientContents []live.ClientContent

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnSend, if set, is called with every accepted SendRealtimeInput while
	// the session lock is held.
	OnSend func(live.Media)

	// OnClose, if set, is called by every Close while the session lock is
	// held.
	OnClose func()
}

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 256)}
}

// Open emits EventOpen.
func (s *Session) Open() { s.push(live.Event{Type: live.EventOpen}) }

// Emit emits an EventMessage carrying m.
func (s *Session) Emit(m live.ServerMessage) {
	s.push(live.Event{Type: live.EventMessage, Message: &m})
}

// Error emits a non-fatal EventError.
func (s *Session) Error(err error) { s.push(live.Event{Type: live.EventError, Err: err}) }

// RemoteClose emits EventClose with cause and closes the events channel, as
// if the remote side hung up.
func (s *Session) RemoteClose(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(cause)
}

func (s *Session) push(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

func (s *Session) endLocked(cause error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = cause
	s.events <- live.Event{Type: live.EventClose, Err: cause}
	close(s.events)
}

// SendRealtimeInput records m unless the session is closed or SendErr is set.
func (s *Session) SendRealtimeInput(m live.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCallCount > 0 {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.RealtimeInputs = append(s.RealtimeInputs, m)
	if s.OnSend != nil {
		s.OnSend(m)
	}
	return nil
}

// SendClientContent records the call and returns SendErr.
func (s *Session) SendClientContent(c live.ClientContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCallCount > 0 {
		return live.ErrSessionClosed
	}
	s.ClientContents = append(s.ClientContents, c)
	return s.SendErr
}

// Events returns the inbound event channel.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns the cause passed to RemoteClose.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and ends the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.OnClose != nil {
		s.OnClose()
	}
	s.endLocked(nil)
	return nil
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Inputs returns a copy of RealtimeInputs. Thread-safe.
func (s *Session) Inputs() []live.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.Media(nil), s.RealtimeInputs...)
}

// Contents returns a copy of ClientContents. Thread-safe.
func (s *Session) Contents() []live.ClientContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.ClientContent(nil), s.ClientContents...)
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)
