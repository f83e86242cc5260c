// Package mock provides test doubles for the capture package interfaces.
//
// Microphone hands out a Source that replays pre-recorded blocks and records
// whether it was released. Sender records every media chunk it is given.
//
//	src := &mock.Source{Fmt: audio.Format{SampleRate: 16000, Channels: 1}, Blocks: blocks}
//	mic := &mock.Microphone{Source: src}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Microphone is a mock implementation of capture.Microphone.
type Microphone struct {
	mu sync.Mutex

	// Source is returned by Acquire. When nil a Source that blocks until
	// closed is returned.
	Source *Source

	// AcquireErr, if non-nil, is returned by Acquire.
	AcquireErr error

	// AcquireCalls counts calls to Acquire.
	AcquireCalls int
}

var _ capture.Microphone = (*Microphone)(nil)

// Acquire records the call and returns Source or AcquireErr.
func (m *Microphone) Acquire(context.Context) (capture.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcquireCalls++
	if m.AcquireErr != nil {
		return nil, m.AcquireErr
	}
	if m.Source == nil {
		m.Source = &Source{Fmt: audio.Format{SampleRate: audio.InputSampleRate, Channels: 1}}
	}
	return m.Source, nil
}

// Source is a mock capture.Source. It returns Blocks one per Read and then
// blocks until Close, after which Read returns io.EOF.
type Source struct {
	Fmt    audio.Format
	Blocks [][]float32

	// Loop replays Blocks from the start instead of blocking once they are
	// exhausted, until Close.
	Loop bool

	// OnClose, if set, is called by the first Close.
	OnClose func()

	mu         sync.Mutex
	next       int
	closed     bool
	closeCh    chan struct{}
	closeCalls int
}

var _ capture.Source = (*Source)(nil)

func (s *Source) init() {
	if s.closeCh == nil {
		s.closeCh = make(chan struct{})
	}
}

// Format returns Fmt.
func (s *Source) Format() audio.Format { return s.Fmt }

// Read copies the next block into block.
func (s *Source) Read(block []float32) (int, error) {
	s.mu.Lock()
	s.init()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	if s.Loop && len(s.Blocks) > 0 && s.next == len(s.Blocks) {
		s.next = 0
	}
	if s.next < len(s.Blocks) {
		n := copy(block, s.Blocks[s.next])
		s.next++
		s.mu.Unlock()
		return n, nil
	}
	ch := s.closeCh
	s.mu.Unlock()

	<-ch
	return 0, io.EOF
}

// Close marks the source released. Safe to call more than once; every call
// is counted.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.closeCh)
		if s.OnClose != nil {
			s.OnClose()
		}
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns how many times Close was called.
func (s *Source) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Sender is a mock capture.Sender.
type Sender struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every media chunk in order.
	Calls []live.Media

	// OnSend, if set, is invoked after each recorded call.
	OnSend func(live.Media)
}

var _ capture.Sender = (*Sender)(nil)

// SendRealtimeInput records m.
func (s *Sender) SendRealtimeInput(m live.Media) error {
	s.mu.Lock()
	s.Calls = append(s.Calls, m)
	err := s.Err
	hook := s.OnSend
	s.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return err
}

// CallCount returns the number of recorded sends.
func (s *Sender) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
