// Package mock provides a manually clocked playback.Device for tests.
//
// The clock only moves when the test calls Advance or Set. Buffers never end
// on their own; call Finish to simulate a natural end.
//
//	dev := &mock.Device{}
//	sched := playback.NewScheduler(dev)
//	sched.Enqueue(pcm)
//	dev.Finish(0)
package mock

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
)

// PlayCall records one call to Play.
type PlayCall struct {
	Buffer audio.Buffer
	At     time.Duration
	Source *Source
}

// Device is a mock implementation of playback.Device.
type Device struct {
	mu sync.Mutex

	now time.Duration

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Plays records every successful Play call in order.
	Plays []PlayCall

	// CloseCalls counts calls to Close.
	CloseCalls int

	// OnStop, if set, is called when a source handed out by Play is
	// stopped for the first time.
	OnStop func()

	// OnClose, if set, is called by every Close.
	OnClose func()
}

var _ playback.Device = (*Device)(nil)

// Now returns the manual clock position.
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Advance moves the clock forward by delta.
func (d *Device) Advance(delta time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now += delta
}

// Set moves the clock to at.
func (d *Device) Set(at time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = at
}

// Play records the call and returns a controllable Source.
func (d *Device) Play(buf audio.Buffer, at time.Duration, onEnded func()) (playback.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PlayErr != nil {
		return nil, d.PlayErr
	}
	src := &Source{onEnded: onEnded, onStop: d.OnStop}
	d.Plays = append(d.Plays, PlayCall{Buffer: buf, At: at, Source: src})
	return src, nil
}

// Close records the call.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	if d.OnClose != nil {
		d.OnClose()
	}
	return nil
}

// PlayCount returns the number of recorded Play calls.
func (d *Device) PlayCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Plays)
}

// Call returns the i-th recorded Play call.
func (d *Device) Call(i int) PlayCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.Plays) {
		panic(fmt.Sprintf("mock: no play call %d (have %d)", i, len(d.Plays)))
	}
	return d.Plays[i]
}

// Finish ends the i-th scheduled buffer naturally. It is a no-op for stopped
// or already finished sources.
func (d *Device) Finish(i int) {
	d.Call(i).Source.finish()
}

// Closed reports whether Close was called at least once.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCalls > 0
}

// Source is a mock playback.Source.
type Source struct {
	mu       sync.Mutex
	onEnded  func()
	onStop   func()
	stopped  bool
	finished bool
}

// Stop marks the source stopped.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped && s.onStop != nil {
		s.onStop()
	}
	s.stopped = true
}

// Stopped reports whether Stop was called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Source) finish() {
	s.mu.Lock()
	if s.stopped || s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	cb := s.onEnded
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}
