// Package playback schedules decoded model audio on an output clock so that
// consecutive buffers play back-to-back with no gap and no overlap.
//
// The [Scheduler] owns a single scalar, the next start time. Every buffer is
// placed at max(nextStartTime, device.Now()) and the scalar then advances by
// the buffer's duration. Bursty arrival therefore queues audio seamlessly,
// while a consumer that catches up with the clock falls back to real-time
// pacing with a silent gap. The scalar never decreases.
//
// Scheduled-but-unfinished buffers are tracked so that [Scheduler.Cancel] can
// stop all of them at once, either on session end or when the remote side
// reports an interruption.
package playback

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Device is an audio output with its own monotonic clock.
type Device interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Play schedules buf to start at the given clock position. onEnded, if
	// non-nil, is invoked once when the buffer finished playing naturally. It
	// is never invoked for a stopped source and never synchronously from
	// within Play.
	Play(buf audio.Buffer, at time.Duration, onEnded func()) (Source, error)

	// Close stops all output and releases the device.
	Close() error
}

// Source is a scheduled buffer.
type Source interface {
	// Stop prevents the buffer from playing, or cuts it off if it already
	// started. Safe to call more than once.
	Stop()
}

// Scheduled describes where a buffer was placed on the output clock.
type Scheduled struct {
	Start    time.Duration
	Duration time.Duration
}

// End returns the clock position at which the buffer finishes.
func (s Scheduled) End() time.Duration { return s.Start + s.Duration }

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithFormat sets the sample rate and channel count of incoming PCM. Defaults
// to 24 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(s *Scheduler) {
		if f.SampleRate > 0 && f.Channels > 0 {
			s.format = f
		}
	}
}

// WithStrictDecoding rejects PCM payloads that are not aligned to whole
// sample frames instead of truncating them.
func WithStrictDecoding(strict bool) Option {
	return func(s *Scheduler) { s.dec.Strict = strict }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// ── Scheduler ─────────────────────────────────────────────────────────────────

// Scheduler places decoded audio on a [Device] clock. All methods are safe for
// concurrent use; Enqueue calls are serialised so arrival order equals
// playback order.
type Scheduler struct {
	dev    Device
	format audio.Format
	dec    *audio.Decoder
	log    *slog.Logger

	mu      sync.Mutex
	next    time.Duration
	seq     uint64
	pending map[uint64]Source
}

// NewScheduler returns a Scheduler writing to dev.
func NewScheduler(dev Device, opts ...Option) *Scheduler {
	s := &Scheduler{
		dev:     dev,
		format:  audio.Format{SampleRate: audio.OutputSampleRate, Channels: 1},
		dec:     &audio.Decoder{},
		log:     slog.Default(),
		pending: make(map[uint64]Source),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes one PCM16 payload and schedules it directly after the
// previously scheduled buffer, or now if the clock already passed that point.
// Empty payloads are accepted and schedule nothing.
func (s *Scheduler) Enqueue(data []byte) (Scheduled, error) {
	buf, err := s.dec.Decode(data, s.format.SampleRate, s.format.Channels)
	if err != nil {
		return Scheduled{}, fmt.Errorf("playback: decode: %w", err)
	}
	if buf.Frames() == 0 {
		return Scheduled{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	startAt := max(s.next, s.dev.Now())
	dur := buf.Duration()

	s.seq++
	id := s.seq
	src, err := s.dev.Play(buf, startAt, func() { s.finished(id) })
	if err != nil {
		return Scheduled{}, fmt.Errorf("playback: play: %w", err)
	}
	s.pending[id] = src
	s.next = startAt + dur

	return Scheduled{Start: startAt, Duration: dur}, nil
}

// EnqueueBase64 decodes a base64 payload as delivered by live models and
// enqueues it.
func (s *Scheduler) EnqueueBase64(data string) (Scheduled, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Scheduled{}, fmt.Errorf("playback: base64: %w", err)
	}
	return s.Enqueue(raw)
}

func (s *Scheduler) finished(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// Cancel stops every pending buffer and forgets it. The clock is left as is;
// a buffer enqueued afterwards still starts no earlier than the old next start
// time. Cancel returns the number of stopped buffers.
func (s *Scheduler) Cancel() int {
	s.mu.Lock()
	stopped := make([]Source, 0, len(s.pending))
	for id, src := range s.pending {
		stopped = append(stopped, src)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, src := range stopped {
		src.Stop()
	}
	if len(stopped) > 0 {
		s.log.Debug("playback: cancelled pending buffers", "count", len(stopped))
	}
	return len(stopped)
}

// Pending returns the number of scheduled buffers that have not finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// NextStartTime returns the clock position at which the next buffer would be
// placed if the device clock had not passed it.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
