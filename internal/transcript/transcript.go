// Package transcript merges the incremental transcription fragments streamed
// by a live model into an ordered list of utterances.
//
// Both directions of a session are transcribed: the caller's microphone input
// and the remote model's synthesised speech. Fragments arrive as small partial
// strings. The [Reconciler] appends a fragment to the last entry when that
// entry belongs to the same speaker and is still open, and otherwise starts a
// new open entry. A completed turn finalises every open entry at once.
//
// Entries are ordered by the arrival of their first fragment. Only the last
// open entry of a speaker ever grows; finalised entries never change.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Speaker identifies which side of the session produced an entry.
type Speaker int

const (
	// Caller is the human at the microphone.
	Caller Speaker = iota + 1

	// Remote is the live model.
	Remote
)

// String returns the display label of the speaker.
func (s Speaker) String() string {
	switch s {
	case Caller:
		return "Caller"
	case Remote:
		return "Remote"
	default:
		return "Unknown"
	}
}

// Entry is one utterance in the transcript.
type Entry struct {
	Speaker Speaker
	Text    string

	// IsFinal is false while fragments may still be appended.
	IsFinal bool

	// StartedAt is when the first fragment arrived.
	StartedAt time.Time

	// FinalizedAt is zero while the entry is open.
	FinalizedAt time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock replaces time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// Reconciler accumulates transcript entries. It is safe for concurrent use.
type Reconciler struct {
	now func() time.Time

	mu      sync.Mutex
	entries []Entry
}

// New returns an empty Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AppendPartial merges a fragment for speaker. It extends the last entry if
// that entry is the same speaker's and still open; otherwise it opens a new
// entry. Empty fragments are ignored and reported with ok == false. The
// returned entry is the one that was created or extended.
//
// Opening a new entry finalises any other open entry of the same speaker, so
// each speaker has at most one open entry.
func (r *Reconciler) AppendPartial(speaker Speaker, text string) (e Entry, ok bool) {
	if text == "" {
		return Entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.entries); n > 0 {
		last := &r.entries[n-1]
		if last.Speaker == speaker && !last.IsFinal {
			last.Text += text
			return *last, true
		}
	}

	now := r.now()
	r.finalizeLocked(speaker, now)
	r.entries = append(r.entries, Entry{Speaker: speaker, Text: text, StartedAt: now})
	return r.entries[len(r.entries)-1], true
}

// AppendFinal adds a complete entry, e.g. typed text input. Any open entry of
// the same speaker is finalised first.
func (r *Reconciler) AppendFinal(speaker Speaker, text string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.finalizeLocked(speaker, now)
	e := Entry{Speaker: speaker, Text: text, IsFinal: true, StartedAt: now, FinalizedAt: now}
	r.entries = append(r.entries, e)
	return e
}

// CompleteTurn finalises every open entry of both speakers and returns how
// many entries changed. Text is left untouched.
func (r *Reconciler) CompleteTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalizeLocked(0, r.now())
}

// finalizeLocked closes open entries of speaker, or of everyone when speaker
// is zero. Must be called with r.mu held.
func (r *Reconciler) finalizeLocked(speaker Speaker, now time.Time) int {
	n := 0
	for i := range r.entries {
		e := &r.entries[i]
		if e.IsFinal || (speaker != 0 && e.Speaker != speaker) {
			continue
		}
		e.IsFinal = true
		e.FinalizedAt = now
		n++
	}
	return n
}

// Entries returns a copy of all entries in order.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset discards all entries.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Format renders entries as "[Speaker]: text" lines. Blank entries are
// skipped and surrounding whitespace is trimmed.
func Format(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(e.Speaker.String())
		b.WriteString("]: ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}
