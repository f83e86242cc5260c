package transcript_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/transcript"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestReconciler_MergesSameSpeakerFragments(t *testing.T) {
	t.Parallel()

	r := transcript.New(transcript.WithClock(fixedClock()))
	r.AppendPartial(transcript.Caller, "Hel")
	r.AppendPartial(transcript.Caller, "lo")

	got := r.Entries()
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Text != "Hello" || got[0].IsFinal {
		t.Errorf("entry = %+v, want open \"Hello\"", got[0])
	}

	if n := r.CompleteTurn(); n != 1 {
		t.Errorf("CompleteTurn changed %d, want 1", n)
	}
	got = r.Entries()
	if got[0].Text != "Hello" || !got[0].IsFinal {
		t.Errorf("after turn complete = %+v, want final \"Hello\"", got[0])
	}
	if got[0].FinalizedAt.IsZero() {
		t.Error("FinalizedAt not set")
	}
}

func TestReconciler_Scenarios(t *testing.T) {
	t.Parallel()

	type frag struct {
		speaker transcript.Speaker
		text    string
		turnEnd bool
	}
	type want struct {
		speaker transcript.Speaker
		text    string
		final   bool
	}

	tests := []struct {
		name  string
		frags []frag
		want  []want
	}{
		{
			name: "interleaved speakers keep arrival order",
			frags: []frag{
				{speaker: transcript.Caller, text: "Tell me "},
				{speaker: transcript.Remote, text: "Sure"},
				{speaker: transcript.Remote, text: ", let's start."},
			},
			want: []want{
				{transcript.Caller, "Tell me ", false},
				{transcript.Remote, "Sure, let's start.", false},
			},
		},
		{
			name: "turn complete finalises both speakers",
			frags: []frag{
				{speaker: transcript.Caller, text: "Hi"},
				{speaker: transcript.Remote, text: "Hello"},
				{turnEnd: true},
				{speaker: transcript.Remote, text: "Next"},
			},
			want: []want{
				{transcript.Caller, "Hi", true},
				{transcript.Remote, "Hello", true},
				{transcript.Remote, "Next", false},
			},
		},
		{
			name: "same speaker after turn starts new entry",
			frags: []frag{
				{speaker: transcript.Caller, text: "one"},
				{turnEnd: true},
				{speaker: transcript.Caller, text: "two"},
			},
			want: []want{
				{transcript.Caller, "one", true},
				{transcript.Caller, "two", false},
			},
		},
		{
			name: "empty fragments ignored",
			frags: []frag{
				{speaker: transcript.Remote, text: ""},
				{speaker: transcript.Remote, text: "ok"},
				{speaker: transcript.Remote, text: ""},
			},
			want: []want{
				{transcript.Remote, "ok", false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := transcript.New()
			for _, f := range tt.frags {
				if f.turnEnd {
					r.CompleteTurn()
					continue
				}
				r.AppendPartial(f.speaker, f.text)
			}
			got := r.Entries()
			if len(got) != len(tt.want) {
				t.Fatalf("entries = %+v, want %d", got, len(tt.want))
			}
			for i, w := range tt.want {
				if got[i].Speaker != w.speaker || got[i].Text != w.text || got[i].IsFinal != w.final {
					t.Errorf("entry %d = {%s %q final=%v}, want {%s %q final=%v}",
						i, got[i].Speaker, got[i].Text, got[i].IsFinal, w.speaker, w.text, w.final)
				}
			}
		})
	}
}

func TestReconciler_AtMostOneOpenEntryPerSpeaker(t *testing.T) {
	t.Parallel()

	r := transcript.New()
	seq := []transcript.Speaker{
		transcript.Caller, transcript.Remote, transcript.Caller,
		transcript.Caller, transcript.Remote, transcript.Caller,
	}
	for _, s := range seq {
		r.AppendPartial(s, "x")
		open := map[transcript.Speaker]int{}
		for _, e := range r.Entries() {
			if !e.IsFinal {
				open[e.Speaker]++
			}
		}
		for sp, n := range open {
			if n > 1 {
				t.Fatalf("%s has %d open entries", sp, n)
			}
		}
	}
}

func TestReconciler_AppendFinal(t *testing.T) {
	t.Parallel()

	r := transcript.New()
	r.AppendPartial(transcript.Caller, "um")
	e := r.AppendFinal(transcript.Caller, "typed answer")
	if !e.IsFinal {
		t.Error("AppendFinal entry not final")
	}
	r.AppendPartial(transcript.Caller, "more")

	got := r.Entries()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].IsFinal {
		t.Error("open caller entry should be finalised by AppendFinal")
	}
	if got[2].Text != "more" || got[2].IsFinal {
		t.Errorf("entry after final = %+v", got[2])
	}
}

func TestReconciler_EntriesIsCopyAndReset(t *testing.T) {
	t.Parallel()

	r := transcript.New()
	r.AppendPartial(transcript.Remote, "a")
	snap := r.Entries()
	snap[0].Text = "mutated"
	if r.Entries()[0].Text != "a" {
		t.Error("Entries must return a copy")
	}
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d", r.Len())
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	got := transcript.Format([]transcript.Entry{
		{Speaker: transcript.Remote, Text: " Why this role? "},
		{Speaker: transcript.Caller, Text: "  "},
		{Speaker: transcript.Caller, Text: "I like distributed systems."},
	})
	want := "[Remote]: Why this role?\n[Caller]: I like distributed systems.\n"
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestSpeaker_String(t *testing.T) {
	t.Parallel()
	if transcript.Speaker(0).String() != "Unknown" {
		t.Error("zero speaker should be Unknown")
	}
}
