package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
)

func result(id string, ended time.Time, score int) session.Result {
	r := session.Result{
		ID:        id,
		Role:      "Backend Engineer",
		Topic:     "databases",
		StartedAt: ended.Add(-10 * time.Minute),
		EndedAt:   ended,
		Entries: []transcript.Entry{
			{Speaker: transcript.Remote, Text: "What is an index?", IsFinal: true},
			{Speaker: transcript.Caller, Text: "A lookup structure.", IsFinal: true},
		},
	}
	if score > 0 {
		r.Report = &session.Report{Overall: "ok", Score: score, Strengths: []string{"concise"}}
	} else {
		r.Error = "Something went wrong. Please try again."
	}
	return r
}

func TestMemStore_SaveGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	in := result("a", time.Now(), 8)
	if err := s.Save(ctx, in); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not leak into the store.
	in.Entries[0].Text = "changed"
	in.Report.Strengths[0] = "changed"

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Entries[0].Text != "What is an index?" || got.Report.Strengths[0] != "concise" {
		t.Errorf("stored result was aliased: %+v", got)
	}
}

func TestMemStore_GetMissing(t *testing.T) {
	t.Parallel()
	_, err := NewMemStore().Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_SaveRejectsEmptyID(t *testing.T) {
	t.Parallel()
	if err := NewMemStore().Save(context.Background(), session.Result{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestMemStore_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "newest", "middle"} {
		ended := map[string]time.Time{"old": base, "middle": base.Add(time.Hour), "newest": base.Add(2 * time.Hour)}[id]
		if err := s.Save(ctx, result(id, ended, i)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "newest" || all[1].ID != "middle" || all[2].ID != "old" {
		t.Fatalf("order = %+v", all)
	}
	if !all[2].Failed || all[2].Score != 0 {
		t.Errorf("failed session summary = %+v", all[2])
	}
	if all[0].Failed || all[0].Score != 1 {
		t.Errorf("newest summary = %+v", all[0])
	}

	two, _ := s.List(ctx, 2)
	if len(two) != 2 {
		t.Errorf("List(2) returned %d rows", len(two))
	}
}

func TestMemStore_IsRecorder(t *testing.T) {
	t.Parallel()
	var _ session.Recorder = NewMemStore()
	if err := NewMemStore().Ping(context.Background()); err != nil {
		t.Error(err)
	}
}
