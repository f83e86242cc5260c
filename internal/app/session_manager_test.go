package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
	livemock "github.com/MrWong99/parley/pkg/provider/live/mock"
)

func newTestManager(t *testing.T, store archive.Store) (*SessionManager, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	ctrl := session.New(&livemock.Provider{}, session.WithLogger(slog.New(slog.DiscardHandler)))
	sm := NewSessionManager(SessionManagerConfig{
		Controller: ctrl,
		Archive:    store,
		Defaults:   config.SessionConfig{Role: "Data Engineer", Topic: "batch pipelines"},
		Out:        &out,
		Logger:     slog.New(slog.DiscardHandler),
	})
	return sm, &out
}

func TestFlushEntries_PrintsFinalEntriesInOrder(t *testing.T) {
	t.Parallel()
	sm, out := newTestManager(t, archive.NewMemStore())

	entries := []transcript.Entry{
		{Speaker: transcript.Remote, Text: "What is idempotency?", IsFinal: true},
		{Speaker: transcript.Caller, Text: "Doing it twice", IsFinal: false},
	}
	sm.render(session.Update{Kind: session.UpdateTranscript, Snapshot: session.Snapshot{ID: "a", Entries: entries}})
	if got := out.String(); got != "[Remote]: What is idempotency?\n" {
		t.Fatalf("output = %q", got)
	}

	entries[1] = transcript.Entry{Speaker: transcript.Caller, Text: "Doing it twice changes nothing.", IsFinal: true}
	sm.render(session.Update{Kind: session.UpdateTranscript, Snapshot: session.Snapshot{ID: "a", Entries: entries}})
	if got := out.String(); !strings.HasSuffix(got, "[Caller]: Doing it twice changes nothing.\n") || strings.Count(got, "[Remote]") != 1 {
		t.Fatalf("output = %q", got)
	}
}

func TestRender_NewSessionResetsTranscript(t *testing.T) {
	t.Parallel()
	sm, out := newTestManager(t, archive.NewMemStore())

	first := []transcript.Entry{{Speaker: transcript.Remote, Text: "one", IsFinal: true}}
	sm.render(session.Update{Kind: session.UpdateTranscript, Snapshot: session.Snapshot{ID: "a", Entries: first}})
	second := []transcript.Entry{{Speaker: transcript.Remote, Text: "two", IsFinal: true}}
	sm.render(session.Update{Kind: session.UpdateTranscript, Snapshot: session.Snapshot{ID: "b", Entries: second}})

	if got := out.String(); got != "[Remote]: one\n[Remote]: two\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRender_SummaryFlushesPartialEntries(t *testing.T) {
	t.Parallel()
	sm, out := newTestManager(t, archive.NewMemStore())
	snap := session.Snapshot{
		ID:      "a",
		State:   session.StateGeneratingSummary,
		Elapsed: 95 * time.Second,
		Entries: []transcript.Entry{{Speaker: transcript.Caller, Text: "and that is all", IsFinal: false}},
	}
	sm.render(session.Update{Kind: session.UpdateState, Snapshot: snap})
	got := out.String()
	if !strings.Contains(got, "[Caller]: and that is all") || !strings.Contains(got, "after 1m35s") {
		t.Errorf("output = %q", got)
	}
}

func TestRender_ReportFailure(t *testing.T) {
	t.Parallel()
	sm, out := newTestManager(t, archive.NewMemStore())
	msg := session.UserMessage(session.ErrEmptyTranscript)
	sm.render(session.Update{Kind: session.UpdateReport, Snapshot: session.Snapshot{ID: "a", State: session.StateError, Error: msg}})
	if !strings.Contains(out.String(), msg) {
		t.Errorf("output = %q", out.String())
	}
}

func TestFormatReport(t *testing.T) {
	t.Parallel()
	got := FormatReport(&session.Report{
		Overall:      "Strong fundamentals.",
		Score:        8,
		Strengths:    []string{"clear trade-offs"},
		Improvements: []string{"mention backfills", "size estimates"},
	})
	for _, want := range []string{"score 8/10", "Strong fundamentals.", "  + clear trade-offs", "  - mention backfills", "  - size estimates"} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(FormatReport(&session.Report{Overall: "x", Score: 5}), "Strengths") {
		t.Error("empty sections should be omitted")
	}
}

func TestHandleLine_Commands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
	}{
		{line: "/status", want: "State: idle"},
		{line: "/end", want: "No interview is running."},
		{line: "/restart", want: "has not finished yet"},
		{line: "/help", want: "/start <role> | <topic>"},
		{line: "/dance", want: "Unknown command /dance"},
		{line: "a typed answer", want: "Use /start."},
		{line: "/history", want: "No archived interviews yet."},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			sm, out := newTestManager(t, archive.NewMemStore())
			if err := sm.HandleLine(context.Background(), tt.line); err != nil {
				t.Fatalf("HandleLine: %v", err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want it to contain %q", out.String(), tt.want)
			}
		})
	}
}

func TestHandleLine_Quit(t *testing.T) {
	t.Parallel()
	sm, _ := newTestManager(t, archive.NewMemStore())
	if err := sm.HandleLine(context.Background(), "  /quit "); !errors.Is(err, errQuit) {
		t.Errorf("err = %v, want errQuit", err)
	}
	if err := sm.HandleLine(context.Background(), "   "); err != nil {
		t.Errorf("blank line: %v", err)
	}
}

func TestHandleLine_History(t *testing.T) {
	t.Parallel()
	store := archive.NewMemStore()
	ended := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_ = store.Save(context.Background(), session.Result{ID: "1", Role: "SRE", Topic: "on-call", EndedAt: ended, Report: &session.Report{Overall: "ok", Score: 6}})
	_ = store.Save(context.Background(), session.Result{ID: "2", Role: "SRE", Topic: "capacity", EndedAt: ended.Add(time.Hour), Error: "x"})

	sm, out := newTestManager(t, store)
	if err := sm.HandleLine(context.Background(), "/history"); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "6/10") || !strings.Contains(got, "no feedback") {
		t.Errorf("history = %q", got)
	}
	if strings.Index(got, "capacity") > strings.Index(got, "on-call") {
		t.Errorf("history should list newest first: %q", got)
	}
}

func TestStart_InvalidConfigIsPrinted(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	ctrl := session.New(&livemock.Provider{}, session.WithLogger(slog.New(slog.DiscardHandler)))
	sm := NewSessionManager(SessionManagerConfig{Controller: ctrl, Archive: archive.NewMemStore(), Out: &out})

	err := sm.Start(context.Background(), "", "")
	if !errors.Is(err, session.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if !strings.Contains(out.String(), session.UserMessage(err)) {
		t.Errorf("output = %q", out.String())
	}
}

func TestSessionReady(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		snap    session.Snapshot
		wantErr bool
	}{
		{"idle", session.Snapshot{State: session.StateIdle}, false},
		{"connecting", session.Snapshot{State: session.StateConnecting, StartedAt: now.Add(-5 * time.Second)}, false},
		{"stuck connecting", session.Snapshot{State: session.StateConnecting, StartedAt: now.Add(-time.Minute)}, true},
		{"active", session.Snapshot{State: session.StateActive, StartedAt: now.Add(-time.Hour)}, false},
		{"summary failed", session.Snapshot{State: session.StateError, Error: "no feedback"}, false},
		{"closed", session.Snapshot{State: session.StateClosed}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := sessionReady(tt.snap, 30*time.Second, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("sessionReady() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
