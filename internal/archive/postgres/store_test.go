package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/archive/postgres"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if PARLEY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store on a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS session_entries CASCADE",
		"DROP TABLE IF EXISTS sessions CASCADE",
		"DROP TABLE IF EXISTS goose_db_version CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleResult(ended time.Time, report *session.Report) session.Result {
	start := ended.Add(-15 * time.Minute)
	return session.Result{
		ID:        uuid.NewString(),
		Role:      "Platform Engineer",
		Topic:     "observability",
		StartedAt: start,
		EndedAt:   ended,
		Entries: []transcript.Entry{
			{Speaker: transcript.Remote, Text: "How do you alert?", IsFinal: true, StartedAt: start, FinalizedAt: start.Add(time.Second)},
			{Speaker: transcript.Caller, Text: "On symptoms, not causes.", IsFinal: true, StartedAt: start.Add(2 * time.Second), FinalizedAt: start.Add(5 * time.Second)},
			{Speaker: transcript.Caller, Text: "cut off", StartedAt: start.Add(6 * time.Second)},
		},
		Report: report,
	}
}

func TestStore_SaveGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := sampleResult(time.Now().UTC().Truncate(time.Microsecond), &session.Report{
		Overall: "Strong fundamentals.", Score: 8,
		Strengths: []string{"SLO thinking"}, Improvements: []string{"tooling depth"},
	})
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Role != in.Role || !got.EndedAt.Equal(in.EndedAt) {
		t.Errorf("got %+v", got)
	}
	if got.Report == nil || got.Report.Score != 8 || got.Report.Improvements[0] != "tooling depth" {
		t.Errorf("report = %+v", got.Report)
	}
	if len(got.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(got.Entries))
	}
	if got.Entries[1].Speaker != transcript.Caller || got.Entries[1].Text != "On symptoms, not causes." || !got.Entries[1].IsFinal {
		t.Errorf("entry 1 = %+v", got.Entries[1])
	}
	if got.Entries[2].IsFinal || !got.Entries[2].FinalizedAt.IsZero() {
		t.Errorf("open entry came back final: %+v", got.Entries[2])
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := sampleResult(time.Now().UTC(), nil)
	r.Error = "Something went wrong. Please try again."
	if err := store.Save(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Entries = r.Entries[:1]
	r.Report = &session.Report{Overall: "Retry worked.", Score: 6}
	r.Error = ""
	if err := store.Save(ctx, r); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 1 || got.Report == nil || got.Error != "" {
		t.Errorf("got %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		if _, err := store.Get(context.Background(), id); !errors.Is(err, archive.ErrNotFound) {
			t.Errorf("Get(%q) err = %v, want ErrNotFound", id, err)
		}
	}
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	older := sampleResult(base.Add(-time.Hour), nil)
	newer := sampleResult(base, &session.Report{Overall: "Good.", Score: 9})
	for _, r := range []session.Result{older, newer} {
		if err := store.Save(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	list, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Score != 9 || list[0].Failed || !list[1].Failed {
		t.Errorf("list = %+v", list)
	}

	one, err := store.List(ctx, 1)
	if err != nil || len(one) != 1 {
		t.Errorf("List(1) = %v, %v", one, err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_SaveRejectsInvalidID(t *testing.T) {
	store := newTestStore(t)
	r := sampleResult(time.Now(), nil)
	r.ID = "x"
	if err := store.Save(context.Background(), r); err == nil {
		t.Fatal("expected error for non-UUID id")
	}
}
