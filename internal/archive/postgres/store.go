// Package postgres is a PostgreSQL-backed archive of finished sessions.
//
// The schema is managed with goose migrations embedded in the binary; they
// run on [NewStore].
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ archive.Store = (*Store)(nil)

// Store implements [archive.Store] on a [pgxpool.Pool]. All methods are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and applies pending
// migrations.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies all pending migrations to the database behind pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		slog.Info("postgres archive: migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Save inserts r and its transcript in one transaction. Saving an existing ID
// replaces it.
func (s *Store) Save(ctx context.Context, r session.Result) error {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return fmt.Errorf("postgres archive: save: invalid id %q: %w", r.ID, err)
	}
	var report []byte
	if r.Report != nil {
		if report, err = json.Marshal(r.Report); err != nil {
			return fmt.Errorf("postgres archive: save: encode report: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres archive: save: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO sessions (id, role, topic, started_at, ended_at, report, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		   SET role = EXCLUDED.role, topic = EXCLUDED.topic,
		       started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at,
		       report = EXCLUDED.report, error = EXCLUDED.error`
	if _, err := tx.Exec(ctx, upsert, id, r.Role, r.Topic, r.StartedAt, r.EndedAt, report, r.Error); err != nil {
		return fmt.Errorf("postgres archive: save session: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM session_entries WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("postgres archive: save: clear entries: %w", err)
	}

	rows := make([][]any, len(r.Entries))
	for i, e := range r.Entries {
		var finalized *time.Time
		if !e.FinalizedAt.IsZero() {
			finalized = &e.FinalizedAt
		}
		rows[i] = []any{id, i, int16(e.Speaker), e.Text, e.StartedAt, finalized}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"session_entries"},
		[]string{"session_id", "seq", "speaker", "text", "started_at", "finalized_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("postgres archive: save entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres archive: save: commit: %w", err)
	}
	return nil
}

// Get loads a session and its transcript.
func (s *Store) Get(ctx context.Context, id string) (session.Result, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return session.Result{}, fmt.Errorf("%w: %s", archive.ErrNotFound, id)
	}

	var (
		r      = session.Result{ID: uid.String()}
		report []byte
	)
	const q = `SELECT role, topic, started_at, ended_at, report, error FROM sessions WHERE id = $1`
	err = s.pool.QueryRow(ctx, q, uid).Scan(&r.Role, &r.Topic, &r.StartedAt, &r.EndedAt, &report, &r.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Result{}, fmt.Errorf("%w: %s", archive.ErrNotFound, id)
	}
	if err != nil {
		return session.Result{}, fmt.Errorf("postgres archive: get: %w", err)
	}
	if report != nil {
		r.Report = &session.Report{}
		if err := json.Unmarshal(report, r.Report); err != nil {
			return session.Result{}, fmt.Errorf("postgres archive: get: decode report: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT speaker, text, started_at, finalized_at
		FROM   session_entries
		WHERE  session_id = $1
		ORDER  BY seq`, uid)
	if err != nil {
		return session.Result{}, fmt.Errorf("postgres archive: get entries: %w", err)
	}
	r.Entries, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e         transcript.Entry
			speaker   int16
			finalized *time.Time
		)
		if err := row.Scan(&speaker, &e.Text, &e.StartedAt, &finalized); err != nil {
			return e, err
		}
		e.Speaker = transcript.Speaker(speaker)
		if finalized != nil {
			e.FinalizedAt = *finalized
			e.IsFinal = true
		}
		return e, nil
	})
	if err != nil {
		return session.Result{}, fmt.Errorf("postgres archive: scan entries: %w", err)
	}
	return r, nil
}

// List returns summaries ordered by end time, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]archive.Summary, error) {
	q := `
		SELECT id::text, role, topic, started_at, ended_at,
		       COALESCE((report->>'score')::int, 0), report IS NULL
		FROM   sessions
		ORDER  BY ended_at DESC`
	args := []any{}
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Summary, error) {
		var sum archive.Summary
		err := row.Scan(&sum.ID, &sum.Role, &sum.Topic, &sum.StartedAt, &sum.EndedAt, &sum.Score, &sum.Failed)
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres archive: list: %w", err)
	}
	return out, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
