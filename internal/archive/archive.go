// Package archive keeps finished interview sessions so their transcript and
// feedback report can be reviewed later.
//
// [MemStore] keeps everything in process memory and is the default. The
// postgres subpackage persists to PostgreSQL.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/parley/internal/session"
)

// ErrNotFound is returned by Get when no session has the given ID.
var ErrNotFound = errors.New("archive: not found")

// Summary is one row of [Store.List].
type Summary struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Topic     string    `json:"topic"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// Score is zero when the report could not be produced.
	Score  int  `json:"score"`
	Failed bool `json:"failed"`
}

// Store persists finished sessions. It satisfies [session.Recorder].
type Store interface {
	session.Recorder

	// Get returns the session with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (session.Result, error)

	// List returns up to limit sessions, most recently ended first. A
	// non-positive limit returns all of them.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Summarize builds the list row for r.
func Summarize(r session.Result) Summary {
	s := Summary{
		ID:        r.ID,
		Role:      r.Role,
		Topic:     r.Topic,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Failed:    r.Report == nil,
	}
	if r.Report != nil {
		s.Score = r.Report.Score
	}
	return s
}
