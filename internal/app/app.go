// Package app wires the Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the archive, audio
// devices and session controller from the config, Run executes the console
// loop, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithMicrophone, WithDeviceOpener, WithConsole). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/archive/postgres"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// finishTimeout bounds how long Run waits for the feedback report after the
// console closed.
const finishTimeout = 2 * time.Minute

// Providers holds the provider instances built by main.go via the config
// registry. Summary may be nil.
type Providers struct {
	Live     live.Provider
	LiveName string

	Summary llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	archive    archive.Store
	mic        capture.Microphone
	openDevice session.DeviceOpener
	sessOpts   []session.Option
	ctrl       *session.Controller
	manager    *SessionManager

	in  io.Reader
	out io.Writer

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects a session archive instead of creating one from config.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithMicrophone injects a capture device instead of creating one from config.
func WithMicrophone(m capture.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithDeviceOpener injects the audio output factory.
func WithDeviceOpener(open session.DeviceOpener) Option {
	return func(a *App) { a.openDevice = open }
}

// WithConsole sets the console input and output. Defaults to stdin/stdout.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in, a.out = in, out }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSessionOptions appends controller options after the ones derived from
// config.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) { a.sessOpts = append(a.sessOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		in:        os.Stdin,
		out:       os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 2. Audio devices ─────────────────────────────────────────────────
	if a.mic == nil {
		a.mic = microphone(cfg.Audio.Input)
	}
	if a.openDevice == nil {
		a.openDevice = deviceOpener(cfg.Audio.Output, a.log, time.Now)
	}

	// ── 3. Session controller ────────────────────────────────────────────
	a.ctrl = session.New(providers.Live, a.sessionOptions()...)
	a.manager = NewSessionManager(SessionManagerConfig{
		Controller:   a.ctrl,
		Archive:      a.archive,
		Defaults:     cfg.Session,
		HistoryLimit: cfg.Archive.HistoryLimit,
		Out:          a.out,
		Logger:       a.log,
	})

	a.log.Info("app initialised",
		"live_provider", providers.LiveName,
		"summary", providers.Summary != nil,
		"input", cfg.Audio.Input.Mode,
		"output", cfg.Audio.Output.Mode,
	)
	return a, nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	if a.cfg.Archive.PostgresDSN == "" {
		a.archive = archive.NewMemStore()
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Archive.PostgresDSN)
	if err != nil {
		return err
	}
	a.archive = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) sessionOptions() []session.Option {
	s := a.cfg.Session
	opts := []session.Option{
		session.WithMicrophone(a.mic),
		session.WithDeviceOpener(a.openDevice),
		session.WithRecorder(a.archive),
		session.WithLogger(a.log),
		session.WithMetrics(a.metrics),
		session.WithProviderName(a.providers.LiveName),
		session.WithConnectTimeout(s.ConnectTimeout),
		session.WithIdleTimeout(s.IdleTimeout),
		session.WithMaxDuration(s.MaxDuration),
		session.WithSummaryTimeout(s.SummaryTimeout),
		session.WithVoice(s.Voice),
		session.WithStrictPCM(s.StrictPCM),
	}
	if a.cfg.Audio.BlockSize > 0 {
		opts = append(opts, session.WithBlockSize(a.cfg.Audio.BlockSize))
	}
	if a.providers.Summary != nil {
		opts = append(opts, session.WithSummariser(session.NewLLMSummariser(a.providers.Summary)))
	}
	return append(opts, a.sessOpts...)
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctrl }

// Archive returns the session archive.
func (a *App) Archive() archive.Store { return a.archive }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts an interview when role and topic are configured and processes
// console lines until /quit, end of input or ctx cancellation. A running
// interview is ended and its feedback awaited before Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, unsubscribe := a.ctrl.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.manager.watch(gctx, updates) })

	a.manager.printf("%s\n", consoleHelp)
	if a.cfg.Session.Role != "" && a.cfg.Session.Topic != "" {
		a.manager.startAsync(gctx, "", "")
	}

	lines := make(chan string)
	go scanLines(a.in, lines, ctx.Done())

	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if err := a.manager.HandleLine(gctx, line); errors.Is(err, errQuit) {
					return nil
				}
			}
		}
	})

	_ = g.Wait()

	finishCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer stop()
	if snap, ok := a.manager.Finish(finishCtx); ok {
		a.manager.flushEntries(snap.Entries, true)
		a.manager.render(session.Update{Kind: session.UpdateReport, Snapshot: snap})
	}
	return nil
}

// scanLines forwards lines from r until EOF or done. A blocked read keeps the
// goroutine alive; stdin reads cannot be interrupted.
func scanLines(r io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-done:
			return
		}
	}
}

// ─── Health ──────────────────────────────────────────────────────────────────

// Checkers returns the readiness checks: the archive answers and the session
// is not stuck in the error state.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		health.PingCheck("archive", a.archive),
		{Name: "session", Check: func(context.Context) error {
			return sessionReady(a.ctrl.Snapshot(), a.connectDeadline(), time.Now())
		}},
	}
}

// connectDeadline is how long a session may stay in Connecting before
// readiness fails: twice the configured connect timeout.
func (a *App) connectDeadline() time.Duration {
	d := a.cfg.Session.ConnectTimeout
	if d <= 0 {
		d = session.DefaultConnectTimeout
	}
	return 2 * d
}

// sessionReady fails only for a controller stuck in Connecting. Finished
// sessions, including a failed feedback report, do not affect readiness.
func sessionReady(snap session.Snapshot, deadline time.Duration, now time.Time) error {
	if snap.State != session.StateConnecting || snap.StartedAt.IsZero() {
		return nil
	}
	if waited := now.Sub(snap.StartedAt); waited > deadline {
		return fmt.Errorf("session %s connecting for %s", snap.ID, waited.Round(time.Second))
	}
	return nil
}

// SessionStatus is the /status view of the current session.
type SessionStatus struct {
	ID              string          `json:"id,omitempty"`
	State           string          `json:"state"`
	Role            string          `json:"role,omitempty"`
	Topic           string          `json:"topic,omitempty"`
	TextOnly        bool            `json:"text_only"`
	ElapsedSeconds  float64         `json:"elapsed_seconds"`
	Entries         int             `json:"entries"`
	PendingPlayback int             `json:"pending_playback"`
	ChunksSent      int64           `json:"chunks_sent"`
	Error           string          `json:"error,omitempty"`
	Report          *session.Report `json:"report,omitempty"`
}

// Status is the /status document.
type Status struct {
	Session          SessionStatus            `json:"session"`
	History          []archive.Summary        `json:"history"`
	SummaryProviders []resilience.EntryStatus `json:"summary_providers,omitempty"`
}

// Status builds the /status document.
func (a *App) Status(ctx context.Context) (any, error) {
	snap := a.ctrl.Snapshot()
	history, err := a.archive.List(ctx, a.manager.history)
	if err != nil {
		return nil, fmt.Errorf("app: list archive: %w", err)
	}
	st := Status{
		Session: SessionStatus{
			ID:              snap.ID,
			State:           snap.State.String(),
			Role:            snap.Role,
			Topic:           snap.Topic,
			TextOnly:        snap.Degraded,
			ElapsedSeconds:  snap.Elapsed.Seconds(),
			Entries:         len(snap.Entries),
			PendingPlayback: snap.PendingPlayback,
			ChunksSent:      snap.ChunksSent,
			Error:           snap.Error,
			Report:          snap.Report,
		},
		History: history,
	}
	if fb, ok := a.providers.Summary.(interface{ Status() []resilience.EntryStatus }); ok {
		st.SummaryProviders = fb.Status()
	}
	return st, nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends a running interview, waits for its feedback within ctx and
// closes all subsystems. If ctx expires before all closers finish, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if st := a.ctrl.State(); st == session.StateActive || st == session.StateConnecting {
			a.ctrl.End()
		}
		if a.ctrl.State() == session.StateGeneratingSummary {
			if _, err := a.ctrl.Wait(ctx); err != nil {
				a.log.Warn("shutdown: feedback not finished", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
