package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
)

// consoleHelp lists the console commands.
const consoleHelp = `Commands:
  /start <role> | <topic>   start an interview (defaults from config when omitted)
  /end                      end the interview and generate feedback
  /restart                  discard the finished interview and return to idle
  /status                   show the current session
  /history                  list archived interviews
  /quit                     end the interview and exit
Any other line is sent to the interviewer as text.`

// errQuit is returned by HandleLine when the user asked to exit.
var errQuit = errors.New("app: quit")

// SessionManager drives one interview [session.Controller] from console
// commands and renders its updates as text. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	ctrl     *session.Controller
	archive  archive.Store
	defaults config.SessionConfig
	history  int
	log      *slog.Logger

	// starts tracks console starts that may still be connecting.
	starts sync.WaitGroup

	mu      sync.Mutex
	out     io.Writer
	printed int
	lastID  string
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Controller *session.Controller
	Archive    archive.Store
	Defaults   config.SessionConfig

	// HistoryLimit caps /history and the status document. Zero means 20.
	HistoryLimit int

	Out    io.Writer
	Logger *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		ctrl:     cfg.Controller,
		archive:  cfg.Archive,
		defaults: cfg.Defaults,
		history:  cfg.HistoryLimit,
		log:      cfg.Logger,
		out:      cfg.Out,
	}
	if sm.history <= 0 {
		sm.history = 20
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if sm.out == nil {
		sm.out = io.Discard
	}
	return sm
}

// Start begins an interview. Empty role or topic fall back to the configured
// defaults.
func (sm *SessionManager) Start(ctx context.Context, role, topic string) error {
	if role == "" {
		role = sm.defaults.Role
	}
	if topic == "" {
		topic = sm.defaults.Topic
	}
	sm.printf("Connecting to the interviewer (%s, %s)...\n", role, topic)
	err := sm.ctrl.Start(ctx, session.Config{
		Role:       role,
		Topic:      topic,
		Vocabulary: sm.defaults.Vocabulary,
	})
	if err != nil {
		// Setup failures are reported through the state update.
		var setupErr *session.SetupError
		if !errors.As(err, &setupErr) {
			sm.printf("! %s\n", session.UserMessage(err))
		}
		return err
	}
	if snap := sm.ctrl.Snapshot(); snap.Degraded {
		sm.printf("! No microphone available. Type your answers instead.\n")
	}
	return nil
}

// startAsync runs Start in its own goroutine so that /end can abort the
// connect. Finish waits for it.
func (sm *SessionManager) startAsync(ctx context.Context, role, topic string) {
	sm.starts.Add(1)
	go func() {
		defer sm.starts.Done()
		_ = sm.Start(ctx, role, topic)
	}()
}

// HandleLine executes one console line. It returns errQuit for /quit.
func (sm *SessionManager) HandleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if err := sm.ctrl.SendText(line); err != nil {
			if errors.Is(err, session.ErrNotActive) {
				sm.printf("! No interview is running. Use /start.\n")
			} else {
				sm.printf("! %s\n", session.UserMessage(err))
			}
		}
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/start":
		role, topic, _ := strings.Cut(arg, "|")
		sm.startAsync(ctx, strings.TrimSpace(role), strings.TrimSpace(topic))
	case "/end":
		if st := sm.ctrl.State(); st != session.StateActive && st != session.StateConnecting {
			sm.printf("! No interview is running.\n")
			return nil
		}
		sm.ctrl.End()
	case "/restart":
		if err := sm.ctrl.Restart(); err != nil {
			sm.printf("! The interview has not finished yet.\n")
		}
	case "/status":
		sm.printSnapshot(sm.ctrl.Snapshot())
	case "/history":
		sm.printHistory(ctx)
	case "/help":
		sm.printf("%s\n", consoleHelp)
	case "/quit":
		return errQuit
	default:
		sm.printf("! Unknown command %s. Type /help.\n", cmd)
	}
	return nil
}

// Finish ends a running interview and waits for its feedback report. It
// reports whether there was a report to wait for.
func (sm *SessionManager) Finish(ctx context.Context) (session.Snapshot, bool) {
	sm.endRunning()
	// A start that was still connecting may have gone active meanwhile.
	sm.starts.Wait()
	sm.endRunning()
	if sm.ctrl.State() != session.StateGeneratingSummary {
		return session.Snapshot{}, false
	}
	snap, err := sm.ctrl.Wait(ctx)
	if err != nil {
		sm.log.Warn("app: gave up waiting for feedback", "err", err)
		return session.Snapshot{}, false
	}
	return snap, true
}

func (sm *SessionManager) endRunning() {
	switch sm.ctrl.State() {
	case session.StateActive, session.StateConnecting:
		sm.ctrl.End()
	}
}

// watch renders updates until ctx is cancelled or the channel is closed.
func (sm *SessionManager) watch(ctx context.Context, updates <-chan session.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			sm.render(u)
		}
	}
}

func (sm *SessionManager) render(u session.Update) {
	snap := u.Snapshot
	sm.mu.Lock()
	if snap.ID != sm.lastID || snap.State == session.StateIdle {
		sm.lastID = snap.ID
		sm.printed = 0
	}
	sm.mu.Unlock()

	switch u.Kind {
	case session.UpdateState:
		switch snap.State {
		case session.StateActive:
			sm.printf("Interview started. Speak or type; /end when you are done.\n")
		case session.StateGeneratingSummary:
			sm.flushEntries(snap.Entries, true)
			sm.printf("Interview ended after %s. Generating feedback...\n", snap.Elapsed.Round(time.Second))
		case session.StateIdle:
			if snap.Error != "" {
				sm.printf("! %s\n", snap.Error)
			}
		}
	case session.UpdateTranscript:
		sm.flushEntries(snap.Entries, false)
	case session.UpdateReport:
		if snap.Report != nil {
			sm.printf("%s", FormatReport(snap.Report))
		} else if snap.Error != "" {
			sm.printf("! %s\n", snap.Error)
		}
		sm.printf("Type /restart for a new interview or /quit to exit.\n")
	}
}

// flushEntries prints final entries not yet shown, in order. With all set,
// trailing partial entries are printed as well.
func (sm *SessionManager) flushEntries(entries []transcript.Entry, all bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for sm.printed < len(entries) {
		e := entries[sm.printed]
		if !e.IsFinal && !all {
			return
		}
		fmt.Fprintf(sm.out, "[%s]: %s\n", e.Speaker, e.Text)
		sm.printed++
	}
}

func (sm *SessionManager) printSnapshot(s session.Snapshot) {
	sm.printf("State: %s\n", s.State)
	if s.ID == "" {
		return
	}
	sm.printf("Session %s: %s, %s\n", s.ID, s.Role, s.Topic)
	sm.printf("Elapsed %s, %d transcript entries, %d audio blocks sent\n", s.Elapsed.Round(time.Second), len(s.Entries), s.ChunksSent)
	if s.Degraded {
		sm.printf("Text-only mode (no microphone)\n")
	}
	if s.Error != "" {
		sm.printf("Last error: %s\n", s.Error)
	}
}

func (sm *SessionManager) printHistory(ctx context.Context) {
	list, err := sm.archive.List(ctx, sm.history)
	if err != nil {
		sm.log.Warn("app: list archive", "err", err)
		sm.printf("! The history could not be loaded.\n")
		return
	}
	if len(list) == 0 {
		sm.printf("No archived interviews yet.\n")
		return
	}
	for _, s := range list {
		score := fmt.Sprintf("%d/10", s.Score)
		if s.Failed {
			score = "no feedback"
		}
		sm.printf("%s  %-11s  %s, %s\n", s.EndedAt.Local().Format("2006-01-02 15:04"), score, s.Role, s.Topic)
	}
}

func (sm *SessionManager) printf(format string, args ...any) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	fmt.Fprintf(sm.out, format, args...)
}

// FormatReport renders a feedback report for the console.
func FormatReport(r *session.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nFeedback (score %d/10)\n%s\n", r.Score, r.Overall)
	if len(r.Strengths) > 0 {
		b.WriteString("\nStrengths:\n")
		for _, s := range r.Strengths {
			fmt.Fprintf(&b, "  + %s\n", s)
		}
	}
	if len(r.Improvements) > 0 {
		b.WriteString("\nTo improve:\n")
		for _, s := range r.Improvements {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	b.WriteString("\n")
	return b.String()
}
