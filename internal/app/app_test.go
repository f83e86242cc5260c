package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	capturemock "github.com/MrWong99/parley/pkg/audio/capture/mock"
	"github.com/MrWong99/parley/pkg/audio/playback"
	playbackmock "github.com/MrWong99/parley/pkg/audio/playback/mock"
	"github.com/MrWong99/parley/pkg/provider/live"
	livemock "github.com/MrWong99/parley/pkg/provider/live/mock"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

const reportJSON = `{"overall":"Concise and structured.","score":7,"strengths":["clear examples"],"improvements":["quantify impact"]}`

// syncBuffer is a bytes.Buffer safe for the console writer and test reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testConfig returns a config that starts an interview on Run.
func testConfig() *config.Config {
	return &config.Config{
		Providers: config.ProvidersConfig{Live: config.ProviderEntry{Name: "mock"}},
		Session: config.SessionConfig{
			Role:           "Platform Engineer",
			Topic:          "observability",
			ConnectTimeout: time.Second,
		},
	}
}

type testApp struct {
	app   *app.App
	sess  *livemock.Session
	store *archive.MemStore
	in    *io.PipeWriter
	out   *syncBuffer
}

func newTestApp(t *testing.T, cfg *config.Config, summary llm.Provider) *testApp {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ta := &testApp{
		sess:  livemock.NewSession(),
		store: archive.NewMemStore(),
		out:   &syncBuffer{},
	}
	pr, pw := io.Pipe()
	ta.in = pw
	t.Cleanup(func() { pw.Close() })

	providers := &app.Providers{
		Live:     &livemock.Provider{Session: ta.sess},
		LiveName: "mock",
		Summary:  summary,
	}
	ta.app, err = app.New(context.Background(), cfg, providers,
		app.WithArchive(ta.store),
		app.WithMicrophone(&capturemock.Microphone{}),
		app.WithDeviceOpener(func(audio.Format) (playback.Device, error) { return &playbackmock.Device{}, nil }),
		app.WithConsole(pr, ta.out),
		app.WithLogger(slog.New(slog.DiscardHandler)),
		app.WithMetrics(metrics),
		app.WithSessionOptions(session.WithTickInterval(time.Hour)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return ta
}

func (ta *testApp) send(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(ta.in, line+"\n"); err != nil {
		t.Fatalf("write console line: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNew_RequiresLiveProvider(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Fatal("expected error without a live provider")
	}
}

func TestNew_DefaultsToMemoryArchive(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), &app.Providers{Live: &livemock.Provider{}},
		app.WithLogger(slog.New(slog.DiscardHandler)),
		app.WithConsole(strings.NewReader(""), io.Discard),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if _, ok := a.Archive().(*archive.MemStore); !ok {
		t.Errorf("archive = %T, want *archive.MemStore", a.Archive())
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRun_Interview(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, testConfig(), &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reportJSON}})
	ta.sess.Open()

	done := make(chan error, 1)
	go func() { done <- ta.app.Run(context.Background()) }()

	ctrl := ta.app.Controller()
	waitFor(t, "active session", func() bool { return ctrl.State() == session.StateActive })

	ta.sess.Emit(live.ServerMessage{OutputTranscription: "Walk me through an alert you tuned.", TurnComplete: true})
	ta.send(t, "We cut paging noise by half.")
	waitFor(t, "typed answer", func() bool { return len(ta.sess.Contents()) == 1 })

	ta.send(t, "/end")
	waitFor(t, "report", func() bool { return strings.Contains(ta.out.String(), "Feedback (score 7/10)") })

	ta.send(t, "/quit")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after /quit")
	}

	out := ta.out.String()
	for _, want := range []string{
		"Interview started.",
		"[Remote]: Walk me through an alert you tuned.",
		"[Caller]: We cut paging noise by half.",
		"+ clear examples",
		"- quantify impact",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}

	list, err := ta.store.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Score != 7 || list[0].Role != "Platform Engineer" {
		t.Errorf("archive = %+v", list)
	}
}

func TestRun_EndOfInputFinishesInterview(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, testConfig(), &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reportJSON}})
	ta.sess.Open()

	done := make(chan error, 1)
	go func() { done <- ta.app.Run(context.Background()) }()

	ctrl := ta.app.Controller()
	waitFor(t, "active session", func() bool { return ctrl.State() == session.StateActive })
	ta.send(t, "I would start with the SLOs.")
	waitFor(t, "typed answer", func() bool { return len(ta.sess.Contents()) == 1 })
	ta.in.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return at end of input")
	}
	if st := ctrl.State(); st != session.StateClosed {
		t.Errorf("state = %v, want closed", st)
	}
	if !strings.Contains(ta.out.String(), "Feedback (score 7/10)") {
		t.Errorf("report not printed:\n%s", ta.out.String())
	}
}

func TestRun_WithoutDefaultsWaitsForStart(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Session.Role, cfg.Session.Topic = "", ""
	ta := newTestApp(t, cfg, nil)
	ta.sess.Open()

	done := make(chan error, 1)
	go func() { done <- ta.app.Run(context.Background()) }()

	ta.send(t, "hello?")
	waitFor(t, "not running notice", func() bool { return strings.Contains(ta.out.String(), "No interview is running") })
	if st := ta.app.Controller().State(); st != session.StateIdle {
		t.Fatalf("state = %v, want idle", st)
	}

	ta.send(t, "/start SRE | incident response")
	waitFor(t, "active session", func() bool { return ta.app.Controller().State() == session.StateActive })
	if snap := ta.app.Controller().Snapshot(); snap.Role != "SRE" || snap.Topic != "incident response" {
		t.Errorf("snapshot role/topic = %q/%q", snap.Role, snap.Topic)
	}

	ta.send(t, "/end")
	waitFor(t, "error state", func() bool { return ta.app.Controller().State() == session.StateError })
	waitFor(t, "no summary notice", func() bool {
		return strings.Contains(ta.out.String(), session.UserMessage(session.ErrNoSummariser))
	})

	ta.send(t, "/quit")
	<-done
}

func TestStatusAndCheckers(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, testConfig(), nil)

	doc, err := ta.app.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Session struct {
			State string `json:"state"`
		} `json:"session"`
		History []archive.Summary `json:"history"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Session.State != "idle" {
		t.Errorf("session.state = %q, want idle", got.Session.State)
	}

	for _, c := range ta.app.Checkers() {
		if err := c.Check(context.Background()); err != nil {
			t.Errorf("check %s failed: %v", c.Name, err)
		}
	}
}

func TestCheckers_SummaryFailureKeepsReadiness(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, testConfig(), nil)
	ta.sess.Open()
	ctrl := ta.app.Controller()
	if err := ctrl.Start(context.Background(), session.Config{Role: "r", Topic: "t"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctrl.End()
	waitFor(t, "error state", func() bool { return ctrl.State() == session.StateError })

	for _, c := range ta.app.Checkers() {
		if err := c.Check(context.Background()); err != nil {
			t.Errorf("check %s failed after a summary failure: %v", c.Name, err)
		}
	}
}

func TestRun_EndAbortsConnectingStart(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Session.Role, cfg.Session.Topic = "", ""
	cfg.Session.ConnectTimeout = time.Minute
	// The transport never opens, so /start stays connecting until /end.
	ta := newTestApp(t, cfg, nil)

	done := make(chan error, 1)
	go func() { done <- ta.app.Run(context.Background()) }()

	ctrl := ta.app.Controller()
	ta.send(t, "/start SRE | incident response")
	waitFor(t, "connecting", func() bool { return ctrl.State() == session.StateConnecting })

	ta.send(t, "/end")
	waitFor(t, "idle after abort", func() bool { return ctrl.State() == session.StateIdle })
	if n := ta.sess.Closes(); n != 1 {
		t.Errorf("transport closed %d times, want 1", n)
	}
	if snap := ctrl.Snapshot(); snap.Error == "" {
		t.Error("aborted start left no message")
	}

	ta.send(t, "/quit")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after /quit")
	}
}

func TestShutdown_EndsActiveSession(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, testConfig(), &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reportJSON}})
	ta.sess.Open()
	ctrl := ta.app.Controller()
	if err := ctrl.Start(context.Background(), session.Config{Role: "r", Topic: "t"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctrl.SendText("answer"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ta.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if st := ctrl.State(); st != session.StateClosed {
		t.Errorf("state = %v, want closed", st)
	}
	if ta.sess.Closes() == 0 {
		t.Error("transport not closed")
	}
	// Idempotent.
	if err := ta.app.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
