package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/internal/transcript/vocab"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/live"
)

const subscriberBuffer = 64

// Config describes one interview session.
type Config struct {
	// Role is the position the candidate is interviewing for. Required.
	Role string

	// Topic narrows the questions. Required.
	Topic string

	// Vocabulary lists domain terms used to correct the candidate's
	// transcript before it is summarised.
	Vocabulary []string
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Role) == "" {
		errs = append(errs, errors.New("role is required"))
	}
	if strings.TrimSpace(c.Topic) == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Result is a finished session as handed to a [Recorder].
type Result struct {
	ID        string
	Role      string
	Topic     string
	StartedAt time.Time
	EndedAt   time.Time
	Entries   []transcript.Entry

	// Report is nil when Error is set.
	Report *Report

	// Error is the user-facing summary failure message.
	Error string
}

// Recorder persists finished sessions.
type Recorder interface {
	Save(ctx context.Context, r Result) error
}

// UpdateKind tells observers what changed.
type UpdateKind int

const (
	UpdateState UpdateKind = iota + 1
	UpdateTranscript
	UpdateTick
	UpdateReport
)

// String returns the update kind name.
func (k UpdateKind) String() string {
	switch k {
	case UpdateState:
		return "state"
	case UpdateTranscript:
		return "transcript"
	case UpdateTick:
		return "tick"
	case UpdateReport:
		return "report"
	default:
		return "unknown"
	}
}

// Update is delivered to subscribers after every observable change.
type Update struct {
	Kind     UpdateKind
	Snapshot Snapshot
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	ID    string
	State State
	Role  string
	Topic string

	// Degraded is true when no microphone could be acquired and the session
	// accepts typed input only.
	Degraded bool

	Elapsed   time.Duration
	StartedAt time.Time
	EndedAt   time.Time
	Entries   []transcript.Entry
	Report    *Report

	// Error is a user-facing message for the last failure, if any.
	Error string

	// PendingPlayback is the number of scheduled model audio buffers.
	PendingPlayback int

	// ChunksSent is the number of microphone blocks sent this session.
	ChunksSent int64
}

// resources are the per-session handles owned while connecting or active.
type resources struct {
	transport  live.Session
	src        capture.Source
	device     playback.Device
	scheduler  *playback.Scheduler
	pipeline   *capture.Pipeline
	cancelLoop context.CancelFunc
	warnAudio  sync.Once
}

// release tears everything down in order: transport, playback sources,
// capture node, microphone, output device. It returns the number of playback
// sources that were cancelled.
func (r *resources) release(log *slog.Logger) int {
	if r.transport != nil {
		if err := r.transport.Close(); err != nil && !errors.Is(err, live.ErrSessionClosed) {
			log.Debug("session: close transport", "err", err)
		}
	}
	cancelled := 0
	if r.scheduler != nil {
		cancelled = r.scheduler.Cancel()
	}
	if r.pipeline != nil {
		r.pipeline.Disconnect()
	}
	if r.src != nil {
		if err := r.src.Close(); err != nil {
			log.Debug("session: release microphone", "err", err)
		}
	}
	if r.pipeline != nil {
		r.pipeline.Wait()
	}
	if r.device != nil {
		if err := r.device.Close(); err != nil {
			log.Debug("session: close output device", "err", err)
		}
	}
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	return cancelled
}

// meteredSender counts microphone blocks that reached the transport.
type meteredSender struct {
	sess    live.Session
	metrics *observe.Metrics
}

func (s meteredSender) SendRealtimeInput(m live.Media) error {
	if err := s.sess.SendRealtimeInput(m); err != nil {
		return err
	}
	s.metrics.AudioChunksSent.Add(context.Background(), 1)
	return nil
}

// Controller owns the session state machine. Transport events are consumed by
// a single event-loop goroutine per session; every mutation happens under mu.
type Controller struct {
	provider       live.Provider
	providerName   string
	mic            capture.Microphone
	openDevice     DeviceOpener
	summariser     Summariser
	recorder       Recorder
	log            *slog.Logger
	metrics        *observe.Metrics
	connectTimeout time.Duration
	idleTimeout    time.Duration
	maxDuration    time.Duration
	summaryTimeout time.Duration
	tickInterval   time.Duration
	voice          string
	vocabulary     []string
	strictPCM      bool
	blockSize      int
	now            func() time.Time

	mu sync.Mutex
	// gen increments per Start so goroutines of an earlier session can tell
	// they are stale.
	gen          uint64
	state        State
	cfg          Config
	id           string
	degraded     bool
	startedAt    time.Time
	activeAt     time.Time
	endedAt      time.Time
	elapsed      time.Duration
	report       *Report
	errMsg       string
	res          *resources
	abort        context.CancelFunc
	endRequested bool
	done         chan struct{}
	transcript   *transcript.Reconciler

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

// New creates an idle Controller for the given live provider.
func New(provider live.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider:       provider,
		providerName:   "live",
		mic:            capture.Unavailable{},
		openDevice:     discardDevice,
		log:            slog.Default(),
		connectTimeout: DefaultConnectTimeout,
		summaryTimeout: DefaultSummaryTimeout,
		tickInterval:   DefaultTickInterval,
		now:            time.Now,
		done:           make(chan struct{}),
		subs:           make(map[int]chan Update),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.transcript = transcript.New(transcript.WithClock(c.now))
	return c
}

// setStateLocked moves to next and records the transition.
func (c *Controller) setStateLocked(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.metrics.RecordTransition(context.Background(), prev.String(), next.String())
	c.log.Debug("session: state", "id", c.id, "from", prev, "to", next)
}

// ── Start ─────────────────────────────────────────────────────────────────────

// Start validates cfg, acquires audio, opens the live session and waits until
// it reports open or the connect timeout expires. On failure it returns a
// [*SetupError], every partially acquired resource is released and the
// controller is back in [StateIdle].
func (c *Controller) Start(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.gen++
	gen := c.gen
	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	c.abort = cancel
	c.endRequested = false
	c.cfg = cfg
	c.id = uuid.NewString()
	c.startedAt = c.now()
	c.errMsg = ""
	c.transcript.Reset()
	c.setStateLocked(StateConnecting)
	id := c.id
	c.mu.Unlock()
	c.publish(UpdateState)

	connectCtx, span := observe.StartSpan(connectCtx, "session.connect")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id), attribute.String("provider", c.providerName))
	log := observe.Logger(connectCtx, c.log).With("id", id)

	// fail returns a setup failure to Idle. res may be nil.
	fail := func(res *resources, err error) error {
		if res != nil {
			res.release(c.log)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		c.mu.Lock()
		c.abort = nil
		if c.gen == gen {
			c.errMsg = UserMessage(err)
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()
		c.publish(UpdateState)
		log.Warn("session: setup failed", "err", err)
		return err
	}

	start := time.Now()
	res, caps, err := c.connect(connectCtx, cfg, log)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, c.providerName, "live", "error")
		return fail(nil, err)
	}
	c.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", c.providerName)))
	c.metrics.RecordProviderRequest(ctx, c.providerName, "live", "ok")

	outFormat := audio.Format{SampleRate: rateOr(caps.OutputSampleRate, audio.OutputSampleRate), Channels: 1}
	res.scheduler = playback.NewScheduler(res.device,
		playback.WithFormat(outFormat),
		playback.WithStrictDecoding(c.strictPCM),
		playback.WithLogger(c.log),
	)
	if res.src != nil {
		res.pipeline = capture.NewPipeline(
			capture.WithBlockSize(c.blockSize),
			capture.WithTargetRate(rateOr(caps.InputSampleRate, audio.InputSampleRate)),
			capture.WithLogger(c.log),
		)
	}
	loopCtx, cancelLoop := context.WithCancel(context.WithoutCancel(ctx))
	res.cancelLoop = cancelLoop

	// End may have been requested at any point while connecting; the state
	// only leaves Connecting under this lock.
	c.mu.Lock()
	if c.endRequested || c.gen != gen {
		c.mu.Unlock()
		return fail(res, &SetupError{Msg: "The session was cancelled.", Err: context.Canceled})
	}
	c.abort = nil
	c.res = res
	c.degraded = res.src == nil
	c.activeAt = c.now()
	c.elapsed = 0
	c.setStateLocked(StateActive)
	if res.pipeline != nil {
		if err := res.pipeline.Start(res.src, meteredSender{sess: res.transport, metrics: c.metrics}); err != nil {
			log.Warn("session: start capture", "err", err)
		}
	}
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("session: active", "role", cfg.Role, "topic", cfg.Topic, "text_only", res.src == nil)
	go c.run(loopCtx, gen, res, c.sessionLimit(caps))
	c.publish(UpdateState)
	return nil
}

// connect acquires the microphone, opens the output device and the live
// session, and waits for it to open. Microphone failures only degrade the
// session.
func (c *Controller) connect(ctx context.Context, cfg Config, log *slog.Logger) (*resources, live.Capabilities, error) {
	caps := c.provider.Capabilities()
	res := &resources{}

	src, err := c.mic.Acquire(ctx)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrPermissionDenied), errors.Is(err, capture.ErrUnsupported):
			log.Info("session: microphone unavailable, continuing with text input", "err", err)
		default:
			log.Warn("session: microphone failed, continuing with text input", "err", err)
		}
	} else {
		res.src = src
	}

	dev, err := c.openDevice(audio.Format{SampleRate: rateOr(caps.OutputSampleRate, audio.OutputSampleRate), Channels: 1})
	if err != nil {
		res.release(c.log)
		return nil, caps, &SetupError{Msg: "Could not open the audio output.", Err: fmt.Errorf("open output device: %w", err)}
	}
	res.device = dev

	sess, err := c.provider.Connect(ctx, live.SessionConfig{
		SystemInstruction:   systemInstruction(cfg.Role, cfg.Topic),
		Voice:               c.voice,
		ResponseModalities:  []live.Modality{live.ModalityAudio},
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if err != nil {
		res.release(c.log)
		return nil, caps, &SetupError{Msg: "Could not connect to the interview service.", Err: fmt.Errorf("connect: %w", err)}
	}
	res.transport = sess

	if err := awaitOpen(ctx, sess, log); err != nil {
		res.release(c.log)
		msg := "The interview service did not respond."
		if errors.Is(err, context.Canceled) {
			msg = "The session was cancelled."
		}
		return nil, caps, &SetupError{Msg: msg, Err: err}
	}
	return res, caps, nil
}

// awaitOpen consumes events until the session reports open.
func awaitOpen(ctx context.Context, sess live.Session, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("await open: %w", ctx.Err())
		case ev, ok := <-sess.Events():
			if !ok {
				return fmt.Errorf("await open: %w", live.ErrSessionClosed)
			}
			switch ev.Type {
			case live.EventOpen:
				return nil
			case live.EventError:
				log.Warn("session: transport error during setup", "err", ev.Err)
			case live.EventClose:
				if ev.Err != nil {
					return fmt.Errorf("await open: closed: %w", ev.Err)
				}
				return fmt.Errorf("await open: %w", live.ErrSessionClosed)
			}
		}
	}
}

func rateOr(rate, fallback int) int {
	if rate > 0 {
		return rate
	}
	return fallback
}

// sessionLimit returns the shorter positive limit of the configured and the
// provider's maximum duration, or zero when neither is set.
func (c *Controller) sessionLimit(caps live.Capabilities) time.Duration {
	limit := c.maxDuration
	if d := caps.MaxSessionDuration; d > 0 && (limit == 0 || d < limit) {
		limit = d
	}
	return limit
}

// ── Event loop ────────────────────────────────────────────────────────────────

func (c *Controller) run(ctx context.Context, gen uint64, res *resources, limit time.Duration) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	var limitC <-chan time.Time
	if limit > 0 {
		t := time.NewTimer(limit)
		defer t.Stop()
		limitC = t.C
	}
	var (
		idle  *time.Timer
		idleC <-chan time.Time
	)
	if c.idleTimeout > 0 {
		idle = time.NewTimer(c.idleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	events := res.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.end(gen, "transport closed")
				return
			}
			switch ev.Type {
			case live.EventMessage:
				if idle != nil {
					idle.Reset(c.idleTimeout)
				}
				c.handleMessage(ctx, gen, res, ev.Message)
			case live.EventError:
				c.log.Warn("session: transport error", "err", ev.Err)
				c.metrics.RecordProviderError(ctx, c.providerName, "live")
			case live.EventClose:
				if ev.Err != nil {
					c.log.Warn("session: transport closed", "err", ev.Err)
				}
				c.end(gen, "remote close")
				return
			}
		case <-ticker.C:
			c.tick(gen)
		case <-limitC:
			c.log.Info("session: maximum duration reached", "limit", limit)
			c.end(gen, "max duration")
			return
		case <-idleC:
			c.log.Info("session: idle timeout", "timeout", c.idleTimeout)
			c.end(gen, "idle timeout")
			return
		}
	}
}

// handleMessage routes one server message. Barge-in is applied before any
// audio carried by the same message is scheduled.
func (c *Controller) handleMessage(ctx context.Context, gen uint64, res *resources, m *live.ServerMessage) {
	if m == nil {
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateActive {
		c.mu.Unlock()
		return
	}

	cancelled := 0
	if m.Interrupted {
		cancelled = res.scheduler.Cancel()
	}

	changed := false
	if _, ok := c.transcript.AppendPartial(transcript.Caller, m.InputTranscription); ok {
		changed = true
	}
	if _, ok := c.transcript.AppendPartial(transcript.Remote, m.OutputTranscription); ok {
		changed = true
	}
	if m.OutputTranscription == "" {
		for _, text := range m.Text {
			if _, ok := c.transcript.AppendPartial(transcript.Remote, text); ok {
				changed = true
			}
		}
	}

	played := 0
	for _, part := range m.Audio {
		if part.MIMEType != "" && !strings.HasPrefix(part.MIMEType, "audio/pcm") {
			continue
		}
		if _, err := res.scheduler.EnqueueBase64(part.Data); err != nil {
			res.warnAudio.Do(func() {
				c.log.Warn("session: dropping model audio", "err", err)
			})
			continue
		}
		played++
	}

	if m.TurnComplete && c.transcript.CompleteTurn() > 0 {
		changed = true
	}
	c.mu.Unlock()

	if m.Interrupted {
		c.metrics.RecordPlaybackCancel(ctx, "interrupted", cancelled)
	}
	if played > 0 {
		c.metrics.AudioChunksPlayed.Add(ctx, int64(played))
	}
	if changed {
		c.publish(UpdateTranscript)
	}
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.elapsed = c.now().Sub(c.activeAt)
	c.mu.Unlock()
	c.publish(UpdateTick)
}

// ── Text input ────────────────────────────────────────────────────────────────

// SendText sends typed input as a completed user turn and records it as a
// final Caller entry. Blank text is ignored.
func (c *Controller) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	gen, sess := c.gen, c.res.transport
	c.mu.Unlock()

	if err := sess.SendClientContent(live.UserText(text)); err != nil {
		return fmt.Errorf("session: send text: %w", err)
	}

	c.mu.Lock()
	if c.gen == gen && c.state == StateActive {
		c.transcript.AppendFinal(transcript.Caller, text)
	}
	c.mu.Unlock()
	c.publish(UpdateTranscript)
	return nil
}

// ── End ───────────────────────────────────────────────────────────────────────

// End stops the running session. While connecting it aborts the setup; while
// active it tears the session down and starts the feedback report. In every
// other state it does nothing.
func (c *Controller) End() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.end(gen, "user")
}

func (c *Controller) end(gen uint64, reason string) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateConnecting:
		c.endRequested = true
		if c.abort != nil {
			c.abort()
		}
		c.mu.Unlock()
		return
	case StateActive:
	default:
		c.mu.Unlock()
		return
	}

	res := c.res
	c.res = nil
	c.elapsed = c.now().Sub(c.activeAt)
	c.transcript.CompleteTurn()
	cfg, entries, elapsed := c.cfg, c.transcript.Entries(), c.elapsed
	c.setStateLocked(StateGeneratingSummary)
	c.mu.Unlock()

	c.log.Info("session: ending", "id", c.snapshotID(), "reason", reason, "elapsed", elapsed.Round(time.Second))
	ctx := context.Background()
	c.metrics.RecordPlaybackCancel(ctx, "teardown", res.release(c.log))
	c.metrics.ActiveSessions.Add(ctx, -1)
	c.metrics.SessionDuration.Record(ctx, elapsed.Seconds())
	c.publish(UpdateState)

	go c.summarise(gen, cfg, entries)
}

func (c *Controller) snapshotID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// ── Summary ───────────────────────────────────────────────────────────────────

func (c *Controller) summarise(gen uint64, cfg Config, entries []transcript.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), c.summaryTimeout)
	defer cancel()

	start := time.Now()
	report, err := c.generateReport(ctx, cfg, entries)
	c.metrics.SummaryDuration.Record(ctx, time.Since(start).Seconds())

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.endedAt = c.now()
	if err != nil {
		c.errMsg = UserMessage(err)
		c.setStateLocked(StateError)
	} else {
		c.report = report
		c.setStateLocked(StateClosed)
	}
	result := Result{
		ID:        c.id,
		Role:      cfg.Role,
		Topic:     cfg.Topic,
		StartedAt: c.startedAt,
		EndedAt:   c.endedAt,
		Entries:   entries,
		Report:    c.report,
		Error:     c.errMsg,
	}
	done := c.done
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("session: feedback report failed", "id", result.ID, "err", err)
	}
	if c.recorder != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.recorder.Save(saveCtx, result); err != nil {
			c.log.Warn("session: archive failed", "id", result.ID, "err", err)
		}
		cancel()
	}
	close(done)
	c.publish(UpdateReport)
}

func (c *Controller) generateReport(ctx context.Context, cfg Config, entries []transcript.Entry) (*Report, error) {
	if c.summariser == nil {
		return nil, ErrNoSummariser
	}
	if len(entries) == 0 {
		return nil, ErrEmptyTranscript
	}
	report, err := c.summariser.Summarise(ctx, SummaryRequest{
		Role:    cfg.Role,
		Topic:   cfg.Topic,
		Entries: c.correct(cfg, entries),
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordProviderRequest(ctx, "summary", "llm", status)
	return report, err
}

// correct applies vocabulary correction to final Caller entries of a copy of
// entries.
func (c *Controller) correct(cfg Config, entries []transcript.Entry) []transcript.Entry {
	terms := append(append([]string(nil), c.vocabulary...), cfg.Vocabulary...)
	corrector := vocab.New(terms)
	if corrector.Len() == 0 {
		return entries
	}
	out := make([]transcript.Entry, len(entries))
	copy(out, entries)
	for i := range out {
		if out[i].Speaker != transcript.Caller || !out[i].IsFinal {
			continue
		}
		text, fixes := corrector.Correct(out[i].Text)
		if len(fixes) > 0 {
			c.log.Debug("session: transcript corrected", "entry", i, "corrections", len(fixes))
			out[i].Text = text
		}
	}
	return out
}

// ── Restart / Wait ────────────────────────────────────────────────────────────

// Restart resets a finished controller to [StateIdle].
func (c *Controller) Restart() error {
	c.mu.Lock()
	if !c.state.Terminal() {
		c.mu.Unlock()
		return ErrNotFinished
	}
	c.cfg = Config{}
	c.id = ""
	c.degraded = false
	c.startedAt, c.activeAt, c.endedAt = time.Time{}, time.Time{}, time.Time{}
	c.elapsed = 0
	c.report = nil
	c.errMsg = ""
	c.done = make(chan struct{})
	c.transcript.Reset()
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
	c.publish(UpdateState)
	return nil
}

// Wait blocks until the current session reached a terminal state and returns
// its final snapshot.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	select {
	case <-done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current view of the controller.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		ID:        c.id,
		State:     c.state,
		Role:      c.cfg.Role,
		Topic:     c.cfg.Topic,
		Degraded:  c.degraded,
		Elapsed:   c.elapsed,
		StartedAt: c.startedAt,
		EndedAt:   c.endedAt,
		Entries:   c.transcript.Entries(),
		Report:    c.report,
		Error:     c.errMsg,
	}
	if c.res != nil {
		s.PendingPlayback = c.res.scheduler.Pending()
		if c.res.pipeline != nil {
			s.ChunksSent = c.res.pipeline.Sent()
		}
	}
	return s
}

// ── Observers ─────────────────────────────────────────────────────────────────

// Subscribe returns a channel of updates and a function that unsubscribes and
// closes it. Slow subscribers miss updates rather than blocking the session.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			close(ch)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) publish(kind UpdateKind) {
	u := Update{Kind: kind, Snapshot: c.Snapshot()}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			c.log.Debug("session: subscriber lagging, update dropped", "kind", kind)
		}
	}
}
