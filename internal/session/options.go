package session

import (
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
)

const (
	// DefaultConnectTimeout bounds the time from dial until the live session
	// reports open.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultTickInterval is the elapsed-time update period while active.
	DefaultTickInterval = time.Second

	// DefaultSummaryTimeout bounds feedback report generation.
	DefaultSummaryTimeout = 90 * time.Second
)

// DeviceOpener opens the audio output device for model speech.
type DeviceOpener func(f audio.Format) (playback.Device, error)

// discardDevice plays model audio into nothing, keeping timing intact.
func discardDevice(f audio.Format) (playback.Device, error) {
	return playback.NewWriterDevice(io.Discard, f)
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithMicrophone sets the capture device. Without it every session runs in
// text-only mode.
func WithMicrophone(m capture.Microphone) Option {
	return func(c *Controller) { c.mic = m }
}

// WithDeviceOpener sets how the audio output device is opened per session.
func WithDeviceOpener(open DeviceOpener) Option {
	return func(c *Controller) { c.openDevice = open }
}

// WithSummariser sets the feedback report backend.
func WithSummariser(s Summariser) Option {
	return func(c *Controller) { c.summariser = s }
}

// WithRecorder sets where finished sessions are archived.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(c *Controller) { c.providerName = name }
}

// WithConnectTimeout bounds dial plus setup handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithIdleTimeout ends an active session when no transport message arrived
// for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = max(d, 0) }
}

// WithMaxDuration caps the active time of a session. The provider's own limit
// applies as well; the shorter one wins.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Controller) { c.maxDuration = max(d, 0) }
}

// WithSummaryTimeout bounds feedback report generation.
func WithSummaryTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.summaryTimeout = d
		}
	}
}

// WithVoice selects the model voice.
func WithVoice(voice string) Option {
	return func(c *Controller) { c.voice = voice }
}

// WithVocabulary sets terms that are always used to correct the candidate's
// transcript, in addition to [Config.Vocabulary].
func WithVocabulary(terms []string) Option {
	return func(c *Controller) { c.vocabulary = terms }
}

// WithStrictPCM rejects misaligned model audio instead of truncating it.
func WithStrictPCM(strict bool) Option {
	return func(c *Controller) { c.strictPCM = strict }
}

// WithBlockSize sets the capture block size in frames.
func WithBlockSize(frames int) Option {
	return func(c *Controller) { c.blockSize = frames }
}

// WithTickInterval sets the elapsed-time update period.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithClock sets the wall clock used for elapsed time and transcript stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}
