// Package capture pulls microphone audio in fixed-size blocks and forwards
// each block, encoded as base64 PCM16, to a live session.
//
// A [Microphone] is acquired into a [Source] (the microphone handle). A
// [Pipeline] is the processing node: it reads one block at a time, keeps the
// first channel, resamples it to the transport input rate and hands exactly
// one [live.Media] to its [Sender] per block. There is no internal queue, so
// frames are sent in capture order.
//
// Teardown is two-step and the order matters: [Pipeline.Disconnect] first
// detaches the sender so no further send can fire, then the caller releases
// the Source, which unblocks any pending read.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// DefaultBlockSize is the number of sample frames read per processing block.
const DefaultBlockSize = 4096

var (
	// ErrPermissionDenied is returned by Acquire when access to the device
	// was refused.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrUnsupported is returned by Acquire when no usable device exists.
	ErrUnsupported = errors.New("capture: microphone unsupported")

	// ErrAlreadyStarted is returned by Start on a running pipeline.
	ErrAlreadyStarted = errors.New("capture: pipeline already started")
)

// Microphone acquires a capture source.
type Microphone interface {
	// Acquire opens the device. Errors wrapping ErrPermissionDenied or
	// ErrUnsupported mean the caller should continue without audio input.
	Acquire(ctx context.Context) (Source, error)
}

// Source is an acquired microphone handle delivering interleaved float
// samples in [-1, 1].
type Source interface {
	// Format reports the native rate and channel count of the device.
	Format() audio.Format

	// Read blocks until up to len(block) interleaved samples are available
	// and returns how many were written. It returns io.EOF when the device
	// is exhausted or closed.
	Read(block []float32) (int, error)

	// Close releases the device and unblocks a pending Read.
	Close() error
}

// Sender is the outbound half of a live session.
type Sender interface {
	SendRealtimeInput(m live.Media) error
}

// Unavailable is a Microphone that never yields a source. It selects
// text-only input.
type Unavailable struct{}

// Acquire always fails with ErrUnsupported.
func (Unavailable) Acquire(context.Context) (Source, error) {
	return nil, fmt.Errorf("%w: audio input disabled", ErrUnsupported)
}

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithBlockSize sets the number of sample frames per processing block.
func WithBlockSize(frames int) Option {
	return func(p *Pipeline) {
		if frames > 0 {
			p.blockSize = frames
		}
	}
}

// WithTargetRate sets the sample rate the transport expects. Blocks captured
// at a different rate are resampled.
func WithTargetRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.targetRate = rate
		}
	}
}

// WithLogger sets the logger used for send failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// ── Pipeline ──────────────────────────────────────────────────────────────────

// Pipeline is the capture processing node. A Pipeline runs at most once; use
// a new one per session.
type Pipeline struct {
	blockSize  int
	targetRate int
	log        *slog.Logger

	mu     sync.Mutex
	sender Sender
	cancel context.CancelFunc
	done   chan struct{}

	sent       atomic.Int64
	failed     atomic.Int64
	warnedSend sync.Once
}

// NewPipeline returns an idle pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		blockSize:  DefaultBlockSize,
		targetRate: audio.InputSampleRate,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start connects the node between src and sender and begins reading.
func (p *Pipeline) Start(src Source, sender Sender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.sender = sender
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx, src)
	return nil
}

func (p *Pipeline) run(ctx context.Context, src Source) {
	defer close(p.done)

	f := src.Format()
	channels := max(f.Channels, 1)
	block := make([]float32, p.blockSize*channels)

	// ts is the capture position of the next block.
	var ts time.Duration
	for {
		n, err := src.Read(block)
		if ctx.Err() != nil {
			return
		}
		if n -= n % channels; n > 0 {
			p.process(block[:n], f.SampleRate, channels, ts)
			if f.SampleRate > 0 {
				ts += time.Duration(n/channels) * time.Second / time.Duration(f.SampleRate)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Warn("capture: read failed, stopping", "err", err)
			}
			return
		}
	}
}

func (p *Pipeline) process(block []float32, rate, channels int, ts time.Duration) {
	mono := audio.FirstChannel(block, channels)
	frame := audio.NewFrame(audio.ResampleMono(mono, rate, p.targetRate), p.targetRate, ts)
	media := live.Media{
		MIMEType: audio.MIMEType(frame.SampleRate),
		Data:     frame.Base64(),
	}

	// The lock is held across the send so Disconnect cannot return while a
	// send is in flight.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender == nil {
		return
	}
	if err := p.sender.SendRealtimeInput(media); err != nil {
		p.failed.Add(1)
		p.warnedSend.Do(func() {
			p.log.Warn("capture: send realtime input failed", "at", frame.Timestamp, "err", err)
		})
		return
	}
	p.sent.Add(1)
}

// Disconnect detaches the sender and stops the node. No send happens after
// Disconnect returns. It does not wait for a blocked Read; release the source
// and then call Wait. Safe to call more than once and before Start.
func (p *Pipeline) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender = nil
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the node goroutine has exited. It returns immediately
// when the pipeline was never started.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Sent returns the number of blocks delivered to the sender.
func (p *Pipeline) Sent() int64 { return p.sent.Load() }

// Failed returns the number of blocks the sender rejected.
func (p *Pipeline) Failed() int64 { return p.failed.Load() }
