package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrDeviceClosed is returned by Play after Close.
var ErrDeviceClosed = errors.New("playback: device closed")

var _ Device = (*WriterDevice)(nil)

// WriterDevice is a [Device] that writes PCM16 to an [io.Writer] at each
// buffer's scheduled start time. Pair it with an [audio.WAVWriter] to record a
// session, or with a pipe into a system player for live output.
//
// A single dispatch goroutine drains the schedule in start order and sleeps
// until each buffer is due. Stopped buffers that have not started are skipped.
type WriterDevice struct {
	w      io.Writer
	format audio.Format
	now    func() time.Time
	epoch  time.Time
	log    *slog.Logger

	mu     sync.Mutex
	queue  []*writerSource
	closed bool

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}

	warnedWrite sync.Once
}

// DeviceOption configures a WriterDevice.
type DeviceOption func(*WriterDevice)

// WithClock replaces the wall clock. Used by tests.
func WithClock(now func() time.Time) DeviceOption {
	return func(d *WriterDevice) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDeviceLogger sets the logger used for write failures.
func WithDeviceLogger(l *slog.Logger) DeviceOption {
	return func(d *WriterDevice) { d.log = l }
}

// NewWriterDevice starts a device writing f-formatted PCM16 to w. Close stops
// the dispatch goroutine and closes w when it implements [io.Closer].
func NewWriterDevice(w io.Writer, f audio.Format, opts ...DeviceOption) (*WriterDevice, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("playback: invalid device format %s", f)
	}
	d := &WriterDevice{
		w:      w,
		format: f,
		now:    time.Now,
		log:    slog.Default(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.epoch = d.now()
	go d.dispatch()
	return d, nil
}

// Format returns the output format.
func (d *WriterDevice) Format() audio.Format { return d.format }

// Now returns the time elapsed since the device was opened.
func (d *WriterDevice) Now() time.Duration {
	return d.now().Sub(d.epoch)
}

// Play queues buf for output at the given clock position. Mono buffers at a
// different rate are resampled to the device rate.
func (d *WriterDevice) Play(buf audio.Buffer, at time.Duration, onEnded func()) (Source, error) {
	pcm, err := d.render(buf)
	if err != nil {
		return nil, err
	}
	src := &writerSource{
		pcm:     pcm,
		at:      at,
		dur:     buf.Duration(),
		onEnded: onEnded,
		stop:    make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDeviceClosed
	}
	d.queue = append(d.queue, src)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return src, nil
}

func (d *WriterDevice) render(buf audio.Buffer) ([]byte, error) {
	if buf.Channels != d.format.Channels {
		return nil, fmt.Errorf("playback: buffer has %d channels, device %s", buf.Channels, d.format)
	}
	samples := buf.Interleaved()
	if buf.SampleRate != d.format.SampleRate {
		if buf.Channels != 1 {
			return nil, fmt.Errorf("playback: cannot resample %d-channel audio", buf.Channels)
		}
		samples = audio.ResampleMono(samples, buf.SampleRate, d.format.SampleRate)
	}
	return audio.EncodePCM16(samples), nil
}

// Close stops output, discards unplayed buffers and closes the writer when it
// is an [io.Closer]. Close is idempotent.
func (d *WriterDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.queue = nil
	d.mu.Unlock()

	close(d.done)
	<-d.exited

	if c, ok := d.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *WriterDevice) dequeue() *writerSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	src := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return src
}

// dispatch writes queued buffers in order until Close.
func (d *WriterDevice) dispatch() {
	defer close(d.exited)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	// waitUntil sleeps until the clock reaches at. It reports false when the
	// source was stopped or the device closed in the meantime.
	waitUntil := func(at time.Duration, stop <-chan struct{}) bool {
		wait := at - d.Now()
		if wait <= 0 {
			select {
			case <-stop:
				return false
			case <-d.done:
				return false
			default:
				return true
			}
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
			return true
		case <-stop:
		case <-d.done:
		}
		timer.Stop()
		return false
	}

	for {
		select {
		case <-d.done:
			return
		case <-d.notify:
		}

		for {
			src := d.dequeue()
			if src == nil {
				break
			}
			if !waitUntil(src.at, src.stop) {
				continue
			}
			if _, err := d.w.Write(src.pcm); err != nil {
				d.warnedWrite.Do(func() {
					d.log.Warn("playback: write failed", "err", err)
				})
			}
			if waitUntil(src.at+src.dur, src.stop) && src.onEnded != nil {
				src.onEnded()
			}
		}
	}
}

type writerSource struct {
	pcm     []byte
	at      time.Duration
	dur     time.Duration
	onEnded func()

	stop     chan struct{}
	stopOnce sync.Once
}

func (s *writerSource) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
