package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// pcmSource adapts a little-endian PCM16 byte stream to a Source. When paced,
// reads are held back so that data is delivered no faster than real time,
// which makes a file behave like a live device.
type pcmSource struct {
	r      io.Reader
	format audio.Format
	paced  bool
	now    func() time.Time

	closeFn   func() error
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	raw     []byte
	started time.Time
	frames  int64
}

func newPCMSource(r io.Reader, f audio.Format, paced bool, closeFn func() error) *pcmSource {
	return &pcmSource{
		r:       r,
		format:  f,
		paced:   paced,
		now:     time.Now,
		closeFn: closeFn,
		closed:  make(chan struct{}),
	}
}

func (s *pcmSource) Format() audio.Format { return s.format }

func (s *pcmSource) Read(block []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}

	if cap(s.raw) < len(block)*2 {
		s.raw = make([]byte, len(block)*2)
	}
	raw := s.raw[:len(block)*2]

	n, err := io.ReadFull(s.r, raw)
	n -= n % 2
	for i := range n / 2 {
		block[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	samples := n / 2

	if s.paced && samples > 0 {
		if werr := s.pace(samples); werr != nil {
			return 0, werr
		}
	}

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Deliver the short tail now; the next read reports EOF.
		return samples, nil
	case err != nil:
		select {
		case <-s.closed:
			return samples, io.EOF
		default:
		}
		return samples, err
	}
	return samples, nil
}

// pace waits until the wall clock catches up with the audio delivered so far.
func (s *pcmSource) pace(samples int) error {
	if s.started.IsZero() {
		s.started = s.now()
	}
	s.frames += int64(samples / max(s.format.Channels, 1))
	due := s.started.Add(time.Duration(s.frames * int64(time.Second) / int64(s.format.SampleRate)))
	wait := due.Sub(s.now())
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.closed:
		return io.EOF
	}
}

func (s *pcmSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// ── FileMicrophone ────────────────────────────────────────────────────────────

// FileMicrophone plays a recording as if it were a microphone. WAV files are
// detected by their RIFF header; anything else is treated as raw PCM16 in
// RawFormat.
type FileMicrophone struct {
	Path string

	// RawFormat describes headerless files. Defaults to 16 kHz mono.
	RawFormat audio.Format

	// Realtime paces reads at the recording's sample rate.
	Realtime bool
}

// Acquire opens the file.
func (m FileMicrophone) Acquire(_ context.Context) (Source, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return nil, fmt.Errorf("capture: open %q: %w", m.Path, err)
	}

	br := bufio.NewReader(f)
	format := m.RawFormat
	if format.SampleRate == 0 {
		format = audio.Format{SampleRate: audio.InputSampleRate, Channels: 1}
	}
	if magic, _ := br.Peek(4); bytes.Equal(magic, []byte("RIFF")) {
		format, err = audio.ReadWAVHeader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("capture: %q: %w", m.Path, err)
		}
	}
	return newPCMSource(br, format, m.Realtime, f.Close), nil
}

// ── CommandMicrophone ─────────────────────────────────────────────────────────

// CommandMicrophone records from an external program writing raw PCM16 to
// stdout, for example:
//
//	arecord -q -f S16_LE -r 16000 -c 1 -t raw
//	sox -q -d -t raw -b 16 -e signed -r 16000 -c 1 -
type CommandMicrophone struct {
	Command []string
	Format  audio.Format
}

// Acquire starts the recorder process.
func (m CommandMicrophone) Acquire(_ context.Context) (Source, error) {
	if len(m.Command) == 0 {
		return nil, fmt.Errorf("%w: no capture command configured", ErrUnsupported)
	}
	if m.Format.SampleRate <= 0 || m.Format.Channels <= 0 {
		return nil, fmt.Errorf("capture: invalid command format %s", m.Format)
	}

	cmd := exec.Command(m.Command[0], m.Command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("capture: start %q: %w", m.Command[0], err)
	}

	stop := func() error {
		_ = cmd.Process.Kill()
		// The recorder exits non-zero when killed; only report pipe errors.
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return fmt.Errorf("capture: wait %q: %w", m.Command[0], err)
			}
		}
		return nil
	}
	return newPCMSource(stdout, m.Format, false, stop), nil
}
