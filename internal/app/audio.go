package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
)

// microphone maps the audio input configuration to a capture device.
func microphone(cfg config.AudioInputConfig) capture.Microphone {
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate == 0 {
		format.SampleRate = audio.InputSampleRate
	}
	if format.Channels == 0 {
		format.Channels = 1
	}

	switch cfg.Mode {
	case config.InputFile:
		return capture.FileMicrophone{Path: cfg.Path, RawFormat: format, Realtime: cfg.Realtime}
	case config.InputCommand:
		return capture.CommandMicrophone{Command: cfg.Command, Format: format}
	default:
		return capture.Unavailable{}
	}
}

// deviceOpener maps the audio output configuration to a per-session device
// factory.
func deviceOpener(cfg config.AudioOutputConfig, log *slog.Logger, now func() time.Time) session.DeviceOpener {
	opts := []playback.DeviceOption{playback.WithDeviceLogger(log)}

	switch cfg.Mode {
	case config.OutputWAV:
		return func(f audio.Format) (playback.Device, error) {
			if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
				return nil, fmt.Errorf("app: create recording dir: %w", err)
			}
			name := filepath.Join(cfg.Path, "parley-"+now().UTC().Format("20060102T150405")+".wav")
			file, err := os.Create(name)
			if err != nil {
				return nil, fmt.Errorf("app: create recording: %w", err)
			}
			ww, err := audio.NewWAVWriter(file, f)
			if err != nil {
				file.Close()
				return nil, fmt.Errorf("app: start recording: %w", err)
			}
			log.Info("recording model audio", "path", name)
			return playback.NewWriterDevice(ww, f, opts...)
		}

	case config.OutputCommand:
		return func(f audio.Format) (playback.Device, error) {
			w, err := startPlayer(cfg.Command)
			if err != nil {
				return nil, err
			}
			return playback.NewWriterDevice(w, f, opts...)
		}

	default:
		return func(f audio.Format) (playback.Device, error) {
			return playback.NewWriterDevice(io.Discard, f, opts...)
		}
	}
}

// playerProcess is the stdin of an external audio player. Closing it ends the
// stream and reaps the process.
type playerProcess struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (p *playerProcess) Close() error {
	err := p.WriteCloser.Close()
	if werr := p.cmd.Wait(); werr != nil && err == nil {
		err = fmt.Errorf("app: player exited: %w", werr)
	}
	return err
}

func startPlayer(argv []string) (*playerProcess, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("app: no player command configured")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("app: player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("app: start player %q: %w", argv[0], err)
	}
	return &playerProcess{WriteCloser: stdin, cmd: cmd}, nil
}
