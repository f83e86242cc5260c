// Package audio holds the PCM primitives shared by capture and playback:
// float/int16 conversion, base64 transport encoding, resampling and a small
// WAV container implementation.
//
// Live speech models exchange headerless little-endian PCM16. The sample rate
// and channel count are a protocol contract supplied by the caller, never read
// from the data.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ErrUnalignedFrame is returned by a strict [Decoder] when the input does not
// hold a whole number of sample frames.
var ErrUnalignedFrame = errors.New("audio: pcm data not aligned to sample frames")

// MIMEType returns the media type live models use for raw PCM16 at rate.
func MIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// EncodePCM16 converts float samples in [-1, 1] to little-endian int16 PCM.
// Each sample is scaled by 32768, rounded and clamped to the int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// EncodeFrame converts samples to PCM16 and wraps the bytes in standard
// base64 for JSON transport.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// NewFrame encodes mono float samples captured at rate into a PCM16
// [AudioFrame] stamped with ts.
func NewFrame(samples []float32, rate int, ts time.Duration) AudioFrame {
	return AudioFrame{
		Data:       EncodePCM16(samples),
		SampleRate: rate,
		Channels:   1,
		Timestamp:  ts,
	}
}

// Base64 returns the frame data in standard base64.
func (f AudioFrame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	bytesPerSec := f.SampleRate * max(f.Channels, 1) * 2
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(int64(len(f.Data)) * int64(time.Second) / int64(bytesPerSec))
}

func floatToInt16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// DecodeFrame is a convenience wrapper around a lenient [Decoder].
func DecodeFrame(data []byte, sampleRate, channels int) (Buffer, error) {
	var d Decoder
	return d.Decode(data, sampleRate, channels)
}

// Decoder expands interleaved PCM16 into per-channel float buffers.
//
// By default a trailing partial frame is dropped and a warning is logged the
// first time it happens. With Strict set, misaligned input is rejected with
// [ErrUnalignedFrame] instead. A Decoder is safe for concurrent use.
type Decoder struct {
	Strict bool

	warnedUnaligned sync.Once
}

// Decode converts data to a [Buffer] with the given rate and channel count.
func (d *Decoder) Decode(data []byte, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("audio: invalid channel count %d", channels)
	}

	frameBytes := 2 * channels
	if rem := len(data) % frameBytes; rem != 0 {
		if d.Strict {
			return Buffer{}, fmt.Errorf("%w: %d bytes, %d-byte frames", ErrUnalignedFrame, len(data), frameBytes)
		}
		d.warnedUnaligned.Do(func() {
			slog.Warn("pcm decoder: dropping trailing partial frame",
				"bytes", len(data),
				"dropped", rem,
				"format", formatString(sampleRate, channels),
			)
		})
		data = data[:len(data)-rem]
	}

	frames := len(data) / frameBytes
	buf := Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       make([][]float32, channels),
	}
	for ch := range channels {
		buf.Data[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Data[ch][i] = float32(s) / 32768
		}
	}
	return buf, nil
}

// DecodeBase64 decodes a base64 transport payload and then the PCM inside it.
func (d *Decoder) DecodeBase64(s string, sampleRate, channels int) (Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode base64: %w", err)
	}
	return d.Decode(raw, sampleRate, channels)
}

// FirstChannel extracts channel 0 from interleaved samples.
func FirstChannel(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		out[i] = interleaved[i*channels]
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
