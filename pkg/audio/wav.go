package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotWAV is returned when a stream does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// wavHeader is the canonical 44-byte header for PCM16 WAV files.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

func newWAVHeader(f Format, dataSize uint32) wavHeader {
	const bitsPerSample = 16
	channels := uint16(f.Channels)
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate) * uint32(channels) * bitsPerSample / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// ReadWAVHeader consumes the RIFF header of r up to the start of the sample
// data and returns the stream format. Chunks other than "fmt " and "data"
// (LIST, fact, ...) are skipped. Only 16-bit PCM is accepted.
func ReadWAVHeader(r io.Reader) (Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, ErrNotWAV
	}

	var (
		f      Format
		haveFm bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Format{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return Format{}, fmt.Errorf("audio: unsupported wav format %d (only PCM)", format)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 16 {
				return Format{}, fmt.Errorf("audio: unsupported bit depth %d (only 16-bit)", bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFm = true
		case "data":
			if !haveFm {
				return Format{}, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			return f, nil
		default:
			// Chunks are word aligned.
			skip := int64(size) + int64(size&1)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Format{}, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// WAVWriter streams PCM16 into a WAV container. The header is written up
// front with zero sizes and patched on Close, so the destination must be
// seekable for the sizes to be correct; for pipes the header is left as is,
// which most players accept.
type WAVWriter struct {
	w       io.Writer
	format  Format
	written uint32
	closed  bool
}

// NewWAVWriter writes a provisional header to w and returns a writer for
// sample data in the given format.
func NewWAVWriter(w io.Writer, f Format) (*WAVWriter, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid wav format %s", f)
	}
	if err := binary.Write(w, binary.LittleEndian, newWAVHeader(f, 0)); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return &WAVWriter{w: w, format: f}, nil
}

// Format returns the format the writer was created with.
func (ww *WAVWriter) Format() Format { return ww.format }

// Write appends little-endian PCM16 bytes.
func (ww *WAVWriter) Write(pcm []byte) (int, error) {
	if ww.closed {
		return 0, fmt.Errorf("audio: write to closed wav writer")
	}
	n, err := ww.w.Write(pcm)
	ww.written += uint32(n)
	return n, err
}

// Close patches the header sizes when the destination supports seeking and
// closes it when it is an io.Closer. Calling Close more than once is safe.
func (ww *WAVWriter) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true

	var errs []error
	if ws, ok := ww.w.(io.WriteSeeker); ok {
		if _, err := ws.Seek(0, io.SeekStart); err == nil {
			if err := binary.Write(ws, binary.LittleEndian, newWAVHeader(ww.format, ww.written)); err != nil {
				errs = append(errs, fmt.Errorf("audio: patch wav header: %w", err))
			}
			_, _ = ws.Seek(0, io.SeekEnd)
		}
	}
	if c, ok := ww.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
