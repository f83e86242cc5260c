package audio

import "time"

// Canonical rates used by live speech models. Input is what the model expects
// from the microphone, output is what it synthesises.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// AudioFrame represents a single frame of interleaved PCM16 audio. Frames are
// produced continuously while capture is active and consumed exactly once by
// the codec.
type AudioFrame struct {
	// Data is little-endian int16 PCM. Sample rate and channel count are
	// described by the fields below, not by the bytes themselves.
	Data []byte

	// SampleRate in Hz (16000 for microphone input, 24000 for model output).
	SampleRate int

	// Channels is 1 for every stream the live models produce or accept.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "24000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Buffer holds decoded audio as one float32 slice per channel, normalised to
// [-1, 1]. All channel slices have the same length.
type Buffer struct {
	SampleRate int
	Channels   int
	Data       [][]float32
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}

// Interleaved flattens the buffer back into interleaved samples.
func (b Buffer) Interleaved() []float32 {
	frames := b.Frames()
	out := make([]float32, frames*len(b.Data))
	for ch, samples := range b.Data {
		for i, s := range samples {
			out[i*len(b.Data)+ch] = s
		}
	}
	return out
}
