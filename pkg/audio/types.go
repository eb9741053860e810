package audio

import "time"

const (
	// InputSampleRate is the rate at which microphone frames are captured and
	// streamed to the live model.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesised speech returned by the live
	// model and scheduled for playback.
	OutputSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 4096
)

// Frame is one fixed-length block of mono microphone samples, normalised to
// [-1, 1]. Frames are produced by the capture pipeline and consumed exactly once
// by the transport send path, which owns their encoding.
type Frame struct {
	// Samples holds the normalised PCM samples of a single channel.
	Samples []float32

	// SampleRate in Hz (16000 for live capture).
	SampleRate int
}

// Chunk is a transport-encoded audio payload: base64 of 16-bit little-endian PCM.
// Chunks are immutable once produced.
type Chunk struct {
	// Data is the base64-encoded PCM payload.
	Data string

	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Buffer is a decoded, playable block of samples. Multi-channel buffers are
// interleaved.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}
