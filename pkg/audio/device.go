// Package audio defines the audio types, codec helpers and device contracts used
// by the live interview pipeline.
//
// The device abstractions mirror what a browser exposes to a voice web app:
//
//   - [Stream]: an acquired microphone (its tracks are stopped on release).
//   - [Input]: an input audio context that delivers fixed-size frames from a
//     stream.
//   - [Output]: an output audio context with its own clock, on which decoded
//     buffers are scheduled as [Source] values.
//
// A [Device] bundles the three factories. Implementations live in adapter
// packages (internal/browser for the WebSocket bridge, audio/mock for tests).
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrMicrophoneUnavailable is returned when microphone access is denied or no
// input device exists. It is fatal to session setup.
var ErrMicrophoneUnavailable = errors.New("audio: microphone unavailable")

// Stream is an acquired microphone.
type Stream interface {
	// Stop stops all tracks of the stream. Safe to call more than once.
	Stop() error
}

// Input is an input audio context.
//
// Implementations must be safe for concurrent use.
type Input interface {
	// Attach connects stream to the context and invokes fn every frameSize
	// samples. fn is called sequentially from the context's own goroutine and
	// must not block. Frames stop once the context is closed.
	Attach(stream Stream, frameSize int, fn func(Frame)) error

	// Close releases the context. Safe to call more than once.
	Close() error
}

// Source is one buffer scheduled on an [Output].
type Source interface {
	// Stop halts playback immediately. Stopping a source that already finished
	// is a no-op and returns nil.
	Stop() error

	// Done is closed when playback ends, either naturally or via Stop.
	Done() <-chan struct{}
}

// Output is an output audio context with a monotonic clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Play schedules buf to start at the given clock position. Positions in the
	// past start immediately.
	Play(buf *Buffer, at time.Duration) (Source, error)

	// Close stops all sources and releases the context. Safe to call more than
	// once.
	Close() error
}

// Device is the entry point to a host audio subsystem.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// OpenInput creates an input context running at sampleRate.
	OpenInput(ctx context.Context, sampleRate int) (Input, error)

	// OpenOutput creates an output context running at sampleRate.
	OpenOutput(ctx context.Context, sampleRate int) (Output, error)

	// Microphone acquires the microphone. Permission denial or a missing device
	// must be reported as an error wrapping [ErrMicrophoneUnavailable].
	Microphone(ctx context.Context) (Stream, error)
}
