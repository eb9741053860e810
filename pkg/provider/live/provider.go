// Package live defines the Provider interface for real-time voice backends.
//
// A live provider wraps a conversational model that accepts streamed microphone
// audio and answers with synthesised speech in a single, stateful duplex
// session. Examples are the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is [Session]: audio goes in through SendAudio, and
// everything the service says comes back as an ordered stream of [Event] values
// on a single channel. Sessions last for the length of one interview.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/casecoach/pkg/audio"
)

// ErrSessionClosed is returned by [Session.SendAudio] after the session ended.
var ErrSessionClosed = errors.New("live: session closed")

// EventType discriminates the payload of an [Event].
type EventType int

const (
	// EventAudio carries one chunk of synthesised speech (24 kHz PCM16, base64).
	EventAudio EventType = iota + 1

	// EventTranscript carries a transcript fragment for either speaker.
	EventTranscript

	// EventInterrupted signals the service detected the user barging in. Any
	// speech still queued for playback is stale.
	EventInterrupted

	// EventTurnComplete signals the model finished its turn.
	EventTurnComplete

	// EventClosed signals the session ended cleanly. It is terminal.
	EventClosed

	// EventError signals the session failed. It is terminal and Err is set.
	EventError
)

// String returns the lower-case name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow t.
func (t EventType) Terminal() bool {
	return t == EventClosed || t == EventError
}

// Event is one structured message from the live service. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	// Audio is set for EventAudio.
	Audio audio.Chunk

	// Text, IsUser and Final are set for EventTranscript. IsUser distinguishes
	// input-speech recognition from output-speech transcription.
	Text   string
	IsUser bool
	Final  bool

	// Err is set for EventError.
	Err error
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Instructions is the system instruction defining the interviewer persona.
	Instructions string

	// Voice names the prebuilt voice used for synthesised speech. Empty selects
	// the provider default.
	Voice string

	// InputSampleRate is the rate of audio passed to SendAudio. Zero means
	// [audio.InputSampleRate].
	InputSampleRate int

	// InputTranscription enables recognition of the user's speech.
	InputTranscription bool

	// OutputTranscription enables transcription of the model's speech.
	OutputTranscription bool
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// Name identifies the provider in logs and metrics.
	Name string

	// OutputSampleRate is the rate of audio delivered in EventAudio.
	OutputSampleRate int

	// MaxSessionMinutes is the documented session limit. Zero means unknown.
	MaxSessionMinutes int

	// Voices lists the prebuilt voice names.
	Voices []string
}

// Session represents an open live session.
//
// The session is on the hot path: SendAudio must return quickly. All methods
// must be safe for concurrent use. Callers must call Close when done.
type Session interface {
	// SendAudio delivers one encoded chunk of microphone audio. It returns
	// ErrSessionClosed once the session has ended, or the transport error of
	// the write.
	SendAudio(chunk audio.Chunk) error

	// Events returns the channel on which server events arrive in order. The
	// channel carries at most one terminal event and is closed after it, or
	// when Close is called.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil after a clean close.
	Err() error

	// Close terminates the session and closes the Events channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live backend.
type Provider interface {
	// Connect establishes a session and returns once the service acknowledged
	// the setup, so the session accepts audio immediately. ctx bounds only the
	// handshake; the session lives until Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
