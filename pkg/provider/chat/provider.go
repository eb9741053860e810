// Package chat defines the Provider interface for turn-based text chat with a
// large language model.
//
// A provider opens a [Conversation]: a stateful exchange seeded with a system
// instruction. The conversation keeps its own history, so callers only hand it
// the next user message and get the model's reply back, either whole via Send
// or fragment by fragment via Stream.
//
// Implementations must be safe for concurrent use. A single Conversation
// serialises its turns; concurrent Send or Stream calls on the same
// conversation wait for each other.
package chat

import (
	"context"
	"errors"
	"iter"
)

// ErrEmptyResponse is returned when the backend answered without any text.
var ErrEmptyResponse = errors.New("chat: empty response")

// Role identifies the author of a [Message].
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one completed turn in a conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Config is the initial configuration of a conversation.
type Config struct {
	// SystemInstruction defines the interviewer persona.
	SystemInstruction string

	// Temperature controls output randomness. Zero selects the backend default.
	Temperature float64

	// History seeds the conversation with earlier turns.
	History []Message
}

// Conversation is an open multi-turn chat.
type Conversation interface {
	// Send delivers text as the next user turn and returns the full reply.
	Send(ctx context.Context, text string) (string, error)

	// Stream delivers text as the next user turn and yields reply fragments as
	// they arrive. A non-nil error ends the sequence. The turn is added to the
	// history only if the stream completed.
	Stream(ctx context.Context, text string) iter.Seq2[string, error]

	// History returns a copy of the completed turns so far.
	History() []Message
}

// Provider opens conversations against one backend and model.
type Provider interface {
	NewConversation(ctx context.Context, cfg Config) (Conversation, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}
