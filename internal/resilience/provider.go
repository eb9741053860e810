package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/casecoach/pkg/provider/chat"
	"github.com/MrWong99/casecoach/pkg/provider/live"
)

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// LiveFallback is a [live.Provider] that connects through a [Group]. Only the
// handshake fails over; an established session stays with its provider.
type LiveFallback struct {
	group *Group[live.Provider]
}

var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback wraps g.
func NewLiveFallback(g *Group[live.Provider]) *LiveFallback {
	return &LiveFallback{group: g}
}

// Connect implements [live.Provider].
func (f *LiveFallback) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	return Do(f.group, func(p live.Provider) (live.Session, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities reports the primary's capabilities.
func (f *LiveFallback) Capabilities() live.Capabilities {
	return f.group.Primary().Capabilities()
}

// ChatFallback is a [chat.Provider] that opens conversations through a
// [Group]. A conversation stays with the provider that opened it.
type ChatFallback struct {
	group *Group[chat.Provider]
}

var _ chat.Provider = (*ChatFallback)(nil)

// NewChatFallback wraps g.
func NewChatFallback(g *Group[chat.Provider]) *ChatFallback {
	return &ChatFallback{group: g}
}

// NewConversation implements [chat.Provider].
func (f *ChatFallback) NewConversation(ctx context.Context, cfg chat.Config) (chat.Conversation, error) {
	return Do(f.group, func(p chat.Provider) (chat.Conversation, error) {
		return p.NewConversation(ctx, cfg)
	})
}

// Name reports the primary's name.
func (f *ChatFallback) Name() string { return f.group.Primary().Name() }
