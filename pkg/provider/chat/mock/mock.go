// Package mock provides test doubles for the chat package interfaces.
//
// Provider records every NewConversation call and hands out Conversations
// that answer from a scripted list of replies.
//
// Example:
//
//	p := &mock.Provider{Replies: []string{"Welcome.", "Good."}}
//	conv, _ := p.NewConversation(ctx, chat.Config{})
//	reply, _ := conv.Send(ctx, "Hello")
package mock

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/MrWong99/casecoach/pkg/provider/chat"
)

var _ chat.Provider = (*Provider)(nil)
var _ chat.Conversation = (*Conversation)(nil)

// Provider is a mock implementation of chat.Provider.
type Provider struct {
	mu sync.Mutex

	// Replies is shared by all conversations; each turn consumes the first
	// entry. An exhausted list answers with an empty string.
	Replies []string

	// NewErr, if non-nil, is returned by NewConversation.
	NewErr error

	// SendErr, if non-nil, is returned by every Send and Stream.
	SendErr error

	// ProviderName is returned by Name. Empty means "mock".
	ProviderName string

	// Configs records the Config of every NewConversation call in order.
	Configs []chat.Config

	// Conversations records every conversation handed out.
	Conversations []*Conversation
}

// NewConversation records cfg and returns a new Conversation.
func (p *Provider) NewConversation(_ context.Context, cfg chat.Config) (chat.Conversation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Configs = append(p.Configs, cfg)
	if p.NewErr != nil {
		return nil, p.NewErr
	}
	c := &Conversation{p: p, log: chat.NewLog(cfg.History)}
	p.Conversations = append(p.Conversations, c)
	return c, nil
}

// Name implements chat.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

func (p *Provider) next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return "", p.SendErr
	}
	if len(p.Replies) == 0 {
		return "", nil
	}
	r := p.Replies[0]
	p.Replies = p.Replies[1:]
	return r, nil
}

// Conversation is a mock implementation of chat.Conversation.
type Conversation struct {
	p   *Provider
	log *chat.Log

	mu sync.Mutex
	// Sent records every user turn in order.
	Sent []string
}

func (c *Conversation) record(text string) {
	c.mu.Lock()
	c.Sent = append(c.Sent, text)
	c.mu.Unlock()
}

// Send records text and returns the next scripted reply.
func (c *Conversation) Send(_ context.Context, text string) (string, error) {
	c.record(text)
	reply, err := c.p.next()
	if err != nil {
		return "", err
	}
	c.log.Add(text, reply)
	return reply, nil
}

// Stream yields the next scripted reply word by word.
func (c *Conversation) Stream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.record(text)
		reply, err := c.p.next()
		if err != nil {
			yield("", err)
			return
		}
		for _, frag := range strings.SplitAfter(reply, " ") {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if frag != "" && !yield(frag, nil) {
				return
			}
		}
		c.log.Add(text, reply)
	}
}

// History implements chat.Conversation.
func (c *Conversation) History() []chat.Message { return c.log.Messages() }

// Turns returns a copy of the recorded user turns.
func (c *Conversation) Turns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Sent...)
}
