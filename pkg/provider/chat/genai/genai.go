// Package genai provides a chat provider backed by the Gemini API through
// google.golang.org/genai.
//
// Conversations map onto the SDK's chat sessions, which keep the history on
// the client and resend it with every turn.
package genai

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/MrWong99/casecoach/pkg/provider/chat"
)

const defaultModel = "gemini-3-flash-preview"

var _ chat.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*options)

type options struct {
	model   string
	baseURL string
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// Provider implements chat.Provider for the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: apiKey must not be empty")
	}
	o := options{model: defaultModel}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if o.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &Provider{client: client, model: o.model}, nil
}

// Name implements chat.Provider.
func (p *Provider) Name() string { return "gemini" }

// NewConversation implements chat.Provider.
func (p *Provider) NewConversation(ctx context.Context, cfg chat.Config) (chat.Conversation, error) {
	gc := &genai.GenerateContentConfig{}
	if cfg.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.Temperature != 0 {
		gc.Temperature = genai.Ptr(float32(cfg.Temperature))
	}

	history := make([]*genai.Content, 0, len(cfg.History))
	for _, m := range cfg.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == chat.RoleModel {
			role = genai.RoleModel
		}
		history = append(history, genai.NewContentFromText(m.Text, role))
	}

	session, err := p.client.Chats.Create(ctx, p.model, gc, history)
	if err != nil {
		return nil, fmt.Errorf("genai: create chat: %w", err)
	}
	return &conversation{session: session, log: chat.NewLog(cfg.History)}, nil
}

type conversation struct {
	session *genai.Chat
	log     *chat.Log
	turn    sync.Mutex
}

func (c *conversation) History() []chat.Message { return c.log.Messages() }

func (c *conversation) Send(ctx context.Context, text string) (string, error) {
	c.turn.Lock()
	defer c.turn.Unlock()

	resp, err := c.session.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", fmt.Errorf("genai: send message: %w", err)
	}
	reply := resp.Text()
	if reply == "" {
		return "", fmt.Errorf("genai: %w", chat.ErrEmptyResponse)
	}
	c.log.Add(text, reply)
	return reply, nil
}

func (c *conversation) Stream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.turn.Lock()
		defer c.turn.Unlock()

		var reply strings.Builder
		for resp, err := range c.session.SendMessageStream(ctx, genai.Part{Text: text}) {
			if err != nil {
				yield("", fmt.Errorf("genai: stream: %w", err))
				return
			}
			frag := resp.Text()
			if frag == "" {
				continue
			}
			reply.WriteString(frag)
			if !yield(frag, nil) {
				return
			}
		}
		c.log.Add(text, reply.String())
	}
}
