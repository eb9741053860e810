// Package anyllm provides a chat provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq and more.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	conv, err := p.NewConversation(ctx, chat.Config{SystemInstruction: sys})
package anyllm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/casecoach/pkg/provider/chat"
)

var _ chat.Provider = (*Provider)(nil)

// Provider implements chat.Provider by wrapping an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a Provider for the named backend.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go options such as anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL. Without an API key option the backend falls back to
// its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, name: strings.ToLower(providerName), model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Name implements chat.Provider.
func (p *Provider) Name() string { return p.name }

// NewConversation implements chat.Provider. No request is made until the
// first Send or Stream.
func (p *Provider) NewConversation(_ context.Context, cfg chat.Config) (chat.Conversation, error) {
	return &conversation{p: p, cfg: cfg, log: chat.NewLog(cfg.History)}, nil
}

type conversation struct {
	p    *Provider
	cfg  chat.Config
	log  *chat.Log
	turn sync.Mutex
}

func (c *conversation) History() []chat.Message { return c.log.Messages() }

func (c *conversation) Send(ctx context.Context, text string) (string, error) {
	c.turn.Lock()
	defer c.turn.Unlock()

	resp, err := c.p.backend.Completion(ctx, c.params(text))
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: %w", chat.ErrEmptyResponse)
	}
	reply := resp.Choices[0].Message.ContentString()
	c.log.Add(text, reply)
	return reply, nil
}

func (c *conversation) Stream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.turn.Lock()
		defer c.turn.Unlock()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks, errs := c.p.backend.CompletionStream(ctx, c.params(text))
		var reply strings.Builder
		for chunk := range chunks {
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			frag := chunk.Choices[0].Delta.Content
			reply.WriteString(frag)
			if !yield(frag, nil) {
				return
			}
		}
		if err := <-errs; err != nil {
			yield("", fmt.Errorf("anyllm: stream: %w", err))
			return
		}
		c.log.Add(text, reply.String())
	}
}

// params builds the request: system instruction, history, then text.
func (c *conversation) params(text string) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if c.cfg.SystemInstruction != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: c.cfg.SystemInstruction})
	}
	for _, m := range c.log.Messages() {
		messages = append(messages, anyllmlib.Message{Role: convertRole(m.Role), Content: m.Text})
	}
	messages = append(messages, anyllmlib.Message{Role: "user", Content: text})

	params := anyllmlib.CompletionParams{Model: c.p.model, Messages: messages}
	if c.cfg.Temperature != 0 {
		t := c.cfg.Temperature
		params.Temperature = &t
	}
	return params
}

func convertRole(r chat.Role) string {
	if r == chat.RoleModel {
		return "assistant"
	}
	return "user"
}
