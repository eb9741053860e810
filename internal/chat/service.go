// Package chat runs text-mode interviews: one model conversation per
// interview, addressed by id, with idle interviews evicted in the background.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/casecoach/internal/observe"
	"github.com/MrWong99/casecoach/internal/prompt"
	"github.com/MrWong99/casecoach/internal/scenario"
	llmchat "github.com/MrWong99/casecoach/pkg/provider/chat"
)

const (
	// DefaultOpeningMessage is sent on the candidate's behalf to make the
	// interviewer introduce the case.
	DefaultOpeningMessage = "Hello. Ready to start."

	// FallbackGreeting is shown when the model's first reply is empty.
	FallbackGreeting = "Hello, I am your interviewer today. Let's begin."

	// DefaultTemperature is the sampling temperature for interview chats.
	DefaultTemperature = 0.7

	// DefaultIdleTimeout is how long an untouched interview is kept.
	DefaultIdleTimeout = 30 * time.Minute
)

// ErrNotFound is returned for an unknown or evicted interview id.
var ErrNotFound = errors.New("chat: interview not found")

// Option configures a [Service].
type Option func(*Service)

// WithOpeningMessage overrides [DefaultOpeningMessage].
func WithOpeningMessage(msg string) Option {
	return func(s *Service) {
		if msg != "" {
			s.opening = msg
		}
	}
}

// WithIdleTimeout overrides [DefaultIdleTimeout].
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.idle = d
		}
	}
}

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Interview is one running text interview.
type Interview struct {
	ID        string
	Scenario  scenario.Scenario
	Language  prompt.Language
	StartedAt time.Time

	conv     llmchat.Conversation
	mu       sync.Mutex
	lastUsed time.Time
}

// History returns the completed turns, starting with the opening exchange.
func (iv *Interview) History() []llmchat.Message { return iv.conv.History() }

func (iv *Interview) touch(t time.Time) {
	iv.mu.Lock()
	iv.lastUsed = t
	iv.mu.Unlock()
}

func (iv *Interview) idleSince() time.Time {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.lastUsed
}

// Service starts and tracks text interviews. It is safe for concurrent use.
type Service struct {
	provider    llmchat.Provider
	library     *scenario.Library
	opening     string
	temperature float64
	idle        time.Duration
	log         *slog.Logger
	metrics     *observe.Metrics
	now         func() time.Time

	mu         sync.Mutex
	interviews map[string]*Interview
}

// NewService returns a Service that opens conversations on provider for
// scenarios from library.
func NewService(provider llmchat.Provider, library *scenario.Library, opts ...Option) *Service {
	s := &Service{
		provider:    provider,
		library:     library,
		opening:     DefaultOpeningMessage,
		temperature: DefaultTemperature,
		idle:        DefaultIdleTimeout,
		log:         slog.Default(),
		metrics:     observe.DefaultMetrics(),
		now:         time.Now,
		interviews:  make(map[string]*Interview),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens an interview for scenarioID and returns it with the
// interviewer's greeting. An unknown scenario wraps [scenario.ErrNotFound].
func (s *Service) Start(ctx context.Context, scenarioID string, lang prompt.Language) (*Interview, string, error) {
	sc, err := s.library.Get(scenarioID)
	if err != nil {
		return nil, "", err
	}

	conv, err := s.provider.NewConversation(ctx, llmchat.Config{
		SystemInstruction: prompt.SystemInstruction(sc, lang, prompt.Text),
		Temperature:       s.temperature,
	})
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.provider.Name(), "chat")
		return nil, "", fmt.Errorf("chat: open conversation: %w", err)
	}

	begin := time.Now()
	greeting, err := conv.Send(ctx, s.opening)
	s.metrics.ChatDuration.Record(ctx, time.Since(begin).Seconds())
	switch {
	case errors.Is(err, llmchat.ErrEmptyResponse) || (err == nil && greeting == ""):
		greeting = FallbackGreeting
	case err != nil:
		s.metrics.RecordProviderError(ctx, s.provider.Name(), "chat")
		return nil, "", fmt.Errorf("chat: opening message: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.provider.Name(), "chat", "ok")

	now := s.now()
	iv := &Interview{
		ID:        uuid.NewString(),
		Scenario:  sc,
		Language:  lang,
		StartedAt: now,
		conv:      conv,
		lastUsed:  now,
	}
	s.mu.Lock()
	s.interviews[iv.ID] = iv
	s.mu.Unlock()
	s.metrics.ChatSessions.Add(ctx, 1)

	observe.SessionLogger(ctx, iv.ID, sc.ID).Info("text interview started", "language", string(lang))
	return iv, greeting, nil
}

// Get returns the interview with the given id.
func (s *Service) Get(id string) (*Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interviews[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return iv, nil
}

// Send streams the interviewer's reply to text. Fragments are yielded as they
// arrive; a non-nil error ends the sequence.
func (s *Service) Send(ctx context.Context, id, text string) (iter.Seq2[string, error], error) {
	iv, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	iv.touch(s.now())

	return func(yield func(string, error) bool) {
		begin := time.Now()
		defer func() {
			s.metrics.ChatDuration.Record(ctx, time.Since(begin).Seconds())
			iv.touch(s.now())
		}()
		for frag, err := range iv.conv.Stream(ctx, text) {
			if err != nil {
				s.metrics.RecordProviderError(ctx, s.provider.Name(), "chat")
				yield("", fmt.Errorf("chat: stream reply: %w", err))
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
		s.metrics.RecordProviderRequest(ctx, s.provider.Name(), "chat", "ok")
	}, nil
}

// End forgets the interview.
func (s *Service) End(id string) error {
	s.mu.Lock()
	_, ok := s.interviews[id]
	delete(s.interviews, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.metrics.ChatSessions.Add(context.Background(), -1)
	return nil
}

// Len returns the number of open interviews.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.interviews)
}

// EvictIdle removes interviews untouched for longer than the idle timeout and
// returns how many were removed.
func (s *Service) EvictIdle() int {
	cutoff := s.now().Add(-s.idle)
	var evicted []string
	s.mu.Lock()
	for id, iv := range s.interviews {
		if iv.idleSince().Before(cutoff) {
			delete(s.interviews, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	if len(evicted) > 0 {
		s.metrics.ChatSessions.Add(context.Background(), -int64(len(evicted)))
		s.log.Info("evicted idle interviews", "count", len(evicted))
	}
	return len(evicted)
}

// Run evicts idle interviews periodically until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(max(s.idle/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.EvictIdle()
		}
	}
}
