// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to inject server events and inspect the audio the code under test
// sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Type: live.EventInterrupted})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/casecoach/pkg/audio"
	"github.com/MrWong99/casecoach/pkg/provider/live"
)

// Compile-time interface assertions.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*Session)(nil)

// eventBuffer is the capacity of a mock session's event channel. Emit drops
// events beyond it instead of blocking the test.
const eventBuffer = 256

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectFunc, if set, replaces the default Connect behaviour entirely.
	// Calls are still recorded.
	ConnectFunc func(ctx context.Context, cfg live.SessionConfig) (live.Session, error)

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	fn := p.ConnectFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect invocations.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by the first Close.
	CloseErr error

	// SendAudioCalls records every chunk passed to SendAudio in order.
	SendAudioCalls []audio.Chunk

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	events chan live.Event
	err    error
	closed bool

	// sent is signalled (non-blocking) after every SendAudio call.
	sent chan struct{}
}

// NewSession returns an open mock session.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, eventBuffer),
		sent:   make(chan struct{}, 1),
	}
}

// SendAudio records chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk audio.Chunk) error {
	s.mu.Lock()
	defer func() {
		select {
		case s.sent <- struct{}{}:
		default:
		}
	}()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	s.SendAudioCalls = append(s.SendAudioCalls, chunk)
	return s.SendAudioErr
}

// Sent returns a channel that receives a value after SendAudio calls.
func (s *Session) Sent() <-chan struct{} { return s.sent }

// Sends returns the number of recorded SendAudio calls.
func (s *Session) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Chunks returns a copy of the recorded SendAudio chunks.
func (s *Session) Chunks() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Chunk(nil), s.SendAudioCalls...)
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err implements live.Session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit queues ev as if the server had sent it. It reports false if the
// session is closed or the buffer is full. Emitting a terminal event closes
// the channel behind it, and EventError also sets Err.
func (s *Session) Emit(ev live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
	default:
		return false
	}
	if ev.Type.Terminal() {
		if ev.Type == live.EventError && s.err == nil {
			s.err = ev.Err
		}
		s.closed = true
		close(s.events)
	}
	return true
}

// Close implements live.Session. It closes the event channel without a
// terminal event, like a real provider after a local close.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return s.CloseErr
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
