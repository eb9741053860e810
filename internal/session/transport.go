package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/casecoach/internal/observe"
	"github.com/MrWong99/casecoach/pkg/audio"
	"github.com/MrWong99/casecoach/pkg/provider/live"
)

// defaultSendQueue is the number of encoded frames buffered between the
// capture callback and the provider write. At 4096 samples per frame this is
// about eight seconds of speech.
const defaultSendQueue = 32

// TransportOption configures a [Transport].
type TransportOption func(*Transport)

// WithSendQueue sets the capacity of the outbound frame queue.
func WithSendQueue(n int) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithTransportLogger sets the logger for dropped frames and provider errors.
func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithTransportMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithTransportMetrics(m *observe.Metrics) TransportOption {
	return func(t *Transport) {
		if m != nil {
			t.metrics = m
		}
	}
}

// Transport is one open duplex connection to a live provider.
//
// Outbound audio goes through a bounded queue so that [Transport.Send] never
// blocks the capture goroutine. Inbound events are handed to the handler one
// at a time from a single dispatch goroutine, in arrival order. The handler
// sees exactly one terminal event (EventClosed or EventError), however the
// session ends.
type Transport struct {
	sess     live.Session
	provider string
	handler  func(live.Event)

	queueSize int
	queue     chan audio.Chunk
	log       *slog.Logger
	metrics   *observe.Metrics

	closed    atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error

	done chan struct{}
}

// OpenTransport dials p and starts the send and dispatch goroutines. It blocks
// until the provider acknowledged the setup or ctx is done. Dial failures wrap
// [ErrConnection].
func OpenTransport(ctx context.Context, p live.Provider, cfg live.SessionConfig, handler func(live.Event), opts ...TransportOption) (*Transport, error) {
	if p == nil {
		return nil, errors.New("session: live provider is required")
	}
	if handler == nil {
		handler = func(live.Event) {}
	}

	t := &Transport{
		provider:  p.Capabilities().Name,
		handler:   handler,
		queueSize: defaultSendQueue,
		log:       slog.Default(),
		metrics:   observe.DefaultMetrics(),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.queue = make(chan audio.Chunk, t.queueSize)

	sess, err := p.Connect(ctx, cfg)
	if err != nil {
		t.metrics.RecordProviderError(ctx, t.provider, "connect")
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	t.sess = sess
	t.metrics.RecordProviderRequest(ctx, t.provider, "live", "ok")

	go t.writeLoop()
	go t.dispatch()
	return t, nil
}

// Send enqueues one encoded microphone chunk. It never blocks: when the queue
// is full or the transport is closed the chunk is dropped and counted.
func (t *Transport) Send(chunk audio.Chunk) {
	if t.closed.Load() {
		t.drop(observe.DropClosed)
		return
	}
	select {
	case t.queue <- chunk:
	default:
		t.drop(observe.DropQueueFull)
		t.log.Debug("session: send queue full, frame dropped", "provider", t.provider)
	}
}

func (t *Transport) drop(reason string) {
	t.metrics.RecordFrameDropped(context.Background(), reason)
}

// writeLoop drains the queue into the provider until Close.
func (t *Transport) writeLoop() {
	for {
		select {
		case <-t.closing:
			return
		case chunk := <-t.queue:
			if err := t.sess.SendAudio(chunk); err != nil {
				if errors.Is(err, live.ErrSessionClosed) {
					t.drop(observe.DropClosed)
					continue
				}
				t.drop(observe.DropWrite)
				t.log.Warn("session: send audio failed", "provider", t.provider, "err", err)
				continue
			}
			t.metrics.FramesSent.Add(context.Background(), 1)
		}
	}
}

// dispatch forwards events to the handler and guarantees one terminal event.
func (t *Transport) dispatch() {
	defer close(t.done)
	for ev := range t.sess.Events() {
		if ev.Type.Terminal() {
			t.terminate(ev)
			return
		}
		t.handler(ev)
	}

	// The channel closed without a terminal event: a local Close, or a
	// provider that ended the stream quietly.
	if err := t.sess.Err(); err != nil {
		t.terminate(live.Event{Type: live.EventError, Err: err})
		return
	}
	t.terminate(live.Event{Type: live.EventClosed})
}

func (t *Transport) terminate(ev live.Event) {
	if ev.Type == live.EventError {
		t.metrics.RecordProviderError(context.Background(), t.provider, "live")
		t.log.Warn("session: live session failed", "provider", t.provider, "err", ev.Err)
	}
	t.shutdown()
	t.handler(ev)
}

// shutdown stops the writer and closes the provider session once.
func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.closing)
		t.closeErr = t.sess.Close()
	})
}

// Close ends the session. The handler still receives the terminal event, on
// the dispatch goroutine. Close does not wait for it and is safe to call from
// inside the handler. Calling Close more than once returns the first result.
func (t *Transport) Close() error {
	t.shutdown()
	return t.closeErr
}

// Done is closed after the terminal event was handled.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err returns the error that ended the provider session, if any.
func (t *Transport) Err() error { return t.sess.Err() }
