// Package playback schedules decoded speech on an [audio.Output] for gapless,
// strictly chronological playback, and hard-stops everything on interruption.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/casecoach/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Schedule] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithLogger sets the logger used for best-effort stop failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithOnIdle registers fn to be called whenever the last tracked source
// finishes naturally. It is invoked on the source's watcher goroutine and must
// not call back into the Scheduler while blocking.
func WithOnIdle(fn func()) Option {
	return func(s *Scheduler) {
		s.onIdle = fn
	}
}

// entry tracks one scheduled source.
type entry struct {
	src   audio.Source
	start time.Duration
	end   time.Duration
}

// Scheduler lines buffers up back to back on an output clock.
//
// Each buffer starts at max(next, out.Now()) and advances next by the buffer's
// duration, so consecutive chunks play without gaps and a late chunk starts
// immediately instead of in the past. next never regresses except via
// [Scheduler.Flush].
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out    audio.Output
	log    *slog.Logger
	onIdle func()

	mu     sync.Mutex
	next   time.Duration
	active map[*entry]struct{}
	closed bool
}

// New creates a Scheduler writing to out.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		log:    slog.Default(),
		active: make(map[*entry]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule queues buf right after the previously scheduled buffer, or at the
// current output clock if that is later. It returns the start position.
//
// The source is tracked until its Done channel closes.
func (s *Scheduler) Schedule(buf *audio.Buffer) (time.Duration, error) {
	if buf == nil {
		return 0, errors.New("playback: nil buffer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	startAt := max(s.next, s.out.Now())
	src, err := s.out.Play(buf, startAt)
	if err != nil {
		return 0, err
	}

	e := &entry{src: src, start: startAt, end: startAt + buf.Duration()}
	s.next = e.end
	s.active[e] = struct{}{}
	go s.watch(e)
	return startAt, nil
}

// watch removes e from the active set once its source finishes.
func (s *Scheduler) watch(e *entry) {
	<-e.src.Done()

	s.mu.Lock()
	_, tracked := s.active[e]
	delete(s.active, e)
	idle := tracked && len(s.active) == 0
	onIdle := s.onIdle
	s.mu.Unlock()

	if idle && onIdle != nil {
		onIdle()
	}
}

// Flush stops every tracked source immediately, clears the set and resets the
// timeline to the current output clock so the next chunk starts at once. It
// returns the number of sources that were tracked.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	stale := s.active
	s.active = make(map[*entry]struct{})
	s.next = s.out.Now()
	s.mu.Unlock()

	for e := range stale {
		if err := e.src.Stop(); err != nil {
			s.log.Debug("playback: stop source", "err", err)
		}
	}
	return len(stale)
}

// Active returns the number of pending or playing sources.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the position at which the next buffer would start if the
// output clock has not passed it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close flushes all sources and rejects further Schedule calls. The output
// itself is not closed. Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Flush()
	return nil
}
