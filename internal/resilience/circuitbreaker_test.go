package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures int) (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
		Now:          clk.Now,
	}), clk
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{})
	if b.cfg.MaxFailures != 5 || b.cfg.ResetTimeout != 30*time.Second || b.cfg.TrialCalls != 1 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3)

	for i := range 2 {
		_ = b.Execute(fail)
		if b.State() != StateClosed {
			t.Fatalf("state after %d failures = %v, want closed", i+1, b.State())
		}
	}
	// A success resets the count.
	_ = b.Execute(succeed)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	_ = b.Execute(fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err=%v called=%v", err, called)
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		trial func() error
		want  State
	}{
		{"trial call succeeds", succeed, StateClosed},
		{"trial call fails", fail, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, clk := newTestBreaker(1)
			_ = b.Execute(fail)
			clk.Advance(59 * time.Second)
			if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("before timeout: err = %v, want ErrCircuitOpen", err)
			}
			clk.Advance(time.Second)
			_ = b.Execute(tc.trial)
			if b.State() != tc.want {
				t.Errorf("state = %v, want %v", b.State(), tc.want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(1)
	_ = b.Execute(fail)
	clk.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second trial err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IgnoresCancellation(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1)
	for _, err := range []error{context.Canceled, fmt.Errorf("dial: %w", context.DeadlineExceeded)} {
		got := b.Execute(func() error { return err })
		if !errors.Is(got, err) {
			t.Errorf("Execute = %v, want %v passed through", got, err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
