package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// skipped by its breaker. It wraps the errors of all members.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds a primary value and its fallbacks in preference order, each
// behind its own [Breaker]. Add members before sharing the group; Do is safe
// for concurrent use.
type Group[T any] struct {
	cfg     BreakerConfig
	log     *slog.Logger
	members []member[T]
}

// NewGroup creates a Group with primary as its first member. cfg is the
// template for every member's breaker; its Name is replaced by the member
// name.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig) *Group[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	g := &Group[T]{cfg: cfg, log: log}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].value }

// Names returns the member names in preference order.
func (g *Group[T]) Names() []string {
	out := make([]string, len(g.members))
	for i, m := range g.members {
		out[i] = m.name
	}
	return out
}

// Do calls fn with each member in order and returns the first success.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			if i > 0 {
				g.log.Info("served by fallback provider", "provider", m.name)
			}
			return out, nil
		}
		if isCancel(err) {
			return zero, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			g.log.Debug("provider skipped, circuit open", "provider", m.name)
		} else {
			g.log.Warn("provider failed", "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
