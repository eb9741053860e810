// Package scenario holds the read-only catalogue of business cases that an
// interview can be run against.
//
// The catalogue is loaded once at startup, either from the built-in cases.yaml
// or from a file named in the configuration. A [Library] can be swapped for a
// freshly loaded one at runtime by the config watcher; individual scenarios are
// never mutated.
package scenario

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed cases.yaml
var builtin []byte

// ErrNotFound is returned by [Library.Get] for an unknown id.
var ErrNotFound = errors.New("scenario: not found")

// Category groups scenarios by interview type.
type Category string

const (
	CategorySizing Category = "Market Sizing"
	CategoryEntry  Category = "Market Entry"
	CategoryLaunch Category = "Product Launch"
	CategoryMA     Category = "M&A"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySizing, CategoryEntry, CategoryLaunch, CategoryMA:
		return true
	}
	return false
}

// Scenario is one case definition.
type Scenario struct {
	ID          string   `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Category    Category `yaml:"category" json:"category"`
	Description string   `yaml:"description" json:"description"`

	// Context is the confidential case packet. It is only ever passed to the
	// interviewer model and is omitted from JSON listings.
	Context string `yaml:"context" json:"-"`
}

// File is the top-level structure of a scenario YAML file.
//
// Example:
//
//	scenarios:
//	  - id: size-1
//	    category: Market Sizing
//	    title: New Drug Revenue
//	    description: Estimate the projected annual revenue ...
//	    context: |
//	      **CASE PACKET** ...
type File struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Library is an immutable-by-contract, concurrency-safe scenario lookup.
type Library struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Scenario
}

// Builtin returns a Library holding the embedded catalogue.
func Builtin() (*Library, error) {
	lib, err := LoadFromReader(bytes.NewReader(builtin))
	if err != nil {
		return nil, fmt.Errorf("scenario: builtin catalogue: %w", err)
	}
	return lib, nil
}

// LoadFile reads a scenario catalogue from disk. An empty path selects the
// built-in catalogue.
func LoadFile(path string) (*Library, error) {
	if path == "" {
		return Builtin()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer f.Close()

	lib, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("scenario: parse %q: %w", path, err)
	}
	return lib, nil
}

// LoadFromReader parses and validates catalogue YAML.
func LoadFromReader(r io.Reader) (*Library, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("scenario: decode yaml: %w", err)
	}
	return New(f.Scenarios)
}

// New builds a Library from scenarios, preserving their order. It rejects
// empty or duplicate ids, unknown categories and scenarios without a title or
// case packet.
func New(scenarios []Scenario) (*Library, error) {
	if len(scenarios) == 0 {
		return nil, errors.New("scenario: catalogue is empty")
	}

	var errs []error
	lib := &Library{byID: make(map[string]Scenario, len(scenarios))}
	for i, s := range scenarios {
		s.Context = strings.TrimSpace(s.Context)
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("scenarios[%d]: id is required", i))
			continue
		case lib.has(s.ID):
			errs = append(errs, fmt.Errorf("scenarios[%d]: duplicate id %q", i, s.ID))
			continue
		}
		if s.Title == "" {
			errs = append(errs, fmt.Errorf("scenario %q: title is required", s.ID))
		}
		if !s.Category.Valid() {
			errs = append(errs, fmt.Errorf("scenario %q: unknown category %q", s.ID, s.Category))
		}
		if s.Context == "" {
			errs = append(errs, fmt.Errorf("scenario %q: context is required", s.ID))
		}
		lib.order = append(lib.order, s.ID)
		lib.byID[s.ID] = s
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("scenario: invalid catalogue: %w", err)
	}
	return lib, nil
}

func (l *Library) has(id string) bool {
	_, ok := l.byID[id]
	return ok
}

// Get returns the scenario with the given id.
func (l *Library) Get(id string) (Scenario, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.byID[id]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// List returns all scenarios in catalogue order.
func (l *Library) List() []Scenario {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Scenario, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// ByCategory returns the scenarios of category c in catalogue order.
func (l *Library) ByCategory(c Category) []Scenario {
	var out []Scenario
	for _, s := range l.List() {
		if s.Category == c {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of scenarios.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Replace swaps the contents of l for those of other. Used for hot reload.
func (l *Library) Replace(other *Library) {
	if other == nil || other == l {
		return
	}
	other.mu.RLock()
	order := slices.Clone(other.order)
	byID := make(map[string]Scenario, len(other.byID))
	for k, v := range other.byID {
		byID[k] = v
	}
	other.mu.RUnlock()

	l.mu.Lock()
	l.order, l.byID = order, byID
	l.mu.Unlock()
}
