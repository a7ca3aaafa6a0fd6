// Package provider supplies structural class models to the analysis engine.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sprite-ai/mutacheck/internal/model"
)

// Sentinel errors for lookup failures. Both are non-retryable for the
// identifier that produced them.
var (
	// ErrClassNotFound indicates the identifier could not be resolved.
	ErrClassNotFound = errors.New("class not found")

	// ErrUnreadableClass indicates the class exists but its structural
	// facts could not be extracted.
	ErrUnreadableClass = errors.New("unreadable class")
)

// ClassError attaches the class name to a lookup failure.
type ClassError struct {
	Class string
	Err   error
}

func (e *ClassError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassError) Unwrap() error {
	return e.Err
}

// NotFound returns an ErrClassNotFound failure for name.
func NotFound(name string) error {
	return &ClassError{Class: name, Err: ErrClassNotFound}
}

// Unreadable returns an ErrUnreadableClass failure for name wrapping cause.
func Unreadable(name string, cause error) error {
	if cause == nil {
		return &ClassError{Class: name, Err: ErrUnreadableClass}
	}
	return &ClassError{Class: name, Err: fmt.Errorf("%w: %w", ErrUnreadableClass, cause)}
}

// Provider resolves a fully qualified class name into its structural model.
// Returned models are shared and must not be modified.
type Provider interface {
	Model(ctx context.Context, name string) (*model.Class, error)
}

// Func adapts a function to the Provider interface.
type Func func(ctx context.Context, name string) (*model.Class, error)

func (f Func) Model(ctx context.Context, name string) (*model.Class, error) {
	return f(ctx, name)
}

// MapProvider serves models from memory.
type MapProvider struct {
	classes map[string]*model.Class
}

// NewMapProvider creates a provider holding the given classes.
func NewMapProvider(classes ...*model.Class) *MapProvider {
	p := &MapProvider{classes: make(map[string]*model.Class, len(classes))}
	for _, c := range classes {
		p.Add(c)
	}
	return p
}

// Add registers a class, replacing any earlier one with the same name.
func (p *MapProvider) Add(c *model.Class) {
	p.classes[c.Name] = c
}

// Names returns the registered class names in sorted order.
func (p *MapProvider) Names() []string {
	names := make([]string, 0, len(p.classes))
	for name := range p.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *MapProvider) Model(ctx context.Context, name string) (*model.Class, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := p.classes[name]
	if !ok {
		return nil, NotFound(name)
	}
	return c, nil
}

// Chain consults providers in order. The first one that does not report
// ErrClassNotFound decides the outcome.
func Chain(providers ...Provider) Provider {
	return chain(providers)
}

type chain []Provider

func (c chain) Model(ctx context.Context, name string) (*model.Class, error) {
	for _, p := range c {
		cls, err := p.Model(ctx, name)
		if err == nil {
			return cls, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}
	return nil, NotFound(name)
}

type lookup struct {
	class *model.Class
	err   error
}

// Memoized caches every lookup outcome, failures included, so an identifier
// is fetched from the underlying provider at most once.
type Memoized struct {
	inner  Provider
	mu     sync.RWMutex
	cache  map[string]lookup
	flight singleflight.Group
}

// Memoize wraps p with a lookup cache.
func Memoize(p Provider) *Memoized {
	return &Memoized{inner: p, cache: make(map[string]lookup)}
}

func (m *Memoized) Model(ctx context.Context, name string) (*model.Class, error) {
	m.mu.RLock()
	l, ok := m.cache[name]
	m.mu.RUnlock()
	if ok {
		return l.class, l.err
	}

	v, _, _ := m.flight.Do(name, func() (interface{}, error) {
		m.mu.RLock()
		l, ok := m.cache[name]
		m.mu.RUnlock()
		if ok {
			return l, nil
		}

		cls, err := m.inner.Model(ctx, name)
		l = lookup{class: cls, err: err}
		// Cancellation is the caller's failure, not the class's.
		if err != nil && ctx.Err() != nil && !errors.Is(err, ErrClassNotFound) && !errors.Is(err, ErrUnreadableClass) {
			return l, nil
		}

		m.mu.Lock()
		m.cache[name] = l
		m.mu.Unlock()
		return l, nil
	})

	l = v.(lookup)
	return l.class, l.err
}

// Len returns the number of cached outcomes.
func (m *Memoized) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}
