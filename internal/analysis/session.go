package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sprite-ai/mutacheck/internal/allowlist"
	"github.com/sprite-ai/mutacheck/internal/model"
	"github.com/sprite-ai/mutacheck/internal/provider"
)

// sessionChecker names reasons produced by the session itself rather than
// by a checker.
const sessionChecker = "session"

// Session owns the memoized results of one analysis run.
//
// Thread Safety:
//
//	Session is safe for concurrent use. The result table is guarded by a
//	mutex; concurrent top-level requests for the same class share one
//	analysis. Cycle detection follows each recursion chain separately, so a
//	class being analyzed on another goroutine is never mistaken for a cycle.
type Session struct {
	id       string
	provider provider.Provider
	allow    *allowlist.Table
	checkers []Checker
	logger   *slog.Logger
	workers  int

	mu      sync.Mutex
	results map[string]Result
	flight  singleflight.Group
}

// Option configures a Session.
type Option func(*Session)

// WithAllowList replaces the default allow-list.
func WithAllowList(t *allowlist.Table) Option {
	return func(s *Session) {
		s.allow = t
	}
}

// WithCheckers replaces the default checker set.
func WithCheckers(checkers []Checker) Option {
	return func(s *Session) {
		s.checkers = checkers
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithConcurrency bounds how many classes AnalyzeAll analyzes at once.
func WithConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewSession creates a session reading class models from p. Model lookups
// are memoized for the lifetime of the session.
func NewSession(p provider.Provider, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		provider: provider.Memoize(p),
		allow:    allowlist.Default(),
		checkers: Checkers(),
		logger:   slog.Default(),
		workers:  runtime.GOMAXPROCS(0),
		results:  make(map[string]Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("session_id", s.id))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Analyze returns the verdict for a class. It never fails: a class that
// cannot be loaded is MAYBE_IMMUTABLE with a reason. Once started, the
// analysis runs to completion even if ctx is canceled.
func (s *Session) Analyze(ctx context.Context, name string) Result {
	if r, ok := s.Result(name); ok {
		return r
	}

	ctx = context.WithoutCancel(ctx)
	v, _, _ := s.flight.Do(name, func() (interface{}, error) {
		return s.analyze(ctx, name, nil), nil
	})
	return v.(Result).clone()
}

// AnalyzeAll analyzes a batch of classes concurrently and returns their
// results in input order. Once ctx is done no further classes are started;
// classes that were never started are absent from the output.
func (s *Session) AnalyzeAll(ctx context.Context, names []string) []Result {
	slots := make([]*Result, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, name := range names {
		i, name := i, name
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r := s.Analyze(gctx, name)
			slots[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(names))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// Result returns the memoized result for a class, if any.
func (s *Session) Result(name string) (Result, bool) {
	s.mu.Lock()
	r, ok := s.results[name]
	s.mu.Unlock()
	if !ok {
		return Result{}, false
	}
	return r.clone(), true
}

// Len returns the number of memoized results.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// chain is the list of classes currently being analyzed on one recursion
// path, innermost first.
type chain struct {
	class  string
	parent *chain
}

func (c *chain) contains(name string) bool {
	for ; c != nil; c = c.parent {
		if c.class == name {
			return true
		}
	}
	return false
}

func (c *chain) depth() int {
	n := 0
	for ; c != nil; c = c.parent {
		n++
	}
	return n
}

// path renders the chain outermost first, ending with name.
func (c *chain) path(name string) string {
	var parts []string
	for ; c != nil; c = c.parent {
		parts = append(parts, c.class)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(append(parts, name), " -> ")
}

func (s *Session) analyze(ctx context.Context, name string, parent *chain) Result {
	if r, ok := s.Result(name); ok {
		return r
	}

	if parent.contains(name) {
		s.logger.Debug("reference cycle",
			slog.String("class", name),
			slog.String("path", parent.path(name)))
		recordCycle(ctx)
		return Result{
			Class:       name,
			Verdict:     model.MaybeImmutable,
			Provisional: true,
			Reasons: []model.Reason{{
				Checker: sessionChecker,
				Code:    model.CodeAnalysisCycle,
				Class:   name,
				Message: fmt.Sprintf("cyclic reference %s; treated as unproven", parent.path(name)),
				Verdict: model.MaybeImmutable,
			}},
		}
	}

	if e, ok := s.allow.Lookup(name); ok {
		return s.store(Result{
			Class:   name,
			Verdict: e.Verdict,
			Reasons: []model.Reason{{
				Checker: sessionChecker,
				Code:    model.CodeAllowListed,
				Class:   name,
				Message: allowListMessage(e),
				Verdict: e.Verdict,
			}},
		})
	}

	ctx, span := startAnalysisSpan(ctx, s.id, name, parent.depth())
	defer span.End()
	start := time.Now()

	var r Result
	cls, err := s.provider.Model(ctx, name)
	if err == nil && cls == nil {
		err = provider.Unreadable(name, nil)
	}
	if err != nil {
		r = s.failure(name, err)
	} else {
		res := &resolver{session: s, chain: &chain{class: name, parent: parent}}
		fragments := make([]Fragment, 0, len(s.checkers))
		for _, c := range s.checkers {
			fragments = append(fragments, RunChecker(ctx, c, cls, res, s.logger))
		}
		r = Aggregate(name, fragments)
	}

	r = s.store(r)
	setAnalysisSpanResult(span, r)
	recordAnalysis(ctx, r, time.Since(start))
	s.logger.Debug("class analyzed",
		slog.String("class", name),
		slog.String("verdict", r.Verdict.String()),
		slog.Int("reasons", len(r.Reasons)),
		slog.Duration("duration", time.Since(start)))
	return r
}

// store memoizes r unless another analysis of the same class finished
// first, and returns whichever result is memoized.
func (s *Session) store(r Result) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.results[r.Class]; ok {
		return existing.clone()
	}
	s.results[r.Class] = r
	return r.clone()
}

func (s *Session) failure(name string, err error) Result {
	var msg string
	switch {
	case errors.Is(err, provider.ErrClassNotFound):
		msg = "analysis failed: class could not be found"
	case errors.Is(err, provider.ErrUnreadableClass):
		msg = fmt.Sprintf("analysis failed: class could not be read: %v", err)
	default:
		msg = fmt.Sprintf("analysis failed: %v", err)
	}
	s.logger.Warn("class model unavailable",
		slog.String("class", name),
		slog.String("error", err.Error()))

	return Result{
		Class:   name,
		Verdict: model.MaybeImmutable,
		Reasons: []model.Reason{{
			Checker: sessionChecker,
			Code:    model.CodeAnalysisFailed,
			Class:   name,
			Message: msg,
			Verdict: model.MaybeImmutable,
		}},
	}
}

func allowListMessage(e allowlist.Entry) string {
	if e.Note == "" {
		return fmt.Sprintf("allow-listed as %s", e.Verdict)
	}
	return fmt.Sprintf("allow-listed as %s (%s)", e.Verdict, e.Note)
}

// resolver is the session view handed to checkers of one class.
type resolver struct {
	session *Session
	chain   *chain
}

func (r *resolver) Analyze(ctx context.Context, name string) Result {
	return r.session.analyze(ctx, name, r.chain)
}

func (r *resolver) Model(ctx context.Context, name string) (*model.Class, error) {
	return r.session.provider.Model(ctx, name)
}

func (r *resolver) AllowListed(name string) (allowlist.Entry, bool) {
	return r.session.allow.Lookup(name)
}
