// Package analysis implements the mutability checkers and the session that
// runs them over class models.
package analysis

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sprite-ai/mutacheck/internal/allowlist"
	"github.com/sprite-ai/mutacheck/internal/model"
)

// Result is the outcome of analyzing one class.
type Result struct {
	Class   string
	Verdict model.Verdict
	Reasons []model.Reason

	// Provisional marks a result produced to break a reference cycle.
	// Provisional results are never memoized.
	Provisional bool
}

// IsImmutable reports whether the verdict is DEFINITELY_IMMUTABLE.
func (r Result) IsImmutable() bool {
	return r.Verdict == model.DefinitelyImmutable
}

// HasCode reports whether any reason carries the given code.
func (r Result) HasCode(code model.ReasonCode) bool {
	for _, reason := range r.Reasons {
		if reason.Code == code {
			return true
		}
	}
	return false
}

func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Class, r.Verdict)
	for _, reason := range r.Reasons {
		b.WriteString("\n  ")
		b.WriteString(reason.String())
	}
	return b.String()
}

func (r Result) clone() Result {
	r.Reasons = slices.Clone(r.Reasons)
	return r
}

// Fragment is one checker's contribution to a verdict.
type Fragment struct {
	Verdict model.Verdict
	Reasons []model.Reason

	// Override forces the class verdict regardless of other fragments.
	Override bool
}

// Resolver gives checkers access to other classes within the same session.
type Resolver interface {
	// Analyze returns the verdict for another class, analyzing it if needed.
	Analyze(ctx context.Context, name string) Result

	// Model returns the structural model of another class.
	Model(ctx context.Context, name string) (*model.Class, error)

	// AllowListed reports whether a type has a fixed verdict.
	AllowListed(name string) (allowlist.Entry, bool)
}

// Aggregate combines checker fragments, in registry order, into one result.
// The verdict starts at DEFINITELY_IMMUTABLE and is merged with every
// fragment. If any fragment is an override, the overriding fragments alone
// decide the verdict and reasons.
func Aggregate(class string, fragments []Fragment) Result {
	var overrides []Fragment
	for _, f := range fragments {
		if f.Override {
			overrides = append(overrides, f)
		}
	}
	if len(overrides) > 0 {
		fragments = overrides
	}

	r := Result{Class: class, Verdict: model.DefinitelyImmutable}
	for _, f := range fragments {
		r.Verdict = model.Merge(r.Verdict, f.Verdict)
		r.Reasons = append(r.Reasons, f.Reasons...)
	}
	return r
}

// report accumulates a checker's fragment.
type report struct {
	checker string
	class   string
	frag    Fragment
}

func newReport(checker string, cls *model.Class) *report {
	return &report{
		checker: checker,
		class:   cls.Name,
		frag:    Fragment{Verdict: model.DefinitelyImmutable},
	}
}

func (r *report) add(v model.Verdict, code model.ReasonCode, field, method, format string, args ...any) {
	r.frag.Verdict = model.Merge(r.frag.Verdict, v)
	r.frag.Reasons = append(r.frag.Reasons, model.Reason{
		Checker: r.checker,
		Code:    code,
		Class:   r.class,
		Field:   field,
		Method:  method,
		Message: fmt.Sprintf(format, args...),
		Verdict: v,
	})
}

func (r *report) fragment() Fragment {
	return r.frag
}
