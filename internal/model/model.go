// Package model defines the core data types shared across mutacheck.
package model

import (
	"fmt"
	"strings"
)

// Verdict is the confidence that a class is immutable.
//
// Levels are ordered weakest first, so the lower of two verdicts is always the
// more negative one.
type Verdict int

const (
	DefinitelyNotImmutable Verdict = iota
	MaybeImmutable
	ProbablyImmutable
	DefinitelyImmutable
)

// Verdicts lists every level from strongest to weakest.
var Verdicts = []Verdict{DefinitelyImmutable, ProbablyImmutable, MaybeImmutable, DefinitelyNotImmutable}

func (v Verdict) String() string {
	switch v {
	case DefinitelyNotImmutable:
		return "DEFINITELY_NOT_IMMUTABLE"
	case MaybeImmutable:
		return "MAYBE_IMMUTABLE"
	case ProbablyImmutable:
		return "PROBABLY_IMMUTABLE"
	case DefinitelyImmutable:
		return "DEFINITELY_IMMUTABLE"
	default:
		return "unknown"
	}
}

// Valid reports whether v is one of the four levels.
func (v Verdict) Valid() bool {
	return v >= DefinitelyNotImmutable && v <= DefinitelyImmutable
}

// Merge returns the weaker of two verdicts.
func Merge(a, b Verdict) Verdict {
	if a < b {
		return a
	}
	return b
}

// AtMost reports whether v is as weak as limit or weaker.
func (v Verdict) AtMost(limit Verdict) bool {
	return v <= limit
}

// ParseVerdict parses a verdict name. Long names (DEFINITELY_IMMUTABLE) and
// short names (definitely, definitely_not) are accepted in any case.
func ParseVerdict(s string) (Verdict, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	norm = strings.TrimSuffix(norm, "_IMMUTABLE")

	switch norm {
	case "DEFINITELY_NOT":
		return DefinitelyNotImmutable, nil
	case "MAYBE":
		return MaybeImmutable, nil
	case "PROBABLY":
		return ProbablyImmutable, nil
	case "DEFINITELY":
		return DefinitelyImmutable, nil
	}
	return 0, fmt.Errorf("unknown verdict %q", s)
}

func (v Verdict) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid verdict %d", int(v))
	}
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ReasonCode identifies the kind of finding behind a reason.
type ReasonCode string

const (
	CodeClassNotFinal        ReasonCode = "CLASS_NOT_FINAL"
	CodeAbstractTypeField    ReasonCode = "ABSTRACT_TYPE_FIELD"
	CodeSetterMethod         ReasonCode = "SETTER_METHOD"
	CodeMutableFieldAssigned ReasonCode = "MUTABLE_FIELD_ASSIGNED"
	CodeArrayField           ReasonCode = "ARRAY_FIELD"
	CodeNoCopyOfField        ReasonCode = "NO_COPY_OF_FIELD"
	CodeNonFinalField        ReasonCode = "NON_FINAL_FIELD"
	CodeMutableSuperclass    ReasonCode = "MUTABLE_SUPERCLASS"
	CodeEnumType             ReasonCode = "ENUM_TYPE"
	CodeAllowListed          ReasonCode = "ALLOW_LISTED"
	CodeAnalysisFailed       ReasonCode = "ANALYSIS_FAILED"
	CodeCheckerFault         ReasonCode = "CHECKER_FAULT"
	CodeAnalysisCycle        ReasonCode = "ANALYSIS_CYCLE"
)

// Reason explains a single verdict contribution.
type Reason struct {
	Checker string     // which checker produced this
	Code    ReasonCode
	Class   string
	Field   string // optional
	Method  string // optional
	Message string
	// Verdict is the level this reason contributed.
	Verdict Verdict
}

func (r Reason) String() string {
	loc := r.Class
	switch {
	case r.Field != "":
		loc = r.Class + "." + r.Field
	case r.Method != "":
		loc = r.Class + "#" + r.Method
	}
	return fmt.Sprintf("[%s] %s: %s", r.Checker, loc, r.Message)
}
