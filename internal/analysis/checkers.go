package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sprite-ai/mutacheck/internal/model"
)

// CheckFunc inspects one class and returns its verdict fragment.
type CheckFunc func(ctx context.Context, cls *model.Class, res Resolver) Fragment

// Checker is a single structural rule.
type Checker struct {
	Name        string
	Description string
	Check       CheckFunc
}

// Checker names, usable with --skip.
const (
	EnumTypeChecker          = "enum_type"
	FinalClassChecker        = "final_class"
	SuperclassChecker        = "mutable_superclass"
	AbstractTypeFieldChecker = "abstract_type_field"
	SetterMethodChecker      = "setter_method"
	MutableFieldChecker      = "mutable_field"
	DefensiveCopyChecker     = "defensive_copy"
	NonFinalFieldChecker     = "non_final_field"
)

// Checkers returns every checker in evaluation order. Reasons are reported
// in this order.
func Checkers() []Checker {
	return []Checker{
		{EnumTypeChecker, "enum types are immutable regardless of their fields", checkEnumType},
		{FinalClassChecker, "class must be final or impossible to subclass", checkFinalClass},
		{SuperclassChecker, "inherited state and methods must be immutable", checkSuperclass},
		{AbstractTypeFieldChecker, "fields must not be declared with interface or abstract types", checkAbstractTypeFields},
		{SetterMethodChecker, "no method outside construction may assign instance fields", checkSetterMethods},
		{MutableFieldChecker, "field types must themselves be immutable", checkMutableFields},
		{DefensiveCopyChecker, "fields built from constructor arguments must be copies", checkDefensiveCopies},
		{NonFinalFieldChecker, "instance fields should be declared final; otherwise at best PROBABLY_IMMUTABLE", checkNonFinalFields},
	}
}

// CheckerNames returns the names of all checkers in evaluation order.
func CheckerNames() []string {
	var names []string
	for _, c := range Checkers() {
		names = append(names, c.Name)
	}
	return names
}

// Select returns the checkers not named in skip, preserving order.
func Select(skip []string) ([]Checker, error) {
	all := Checkers()
	known := make(map[string]bool, len(all))
	for _, c := range all {
		known[c.Name] = true
	}

	skipSet := make(map[string]bool)
	var unknown []string
	for _, s := range skip {
		if !known[s] {
			unknown = append(unknown, s)
			continue
		}
		skipSet[s] = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown checker(s): %s (known: %s)",
			strings.Join(unknown, ", "), strings.Join(CheckerNames(), ", "))
	}

	var selected []Checker
	for _, c := range all {
		if !skipSet[c.Name] {
			selected = append(selected, c)
		}
	}
	return selected, nil
}

func checkEnumType(ctx context.Context, cls *model.Class, res Resolver) Fragment {
	r := newReport(EnumTypeChecker, cls)
	if cls.Kind != model.KindEnum {
		return r.fragment()
	}
	r.add(model.DefinitelyImmutable, model.CodeEnumType, "", "",
		"enum type: each constant is a single fixed instance")
	r.frag.Override = true
	return r.fragment()
}

func checkFinalClass(ctx context.Context, cls *model.Class, res Resolver) Fragment {
	r := newReport(FinalClassChecker, cls)

	switch {
	case cls.Kind == model.KindInterface || cls.Kind == model.KindAnnotation:
		r.add(model.MaybeImmutable, model.CodeClassNotFinal, "", "",
			"%s %s can be implemented by mutable classes", cls.Kind, cls.SimpleName())
	case cls.Final || cls.Kind == model.KindEnum || cls.Kind == model.KindRecord:
	case cls.Abstract:
		r.add(model.MaybeImmutable, model.CodeClassNotFinal, "", "",
			"abstract class %s can be extended with mutable state", cls.SimpleName())
	case onlyPrivateConstructors(cls):
	default:
		r.add(model.MaybeImmutable, model.CodeClassNotFinal, "", "",
			"class %s is not final; a subclass could add mutable state", cls.SimpleName())
	}
	return r.fragment()
}

// onlyPrivateConstructors reports whether subclassing is impossible from
// outside the class.
func onlyPrivateConstructors(cls *model.Class) bool {
	ctors := cls.Constructors()
	if len(ctors) == 0 {
		return false
	}
	for _, c := range ctors {
		if c.Visibility != model.VisibilityPrivate {
			return false
		}
	}
	return true
}

// rootSuperclasses carry no instance state of their own.
var rootSuperclasses = map[string]bool{
	"java.lang.Object": true,
	"java.lang.Enum":   true,
	"java.lang.Record": true,
}

func checkSuperclass(ctx context.Context, cls *model.Class, res Resolver) Fragment {
	r := newReport(SuperclassChecker, cls)
	sup := cls.Superclass
	if sup == "" || rootSuperclasses[sup] {
		return r.fragment()
	}

	sub := res.Analyze(ctx, sup)
	if v := inheritedVerdict(sub); v != model.DefinitelyImmutable {
		r.add(v, model.CodeMutableSuperclass, "", "",
			"superclass %s is judged %s; inherited state or methods may mutate instances", sup, sub.Verdict)
	}
	return r.fragment()
}

// inheritedVerdict is the superclass verdict without the superclass's own
// openness to extension, which does not carry over to a subclass.
func inheritedVerdict(sup Result) model.Verdict {
	v := model.DefinitelyImmutable
	for _, reason := range sup.Reasons {
		if reason.Code == model.CodeClassNotFinal {
			continue
		}
		v = model.Merge(v, reason.Verdict)
	}
	return v
}

func checkAbstractTypeFields(ctx context.Context, cls *model.Class, res Resolver) Fragment {
	r := newReport(AbstractTypeFieldChecker, cls)
	for _, f := range cls.InstanceFields() {
		if !isReferenceType(f.Type) {
			continue
		}
		if _, ok := res.AllowListed(f.Type); ok {
			continue
		}
		ft, err := res.Model(ctx, f.Type)
		if err != nil {
			// Unresolvable types are judged by the mutable field checker.
			continue
		}
		if ft.IsAbstractType() {
			r.add(model.DefinitelyNotImmutable, model.CodeAbstractTypeField, f.Name, "",
				"field %s is declared with abstract type %s and may hold a mutable implementation",
				f.Name, f.Type)
		}
	}
	return r.fragment()
}

func checkSetterMethods(ctx context.Context, cls *model.Class, res Resolver) Fragment {
	r := newReport(SetterMethodChecker, cls)
	for _, m := range cls.Methods {
		if !m.IsSetter() {
			continue
		}
		var assigned []string
		seen := make(map[string]bool)
		for _, a := range m.Assigns {
			f, ok := cls.Field(a.Field)
			if !ok || f.Static || seen[a.Field] {
				continue
			}
			seen[a.Field] = true
			assigned = append(assigned, a.Field)
		}
		if len(assigned) == 0 {
			continue
		}
		r.add(model.DefinitelyNotImmutable, model.CodeSetterMethod, "", m.Name,
			"method %s assigns %s outside construction", m.Name, strings.Join(assigned, ", "))
	}
	return r.fragment()
}

func checkMutableFields(ctx context.Context, cls *model.Class, res Resolver) Fragment {
	r := newReport(MutableFieldChecker, cls)
	for _, f := range cls.InstanceFields() {
		if model.IsPrimitive(f.Type) {
			continue
		}
		if model.IsArray(f.Type) {
			r.add(model.DefinitelyNotImmutable, model.CodeArrayField, f.Name, "",
				"field %s is an array of %s; array elements can always be reassigned",
				f.Name, model.ElementType(f.Type))
			continue
		}
		if assumedImmutable(f.Type, res) {
			continue
		}
		if ft, err := res.Model(ctx, f.Type); err == nil && ft.IsAbstractType() {
			continue
		}

		sub := res.Analyze(ctx, f.Type)
		if sub.Verdict == model.DefinitelyImmutable {
			continue
		}
		note := ""
		if sub.Provisional {
			note = " (reference cycle, unproven)"
		}
		r.add(model.DefinitelyNotImmutable, model.CodeMutableFieldAssigned, f.Name, "",
			"mutable field assigned: %s has type %s, judged %s%s", f.Name, f.Type, sub.Verdict, note)
	}
	return r.fragment()
}

func checkDefensiveCopies(ctx context.Context, cls *model.Class, res Resolver) Fragment {
	r := newReport(DefensiveCopyChecker, cls)
	reported := make(map[string]bool)
	for _, ctor := range cls.Constructors() {
		for _, a := range ctor.Assigns {
			if a.Origin != model.OriginParameter && a.Origin != model.OriginWrapped {
				continue
			}
			if reported[a.Field] {
				continue
			}
			f, ok := cls.Field(a.Field)
			if !ok || f.Static || model.IsPrimitive(f.Type) {
				continue
			}
			if !model.IsArray(f.Type) && sharingIsHarmless(ctx, f.Type, res) {
				continue
			}
			reported[a.Field] = true
			r.add(model.DefinitelyNotImmutable, model.CodeNoCopyOfField, f.Name, ctor.Name,
				"no copy of indirectly constructed field: %s is stored from a constructor argument (%s) without copying",
				f.Name, a.Origin)
		}
	}
	return r.fragment()
}

// sharingIsHarmless reports whether storing a caller's reference of this type
// cannot expose mutable state.
func sharingIsHarmless(ctx context.Context, typ string, res Resolver) bool {
	if assumedImmutable(typ, res) {
		return true
	}
	return res.Analyze(ctx, typ).Verdict == model.DefinitelyImmutable
}

// assumedImmutable reports whether the allow-list vouches for typ. Entries
// weaker than PROBABLY_IMMUTABLE do not; those types are judged through the
// session, which returns the forced verdict.
func assumedImmutable(typ string, res Resolver) bool {
	e, ok := res.AllowListed(typ)
	return ok && !e.Verdict.AtMost(model.MaybeImmutable)
}

func checkNonFinalFields(ctx context.Context, cls *model.Class, res Resolver) Fragment {
	r := newReport(NonFinalFieldChecker, cls)
	for _, f := range cls.InstanceFields() {
		if !f.Final {
			r.add(model.ProbablyImmutable, model.CodeNonFinalField, f.Name, "",
				"field %s is not declared final", f.Name)
		}
	}
	return r.fragment()
}

func isReferenceType(typ string) bool {
	return !model.IsPrimitive(typ) && !model.IsArray(typ)
}
