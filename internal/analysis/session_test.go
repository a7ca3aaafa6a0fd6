package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/mutacheck/internal/allowlist"
	"github.com/sprite-ai/mutacheck/internal/model"
	"github.com/sprite-ai/mutacheck/internal/provider"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(p provider.Provider, opts ...Option) *Session {
	return NewSession(p, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

// The acceptance benchmark: each class must receive exactly this verdict.
func TestBenchmarkVerdicts(t *testing.T) {
	tests := []struct {
		class string
		want  model.Verdict
		code  model.ReasonCode
	}{
		{immutableExample, model.DefinitelyImmutable, ""},
		{interfaceField, model.DefinitelyNotImmutable, model.CodeAbstractTypeField},
		{mutableFieldAssigned, model.DefinitelyNotImmutable, model.CodeMutableFieldAssigned},
		{setterMethod, model.DefinitelyNotImmutable, model.CodeSetterMethod},
		{noCopyOfIndirectField, model.DefinitelyNotImmutable, model.CodeNoCopyOfField},
		{notFinalClass, model.MaybeImmutable, model.CodeClassNotFinal},
		{enumType, model.DefinitelyImmutable, model.CodeEnumType},
		{"java.lang.Integer", model.ProbablyImmutable, model.CodeAllowListed},
		{"int", model.DefinitelyImmutable, model.CodeAllowListed},
		{"java.lang.reflect.Array", model.DefinitelyImmutable, ""},
		{"java.lang.Object", model.MaybeImmutable, model.CodeClassNotFinal},
		{"java.util.Date", model.DefinitelyNotImmutable, model.CodeSetterMethod},
	}

	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			// A fresh session per class, as in the original harness.
			s := newTestSession(benchmarkProvider())
			r := s.Analyze(context.Background(), tt.class)

			assert.Equal(t, tt.want, r.Verdict, "reasons:\n%s", r)
			if tt.code != "" {
				assert.True(t, r.HasCode(tt.code), "expected %s in:\n%s", tt.code, r)
			}
			if tt.want == model.DefinitelyImmutable && tt.code == "" {
				assert.Empty(t, r.Reasons)
			}
		})
	}
}

func TestInterfaceFieldReasonNamesField(t *testing.T) {
	r := newTestSession(benchmarkProvider()).Analyze(context.Background(), interfaceField)
	require.NotEmpty(t, r.Reasons)

	var found bool
	for _, reason := range r.Reasons {
		if reason.Code == model.CodeAbstractTypeField {
			found = true
			assert.Equal(t, "task", reason.Field)
			assert.Equal(t, AbstractTypeFieldChecker, reason.Checker)
		}
	}
	assert.True(t, found)
}

func TestMutableFieldReasonMessage(t *testing.T) {
	r := newTestSession(benchmarkProvider()).Analyze(context.Background(), mutableFieldAssigned)
	var messages []string
	for _, reason := range r.Reasons {
		messages = append(messages, reason.Message)
	}
	assert.Contains(t, fmt.Sprint(messages), "mutable field assigned")
}

func TestHoldingImmutableCollaboratorsIsFine(t *testing.T) {
	r := newTestSession(benchmarkProvider()).Analyze(context.Background(), holdsImmutable)
	assert.Equal(t, model.DefinitelyImmutable, r.Verdict, r.String())
}

func TestRecordsAndPrivateConstructors(t *testing.T) {
	s := newTestSession(benchmarkProvider())
	assert.Equal(t, model.DefinitelyImmutable, s.Analyze(context.Background(), recordType).Verdict)
	assert.Equal(t, model.DefinitelyImmutable, s.Analyze(context.Background(), privateConstructorClass).Verdict)
}

func TestMemoizedResultIsIdentical(t *testing.T) {
	var calls atomic.Int32
	base := benchmarkProvider()
	counting := provider.Func(func(ctx context.Context, name string) (*model.Class, error) {
		calls.Add(1)
		return base.Model(ctx, name)
	})

	s := newTestSession(counting)
	ctx := context.Background()
	first := s.Analyze(ctx, mutableFieldAssigned)
	fetched := calls.Load()
	second := s.Analyze(ctx, mutableFieldAssigned)

	assert.Equal(t, first, second)
	assert.Equal(t, fetched, calls.Load(), "second analysis must not refetch models")

	// The collaborator was memoized along the way.
	sub, ok := s.Result(mutableExample)
	require.True(t, ok)
	assert.Equal(t, model.DefinitelyNotImmutable, sub.Verdict)

	// Callers cannot disturb the memoized reasons.
	first.Reasons[0].Message = "tampered"
	again, _ := s.Result(mutableFieldAssigned)
	assert.NotEqual(t, "tampered", again.Reasons[0].Message)
}

func TestDeterministicAcrossSessions(t *testing.T) {
	names := []string{immutableExample, interfaceField, mutableFieldAssigned, setterMethod,
		noCopyOfIndirectField, notFinalClass, enumType, cycleA, selfReferencing, "java.util.Date"}

	first := newTestSession(benchmarkProvider())
	second := newTestSession(benchmarkProvider())
	for _, name := range names {
		a := first.Analyze(context.Background(), name)
		b := second.Analyze(context.Background(), name)
		assert.Equal(t, a, b, name)
	}
}

func TestMutualCycleTerminates(t *testing.T) {
	s := newTestSession(benchmarkProvider())
	a := s.Analyze(context.Background(), cycleA)
	b := s.Analyze(context.Background(), cycleB)

	assert.True(t, a.Verdict.AtMost(model.MaybeImmutable), a.String())
	assert.True(t, b.Verdict.AtMost(model.MaybeImmutable), b.String())
	assert.False(t, a.Provisional)
	assert.False(t, b.Provisional)

	// B was analyzed inside A's chain, so its field reason cites the cycle.
	assert.Contains(t, b.String(), "reference cycle")
}

func TestSelfReferenceTerminates(t *testing.T) {
	r := newTestSession(benchmarkProvider()).Analyze(context.Background(), selfReferencing)
	assert.True(t, r.Verdict.AtMost(model.MaybeImmutable))
	assert.True(t, r.HasCode(model.CodeMutableFieldAssigned))
}

func TestCycleResultIsProvisional(t *testing.T) {
	s := newTestSession(benchmarkProvider())
	res := &resolver{session: s, chain: &chain{class: cycleB, parent: &chain{class: cycleA}}}

	r := res.Analyze(context.Background(), cycleA)
	assert.True(t, r.Provisional)
	assert.Equal(t, model.MaybeImmutable, r.Verdict)
	require.Len(t, r.Reasons, 1)
	assert.Equal(t, model.CodeAnalysisCycle, r.Reasons[0].Code)
	assert.Contains(t, r.Reasons[0].Message, "bench.CycleA -> bench.CycleB -> bench.CycleA")

	_, memoized := s.Result(cycleA)
	assert.False(t, memoized, "provisional results must not be memoized")
}

func TestProviderFailuresDegradeToMaybe(t *testing.T) {
	broken := provider.Func(func(ctx context.Context, name string) (*model.Class, error) {
		switch name {
		case "x.Corrupt":
			return nil, provider.Unreadable(name, errors.New("bad constant pool"))
		case "x.Flaky":
			return nil, errors.New("connection reset")
		case "x.Nil":
			return nil, nil
		}
		return nil, provider.NotFound(name)
	})
	s := newTestSession(broken)

	for _, name := range []string{"x.Missing", "x.Corrupt", "x.Flaky", "x.Nil"} {
		r := s.Analyze(context.Background(), name)
		assert.Equal(t, model.MaybeImmutable, r.Verdict, name)
		require.Len(t, r.Reasons, 1, name)
		assert.Equal(t, model.CodeAnalysisFailed, r.Reasons[0].Code, name)
	}

	r, _ := s.Result("x.Corrupt")
	assert.Contains(t, r.Reasons[0].Message, "bad constant pool")
}

func TestUnknownFieldTypeMakesHolderMutable(t *testing.T) {
	r := newTestSession(benchmarkProvider()).Analyze(context.Background(), holdsUnknown)
	assert.Equal(t, model.DefinitelyNotImmutable, r.Verdict)
	assert.True(t, r.HasCode(model.CodeMutableFieldAssigned))
}

func TestCheckerFaultIsIsolated(t *testing.T) {
	boom := Checker{Name: "boom", Check: func(ctx context.Context, cls *model.Class, res Resolver) Fragment {
		if cls.Name == immutableExample {
			panic("index out of range")
		}
		return Fragment{Verdict: model.DefinitelyImmutable}
	}}
	checkers := append([]Checker{boom}, Checkers()...)
	s := newTestSession(benchmarkProvider(), WithCheckers(checkers))

	r := s.Analyze(context.Background(), immutableExample)
	assert.Equal(t, model.MaybeImmutable, r.Verdict)
	require.NotEmpty(t, r.Reasons)
	assert.Equal(t, model.CodeCheckerFault, r.Reasons[0].Code)
	assert.Equal(t, "checker boom failed: index out of range", r.Reasons[0].Message)

	// Other classes are unaffected.
	assert.Equal(t, model.DefinitelyNotImmutable, s.Analyze(context.Background(), setterMethod).Verdict)
}

func TestReasonsFollowRegistryOrder(t *testing.T) {
	cls := &model.Class{
		Name: "x.Everything",
		Fields: []model.Field{
			mutableField("list", "java.util.List"),
			mutableField("date", "java.util.Date"),
			mutableField("raw", "byte[]"),
		},
		Methods: []model.Method{
			ctor(model.VisibilityPublic, assign("raw", model.OriginParameter)),
			setter("setDate", "date"),
		},
	}
	s := newTestSession(provider.Chain(provider.NewMapProvider(cls), provider.JDK()))
	r := s.Analyze(context.Background(), cls.Name)
	assert.Equal(t, model.DefinitelyNotImmutable, r.Verdict)

	order := make(map[string]int)
	for i, name := range CheckerNames() {
		order[name] = i
	}
	last := -1
	seen := make(map[string]bool)
	for _, reason := range r.Reasons {
		idx, ok := order[reason.Checker]
		require.True(t, ok, reason.Checker)
		assert.GreaterOrEqual(t, idx, last, "reason out of order: %s", reason)
		last = idx
		seen[reason.Checker] = true
	}
	for _, name := range []string{FinalClassChecker, AbstractTypeFieldChecker, SetterMethodChecker,
		MutableFieldChecker, DefensiveCopyChecker, NonFinalFieldChecker} {
		assert.True(t, seen[name], "no reason from %s", name)
	}
}

func TestMonotonicity(t *testing.T) {
	base := func() *model.Class {
		return &model.Class{
			Name:    "x.Subject",
			Final:   true,
			Fields:  []model.Field{field("n", "int")},
			Methods: []model.Method{ctor(model.VisibilityPublic, assign("n", model.OriginParameter))},
		}
	}

	mutations := map[string]func(c *model.Class){
		"not final": func(c *model.Class) { c.Final = false },
		"abstract field": func(c *model.Class) {
			c.Fields = append(c.Fields, field("items", "java.util.List"))
		},
		"setter": func(c *model.Class) { c.Methods = append(c.Methods, setter("setN", "n")) },
		"uncopied field": func(c *model.Class) {
			c.Fields = append(c.Fields, field("buf", "byte[]"))
			c.Methods[0].Assigns = append(c.Methods[0].Assigns, assign("buf", model.OriginParameter))
		},
		"mutable collaborator": func(c *model.Class) {
			c.Fields = append(c.Fields, field("when", "java.util.Date"))
		},
		"non-final field": func(c *model.Class) { c.Fields[0].Final = false },
	}

	analyze := func(c *model.Class) model.Verdict {
		s := newTestSession(provider.Chain(provider.NewMapProvider(c), provider.JDK()))
		return s.Analyze(context.Background(), c.Name).Verdict
	}

	before := analyze(base())
	require.Equal(t, model.DefinitelyImmutable, before)

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			after := analyze(c)
			assert.True(t, after <= before, "%s moved verdict from %s to %s", name, before, after)
			assert.NotEqual(t, model.DefinitelyImmutable, after)
		})
	}
}

func TestAnalyzeAllConcurrent(t *testing.T) {
	var classes []*model.Class
	var names []string
	for i := 0; i < 40; i++ {
		// Each class holds the next one; the last closes the loop.
		name := fmt.Sprintf("ring.C%02d", i)
		next := fmt.Sprintf("ring.C%02d", (i+1)%40)
		classes = append(classes, &model.Class{
			Name:    name,
			Final:   true,
			Fields:  []model.Field{field("next", next), field("n", "int")},
			Methods: []model.Method{ctor(model.VisibilityPublic)},
		})
		names = append(names, name)
	}
	names = append(names, benchmarkNames()...)

	all := append(classes, benchmarkClasses()...)
	s := newTestSession(provider.Chain(provider.NewMapProvider(all...), provider.JDK()), WithConcurrency(8))
	results := s.AnalyzeAll(context.Background(), names)
	require.Len(t, results, len(names))

	for i, r := range results {
		assert.Equal(t, names[i], r.Class)
		assert.True(t, r.Verdict.Valid())
		if i < 40 {
			assert.True(t, r.Verdict.AtMost(model.MaybeImmutable), r.String())
		}
		// Whatever the interleaving, every caller sees the memoized value.
		memo, ok := s.Result(r.Class)
		require.True(t, ok)
		assert.Equal(t, memo, r)
	}
}

func TestConcurrentAnalyzeSameClass(t *testing.T) {
	s := newTestSession(benchmarkProvider())
	var wg sync.WaitGroup
	results := make([]Result, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Analyze(context.Background(), mutableFieldAssigned)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestAnalyzeAllStopsWhenCanceled(t *testing.T) {
	s := newTestSession(benchmarkProvider())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := s.AnalyzeAll(ctx, benchmarkNames())
	assert.Empty(t, results)
	assert.Equal(t, 0, s.Len())
}

func TestAnalyzeIgnoresCancellationOnceStarted(t *testing.T) {
	s := newTestSession(benchmarkProvider())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := s.Analyze(ctx, mutableFieldAssigned)
	assert.Equal(t, model.DefinitelyNotImmutable, r.Verdict)
	assert.False(t, r.HasCode(model.CodeAnalysisFailed))
}

func TestSkippedCheckers(t *testing.T) {
	checkers, err := Select([]string{FinalClassChecker})
	require.NoError(t, err)
	s := newTestSession(benchmarkProvider(), WithCheckers(checkers))
	assert.Equal(t, model.DefinitelyImmutable, s.Analyze(context.Background(), notFinalClass).Verdict)
}

func TestSessionID(t *testing.T) {
	a := newTestSession(benchmarkProvider())
	b := newTestSession(benchmarkProvider())
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func benchmarkNames() []string {
	var names []string
	for _, c := range benchmarkClasses() {
		names = append(names, c.Name)
	}
	return names
}

func TestFieldOfTypeAllowListedAsMutable(t *testing.T) {
	override, err := allowlist.Load(strings.NewReader(`
version: 1
entries:
  - {type: java.util.Date, verdict: DEFINITELY_NOT_IMMUTABLE}
`))
	require.NoError(t, err)

	holder := &model.Class{
		Name:    "p.Holder",
		Final:   true,
		Fields:  []model.Field{field("when", "java.util.Date")},
		Methods: []model.Method{ctor(model.VisibilityPublic, assign("when", model.OriginParameter))},
	}
	s := newTestSession(provider.Chain(provider.NewMapProvider(holder), provider.JDK()),
		WithAllowList(allowlist.Default().Merge(override)))

	date := s.Analyze(context.Background(), "java.util.Date")
	assert.Equal(t, model.DefinitelyNotImmutable, date.Verdict)
	assert.True(t, date.HasCode(model.CodeAllowListed))

	r := s.Analyze(context.Background(), holder.Name)
	assert.Equal(t, model.DefinitelyNotImmutable, r.Verdict, "reasons:\n%s", r)
	assert.True(t, r.HasCode(model.CodeMutableFieldAssigned), r.String())
	assert.True(t, r.HasCode(model.CodeNoCopyOfField), r.String())
}

func TestSubclassInheritsSuperclassMutability(t *testing.T) {
	stamp := &model.Class{
		Name:       "p.Stamp",
		Final:      true,
		Superclass: "java.util.Date",
		Methods:    []model.Method{ctor(model.VisibilityPublic)},
	}
	base := &model.Class{
		Name:       "p.Base",
		Abstract:   true,
		Superclass: "java.lang.Object",
		Fields:     []model.Field{field("id", "long")},
		Methods:    []model.Method{ctor(model.VisibilityProtected, assign("id", model.OriginParameter))},
	}
	derived := &model.Class{
		Name:       "p.Derived",
		Final:      true,
		Superclass: "p.Base",
		Fields:     []model.Field{field("name", "java.lang.String")},
		Methods:    []model.Method{ctor(model.VisibilityPublic, assign("name", model.OriginParameter))},
	}
	orphan := &model.Class{
		Name:       "p.Orphan",
		Final:      true,
		Superclass: "lib.Missing",
		Methods:    []model.Method{ctor(model.VisibilityPublic)},
	}
	s := newTestSession(provider.Chain(provider.NewMapProvider(stamp, base, derived, orphan), provider.JDK()))

	r := s.Analyze(context.Background(), stamp.Name)
	assert.Equal(t, model.DefinitelyNotImmutable, r.Verdict, "reasons:\n%s", r)
	require.Len(t, r.Reasons, 1)
	assert.Equal(t, SuperclassChecker, r.Reasons[0].Checker)
	assert.Equal(t, model.CodeMutableSuperclass, r.Reasons[0].Code)
	assert.Contains(t, r.Reasons[0].Message, "java.util.Date")

	// The base is open for extension, which says nothing about the final subclass.
	assert.Equal(t, model.MaybeImmutable, s.Analyze(context.Background(), base.Name).Verdict)
	r = s.Analyze(context.Background(), derived.Name)
	assert.Equal(t, model.DefinitelyImmutable, r.Verdict, "reasons:\n%s", r)
	assert.Empty(t, r.Reasons)

	r = s.Analyze(context.Background(), orphan.Name)
	assert.Equal(t, model.MaybeImmutable, r.Verdict)
	assert.True(t, r.HasCode(model.CodeMutableSuperclass))
}

func TestAllowListMatchesExactNamesOnly(t *testing.T) {
	marker, err := allowlist.Load(strings.NewReader(`
version: 1
entries:
  - {type: p.Marker, verdict: DEFINITELY_IMMUTABLE}
`))
	require.NoError(t, err)

	boxed := &model.Class{
		Name:       "p.BoxedInt",
		Final:      true,
		Superclass: "java.lang.Integer",
		Methods:    []model.Method{ctor(model.VisibilityPublic)},
	}
	impl := &model.Class{
		Name:       "p.MarkedCounter",
		Final:      true,
		Superclass: "java.lang.Object",
		Interfaces: []string{"p.Marker"},
		Fields:     []model.Field{mutableField("n", "int")},
		Methods:    []model.Method{ctor(model.VisibilityPublic), setter("set", "n")},
	}
	s := newTestSession(provider.Chain(provider.NewMapProvider(boxed, impl), provider.JDK()),
		WithAllowList(allowlist.Default().Merge(marker)))

	r := s.Analyze(context.Background(), boxed.Name)
	assert.False(t, r.HasCode(model.CodeAllowListed), r.String())
	assert.Equal(t, model.ProbablyImmutable, r.Verdict, "inherits the boxed type's assumed verdict")
	assert.True(t, r.HasCode(model.CodeMutableSuperclass))

	r = s.Analyze(context.Background(), impl.Name)
	assert.False(t, r.HasCode(model.CodeAllowListed), r.String())
	assert.Equal(t, model.DefinitelyNotImmutable, r.Verdict)
	assert.True(t, r.HasCode(model.CodeSetterMethod))
}
