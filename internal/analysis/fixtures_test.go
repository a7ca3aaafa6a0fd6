package analysis

import (
	"github.com/sprite-ai/mutacheck/internal/model"
	"github.com/sprite-ai/mutacheck/internal/provider"
)

// Micro-benchmark classes: each one exhibits exactly one way of being
// mutable, except ImmutableExample which exhibits none.
const (
	immutableExample        = "bench.ImmutableExample"
	interfaceField          = "bench.MutableByAssigningInterfaceToField"
	mutableFieldAssigned    = "bench.MutableByHavingMutableFieldAssigned"
	setterMethod            = "bench.MutableByHavingSetterMethod"
	noCopyOfIndirectField   = "bench.MutableByNoCopyOfIndirectlyConstructedField"
	notFinalClass           = "bench.MutableByNotBeingFinalClass"
	enumType                = "bench.EnumType"
	mutableExample          = "bench.MutableExample"
	cycleA                  = "bench.CycleA"
	cycleB                  = "bench.CycleB"
	selfReferencing         = "bench.Node"
	holdsImmutable          = "bench.HoldsImmutable"
	holdsUnknown            = "bench.HoldsUnknown"
	recordType              = "bench.Range"
	privateConstructorClass = "bench.Singleton"
)

func field(name, typ string) model.Field {
	return model.Field{Name: name, Type: typ, Final: true, Visibility: model.VisibilityPrivate}
}

func mutableField(name, typ string) model.Field {
	return model.Field{Name: name, Type: typ, Visibility: model.VisibilityPrivate}
}

func ctor(vis model.Visibility, assigns ...model.Assignment) model.Method {
	return model.Method{Name: "<init>", Constructor: true, Visibility: vis, Assigns: assigns}
}

func assign(field string, origin model.Origin) model.Assignment {
	return model.Assignment{Field: field, Origin: origin}
}

func setter(name, field string) model.Method {
	return model.Method{
		Name:       name,
		Params:     []string{"int"},
		Visibility: model.VisibilityPublic,
		Assigns:    []model.Assignment{assign(field, model.OriginParameter)},
	}
}

func benchmarkClasses() []*model.Class {
	return []*model.Class{
		{
			Name:   immutableExample,
			Final:  true,
			Fields: []model.Field{field("label", "int"), field("count", "long")},
			Methods: []model.Method{
				ctor(model.VisibilityPublic,
					assign("label", model.OriginParameter),
					assign("count", model.OriginParameter)),
				{Name: "getLabel", Visibility: model.VisibilityPublic},
			},
		},
		{
			Name:    interfaceField,
			Final:   true,
			Fields:  []model.Field{field("task", "java.lang.Runnable")},
			Methods: []model.Method{ctor(model.VisibilityPublic, assign("task", model.OriginConstructed))},
		},
		{
			Name:    mutableExample,
			Final:   true,
			Fields:  []model.Field{mutableField("value", "int")},
			Methods: []model.Method{ctor(model.VisibilityPublic), setter("setValue", "value")},
		},
		{
			Name:    mutableFieldAssigned,
			Final:   true,
			Fields:  []model.Field{field("mutable", mutableExample)},
			Methods: []model.Method{ctor(model.VisibilityPublic, assign("mutable", model.OriginConstructed))},
		},
		{
			Name:    setterMethod,
			Final:   true,
			Fields:  []model.Field{mutableField("x", "int")},
			Methods: []model.Method{ctor(model.VisibilityPublic, assign("x", model.OriginParameter)), setter("setX", "x")},
		},
		{
			Name:    noCopyOfIndirectField,
			Final:   true,
			Fields:  []model.Field{field("values", "int[]")},
			Methods: []model.Method{ctor(model.VisibilityPublic, assign("values", model.OriginWrapped))},
		},
		{
			Name:    notFinalClass,
			Fields:  []model.Field{field("x", "int")},
			Methods: []model.Method{ctor(model.VisibilityPublic, assign("x", model.OriginParameter))},
		},
		{
			Name:   enumType,
			Kind:   model.KindEnum,
			Fields: []model.Field{mutableField("counter", "int"), field("when", "java.util.Date")},
			Methods: []model.Method{
				ctor(model.VisibilityPrivate, assign("when", model.OriginParameter)),
				setter("increment", "counter"),
			},
		},
		{
			Name:    cycleA,
			Final:   true,
			Fields:  []model.Field{field("b", cycleB)},
			Methods: []model.Method{ctor(model.VisibilityPublic)},
		},
		{
			Name:    cycleB,
			Final:   true,
			Fields:  []model.Field{field("a", cycleA)},
			Methods: []model.Method{ctor(model.VisibilityPublic)},
		},
		{
			Name:    selfReferencing,
			Final:   true,
			Fields:  []model.Field{field("value", "int"), field("next", selfReferencing)},
			Methods: []model.Method{ctor(model.VisibilityPublic)},
		},
		{
			Name:   holdsImmutable,
			Final:  true,
			Fields: []model.Field{field("inner", immutableExample), field("name", "java.lang.String")},
			Methods: []model.Method{ctor(model.VisibilityPublic,
				assign("inner", model.OriginParameter),
				assign("name", model.OriginParameter))},
		},
		{
			Name:    holdsUnknown,
			Final:   true,
			Fields:  []model.Field{field("thing", "com.elsewhere.Unknown")},
			Methods: []model.Method{ctor(model.VisibilityPublic)},
		},
		{
			Name:    recordType,
			Kind:    model.KindRecord,
			Final:   true,
			Fields:  []model.Field{field("lo", "int"), field("hi", "int")},
			Methods: []model.Method{ctor(model.VisibilityPublic, assign("lo", model.OriginParameter), assign("hi", model.OriginParameter))},
		},
		{
			Name:    privateConstructorClass,
			Fields:  []model.Field{field("id", "int")},
			Methods: []model.Method{ctor(model.VisibilityPrivate)},
		},
	}
}

func benchmarkProvider() provider.Provider {
	return provider.Chain(provider.NewMapProvider(benchmarkClasses()...), provider.JDK())
}
