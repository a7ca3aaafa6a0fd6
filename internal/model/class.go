package model

import "strings"

// Kind is the declaration kind of a class.
type Kind int

const (
	KindClass Kind = iota
	KindInterface
	KindEnum
	KindRecord
	KindAnnotation
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	case KindEnum:
		return "enum"
	case KindRecord:
		return "record"
	case KindAnnotation:
		return "annotation"
	default:
		return "unknown"
	}
}

// ParseKind parses a declaration kind name. The empty string is a class.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "class":
		return KindClass, true
	case "interface":
		return KindInterface, true
	case "enum":
		return KindEnum, true
	case "record":
		return KindRecord, true
	case "annotation", "@interface":
		return KindAnnotation, true
	}
	return KindClass, false
}

// Visibility is a member or constructor access level.
type Visibility int

const (
	VisibilityPackage Visibility = iota
	VisibilityPrivate
	VisibilityProtected
	VisibilityPublic
)

func (v Visibility) String() string {
	switch v {
	case VisibilityPrivate:
		return "private"
	case VisibilityProtected:
		return "protected"
	case VisibilityPublic:
		return "public"
	default:
		return "package"
	}
}

// ParseVisibility parses an access modifier. Anything unrecognised is package-private.
func ParseVisibility(s string) Visibility {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "private":
		return VisibilityPrivate
	case "protected":
		return VisibilityProtected
	case "public":
		return VisibilityPublic
	default:
		return VisibilityPackage
	}
}

// Origin describes where the value stored into a field came from.
type Origin int

const (
	OriginUnknown     Origin = iota
	OriginConstructed        // literal or freshly allocated object
	OriginParameter          // an argument stored as-is
	OriginWrapped            // derived from an argument by a non-copying call
	OriginCopied             // a copy of an argument
)

func (o Origin) String() string {
	switch o {
	case OriginConstructed:
		return "constructed"
	case OriginParameter:
		return "parameter"
	case OriginWrapped:
		return "wrapped"
	case OriginCopied:
		return "copied"
	default:
		return "unknown"
	}
}

// ParseOrigin parses an origin name. Anything unrecognised is OriginUnknown.
func ParseOrigin(s string) Origin {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "constructed":
		return OriginConstructed
	case "parameter":
		return OriginParameter
	case "wrapped":
		return OriginWrapped
	case "copied":
		return OriginCopied
	default:
		return OriginUnknown
	}
}

// Assignment is an instance-field write found in a method body.
type Assignment struct {
	Field  string
	Origin Origin
}

// Field is a declared field.
type Field struct {
	Name       string
	Type       string // fully qualified; a trailing [] marks an array
	Final      bool
	Static     bool
	Visibility Visibility
}

// Method is a declared method or constructor.
type Method struct {
	Name        string
	Params      []string
	Constructor bool
	Static      bool
	Visibility  Visibility
	Assigns     []Assignment
}

// IsSetter reports whether the method writes instance state outside construction.
func (m Method) IsSetter() bool {
	return !m.Constructor && !m.Static && len(m.Assigns) > 0
}

// Class is the read-only structural snapshot of a compiled class.
type Class struct {
	Name       string
	Kind       Kind
	Final      bool
	Abstract   bool
	Superclass string
	Interfaces []string
	Fields     []Field
	Methods    []Method
}

// SimpleName returns the class name without its package.
func (c *Class) SimpleName() string {
	if i := strings.LastIndexAny(c.Name, ".$"); i >= 0 {
		return c.Name[i+1:]
	}
	return c.Name
}

// Field returns the field with the given name.
func (c *Class) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// InstanceFields returns the non-static fields in declaration order.
func (c *Class) InstanceFields() []Field {
	var fields []Field
	for _, f := range c.Fields {
		if !f.Static {
			fields = append(fields, f)
		}
	}
	return fields
}

// Constructors returns the declared constructors in declaration order.
func (c *Class) Constructors() []Method {
	var ctors []Method
	for _, m := range c.Methods {
		if m.Constructor {
			ctors = append(ctors, m)
		}
	}
	return ctors
}

// IsAbstractType reports whether a field of this type could hold an
// arbitrary implementation.
func (c *Class) IsAbstractType() bool {
	return c.Kind == KindInterface || c.Kind == KindAnnotation || c.Abstract
}

var primitives = map[string]bool{
	"boolean": true,
	"byte":    true,
	"char":    true,
	"short":   true,
	"int":     true,
	"long":    true,
	"float":   true,
	"double":  true,
	"void":    true,
}

// IsPrimitive reports whether a type name is a JVM primitive.
func IsPrimitive(typ string) bool {
	return primitives[typ]
}

// IsArray reports whether a type name denotes an array.
func IsArray(typ string) bool {
	return strings.HasSuffix(typ, "[]")
}

// ElementType strips every array dimension from a type name.
func ElementType(typ string) string {
	for IsArray(typ) {
		typ = strings.TrimSuffix(typ, "[]")
	}
	return typ
}
