package javasrc

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/sprite-ai/mutacheck/internal/model"
)

// copyMethods return a fresh object or array detached from their input.
var copyMethods = map[string]bool{
	"clone":       true,
	"copyOf":      true,
	"copyOfRange": true,
	"toArray":     true,
}

// bodyScanner finds the instance fields a method body assigns.
type bodyScanner struct {
	src    []byte
	fields map[string]bool
	params map[string]bool
	locals map[string]bool

	// origins tracks reassignment of parameters. It is only set for
	// compact record constructors, whose parameters become the fields.
	origins map[string]model.Origin

	assigns []model.Assignment
}

// scanAssignments returns the field assignments made directly by body, in
// source order. Nested and anonymous class bodies are not entered. Simple
// names count only when no parameter or local variable shadows them.
func scanAssignments(body *sitter.Node, src []byte, fields map[string]bool, params []string, origins map[string]model.Origin) []model.Assignment {
	s := &bodyScanner{
		src:     src,
		fields:  fields,
		params:  make(map[string]bool, len(params)),
		locals:  make(map[string]bool),
		origins: origins,
	}
	for _, p := range params {
		s.params[p] = true
	}
	s.collectLocals(body)
	s.walk(body)
	return s.assigns
}

func (s *bodyScanner) collectLocals(n *sitter.Node) {
	switch n.Type() {
	case "local_variable_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if d := n.NamedChild(i); d.Type() == "variable_declarator" {
				s.declare(d.ChildByFieldName("name"))
			}
		}
	case "enhanced_for_statement", "catch_formal_parameter", "resource", "instanceof_expression":
		s.declare(n.ChildByFieldName("name"))
	case "lambda_expression":
		if p := n.ChildByFieldName("parameters"); p != nil {
			switch p.Type() {
			case "identifier":
				s.declare(p)
			case "inferred_parameters":
				for i := 0; i < int(p.NamedChildCount()); i++ {
					s.declare(p.NamedChild(i))
				}
			case "formal_parameters":
				_, names := readParams(p, s.src)
				for _, name := range names {
					s.locals[name] = true
				}
			}
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); !opaque(c) {
			s.collectLocals(c)
		}
	}
}

func (s *bodyScanner) declare(id *sitter.Node) {
	if id != nil && id.Type() == "identifier" {
		s.locals[id.Content(s.src)] = true
	}
}

func (s *bodyScanner) walk(n *sitter.Node) {
	switch n.Type() {
	case "assignment_expression":
		s.assignment(n)
	case "update_expression":
		if target := n.NamedChild(0); target != nil {
			if name, ok := s.fieldTarget(target); ok {
				s.assigns = append(s.assigns, model.Assignment{Field: name, Origin: model.OriginUnknown})
			}
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); !opaque(c) {
			s.walk(c)
		}
	}
}

func (s *bodyScanner) assignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		return
	}
	simple := true
	if op := n.ChildByFieldName("operator"); op != nil && op.Type() != "=" {
		simple = false
	}

	origin := model.OriginUnknown
	if simple {
		origin = classifyOrigin(right, s.src, s.params)
	}

	if name, ok := s.fieldTarget(left); ok {
		s.assigns = append(s.assigns, model.Assignment{Field: name, Origin: origin})
		return
	}
	if s.origins != nil && left.Type() == "identifier" {
		name := left.Content(s.src)
		if _, ok := s.origins[name]; ok && !s.locals[name] {
			s.origins[name] = origin
		}
	}
}

// fieldTarget reports whether an assignment target is one of the declared
// fields of this instance.
func (s *bodyScanner) fieldTarget(n *sitter.Node) (string, bool) {
	switch n.Type() {
	case "identifier":
		name := n.Content(s.src)
		if s.params[name] || s.locals[name] || !s.fields[name] {
			return "", false
		}
		return name, true
	case "field_access":
		obj := n.ChildByFieldName("object")
		field := n.ChildByFieldName("field")
		if obj == nil || field == nil || obj.Type() != "this" {
			return "", false
		}
		name := field.Content(s.src)
		return name, s.fields[name]
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return s.fieldTarget(n.NamedChild(0))
		}
	}
	return "", false
}

// opaque reports whether a node starts a new class scope.
func opaque(n *sitter.Node) bool {
	return n.Type() == "class_body" || isTypeDeclaration(n)
}

// classifyOrigin judges where an assigned value comes from.
func classifyOrigin(n *sitter.Node, src []byte, params map[string]bool) model.Origin {
	switch n.Type() {
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return classifyOrigin(n.NamedChild(0), src, params)
		}
	case "cast_expression":
		if v := n.ChildByFieldName("value"); v != nil {
			return classifyOrigin(v, src, params)
		}
	case "assignment_expression":
		if r := n.ChildByFieldName("right"); r != nil {
			return classifyOrigin(r, src, params)
		}
	case "identifier":
		if params[n.Content(src)] {
			return model.OriginParameter
		}
	case "field_access":
		if obj := n.ChildByFieldName("object"); obj != nil && obj.Type() == "identifier" && params[obj.Content(src)] {
			return model.OriginWrapped
		}
	case "object_creation_expression":
		if firstNamedOfType(n, "class_body") == nil && mentionsParam(n.ChildByFieldName("arguments"), src, params) {
			return model.OriginCopied
		}
		return model.OriginConstructed
	case "method_invocation":
		name := n.ChildByFieldName("name")
		if name != nil && copyMethods[name.Content(src)] {
			return model.OriginCopied
		}
		if obj := n.ChildByFieldName("object"); obj != nil && exposes(classifyOrigin(obj, src, params)) {
			return model.OriginWrapped
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			break
		}
		origin := model.OriginConstructed
		for i := 0; i < int(args.NamedChildCount()); i++ {
			origin = weaker(origin, classifyOrigin(args.NamedChild(i), src, params))
		}
		switch {
		case exposes(origin):
			return model.OriginWrapped
		case origin == model.OriginCopied:
			return model.OriginCopied
		}
	case "ternary_expression":
		a, b := n.ChildByFieldName("consequence"), n.ChildByFieldName("alternative")
		if a != nil && b != nil {
			return weaker(classifyOrigin(a, src, params), classifyOrigin(b, src, params))
		}
	case "array_creation_expression", "array_initializer", "lambda_expression", "method_reference",
		"string_literal", "text_block", "character_literal", "null_literal", "true", "false",
		"decimal_integer_literal", "hex_integer_literal", "octal_integer_literal", "binary_integer_literal",
		"decimal_floating_point_literal", "hex_floating_point_literal", "class_literal":
		return model.OriginConstructed
	}
	return model.OriginUnknown
}

func mentionsParam(n *sitter.Node, src []byte, params map[string]bool) bool {
	if n == nil || len(params) == 0 {
		return false
	}
	if n.Type() == "identifier" && params[n.Content(src)] {
		return true
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if mentionsParam(n.NamedChild(i), src, params) {
			return true
		}
	}
	return false
}

// originRank orders origins from most to least exposed to the caller.
var originRank = map[model.Origin]int{
	model.OriginParameter:   0,
	model.OriginWrapped:     1,
	model.OriginUnknown:     2,
	model.OriginCopied:      3,
	model.OriginConstructed: 4,
}

func exposes(o model.Origin) bool {
	return o == model.OriginParameter || o == model.OriginWrapped
}

func weaker(a, b model.Origin) model.Origin {
	if originRank[b] < originRank[a] {
		return b
	}
	return a
}
