package javasrc

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"

	"github.com/sprite-ai/mutacheck/internal/model"
)

// fileScope holds the names visible to every type declared in one file.
type fileScope struct {
	path      string
	pkg       string
	imports   map[string]string // simple name -> qualified name
	wildcards []string          // packages imported with .*
}

// rawField is a field whose type has not been resolved yet.
type rawField struct {
	name       string
	typ        string
	final      bool
	static     bool
	visibility model.Visibility
}

// rawMethod is a method whose parameter types have not been resolved yet.
type rawMethod struct {
	name        string
	params      []string
	constructor bool
	static      bool
	visibility  model.Visibility
	assigns     []model.Assignment
}

// typeDecl is one type declaration lifted out of a syntax tree.
type typeDecl struct {
	name       string
	kind       model.Kind
	final      bool
	abstract   bool
	superclass string
	interfaces []string
	typeParams []string
	fields     []rawField
	methods    []rawMethod

	scope *fileScope
	outer *typeDecl
	line  int
}

func (d *typeDecl) simpleName() string {
	if i := strings.LastIndex(d.name, "."); i >= 0 {
		return d.name[i+1:]
	}
	return d.name
}

// parsedFile is the outcome of parsing one source file.
type parsedFile struct {
	scope *fileScope
	decls []*typeDecl

	// syntaxErr is set when the file does not parse cleanly. Declarations
	// are still listed so their names can be reported as unreadable.
	syntaxErr error
}

// parseFile parses Java source into type declarations. A parser is created
// per call; tree-sitter parsers are not safe for concurrent use.
func parseFile(ctx context.Context, path string, src []byte) (*parsedFile, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	f := &parsedFile{scope: &fileScope{path: path, imports: make(map[string]string)}}
	if root.HasError() {
		f.syntaxErr = fmt.Errorf("%s:%d: syntax error", path, firstErrorLine(root))
	}

	// Package and imports first, so declarations see a complete scope.
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "package_declaration":
			if id := firstNamedOfType(n, "scoped_identifier", "identifier"); id != nil {
				f.scope.pkg = compact(id.Content(src))
			}
		case "import_declaration":
			f.scope.addImport(n, src)
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		if isTypeDeclaration(n) {
			f.decls = append(f.decls, collectDecls(n, src, f.scope, nil)...)
		}
	}
	return f, nil
}

// primaryName is the type a file is expected to declare, by Java convention.
func (f *parsedFile) primaryName() string {
	stem := strings.TrimSuffix(filepath.Base(f.scope.path), filepath.Ext(f.scope.path))
	return qualify(f.scope.pkg, stem)
}

func (s *fileScope) addImport(n *sitter.Node, src []byte) {
	var name string
	wildcard := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "static":
			// Static imports bring in members, not types.
			return
		case "asterisk":
			wildcard = true
		case "scoped_identifier", "identifier":
			name = compact(c.Content(src))
		}
	}
	if name == "" {
		return
	}
	if wildcard {
		s.wildcards = append(s.wildcards, name)
		return
	}
	simple := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		simple = name[i+1:]
	}
	s.imports[simple] = name
}

func firstErrorLine(n *sitter.Node) int {
	if n.IsMissing() || n.Type() == "ERROR" {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.HasError() || c.IsMissing() {
			return firstErrorLine(c)
		}
	}
	return int(n.StartPoint().Row) + 1
}

func isTypeDeclaration(n *sitter.Node) bool {
	switch n.Type() {
	case "class_declaration", "interface_declaration", "enum_declaration",
		"record_declaration", "annotation_type_declaration":
		return true
	}
	return false
}

// collectDecls lifts a type declaration and every member type nested in it.
func collectDecls(n *sitter.Node, src []byte, scope *fileScope, outer *typeDecl) []*typeDecl {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	simple := nameNode.Content(src)

	d := &typeDecl{scope: scope, outer: outer, line: int(n.StartPoint().Row) + 1}
	if outer != nil {
		d.name = outer.name + "." + simple
	} else {
		d.name = qualify(scope.pkg, simple)
	}

	mods := readModifiers(n, src)
	d.final = mods.has("final")
	d.abstract = mods.has("abstract")

	switch n.Type() {
	case "class_declaration":
		d.kind = model.KindClass
		d.superclass = "Object"
		if sc := n.ChildByFieldName("superclass"); sc != nil {
			if t := lastNamed(sc); t != nil {
				d.superclass = typeName(t, src)
			}
		}
	case "interface_declaration":
		d.kind = model.KindInterface
		d.abstract = true
	case "annotation_type_declaration":
		d.kind = model.KindAnnotation
		d.abstract = true
	case "enum_declaration":
		d.kind = model.KindEnum
		d.superclass = "Enum"
	case "record_declaration":
		d.kind = model.KindRecord
		d.final = true
		d.superclass = "Record"
	}

	d.interfaces = interfaceNames(n, src)
	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		for i := 0; i < int(tp.NamedChildCount()); i++ {
			p := tp.NamedChild(i)
			if id := firstNamedOfType(p, "type_identifier", "identifier"); id != nil {
				d.typeParams = append(d.typeParams, id.Content(src))
			}
		}
	}

	decls := []*typeDecl{d}
	body := n.ChildByFieldName("body")
	if body == nil {
		return decls
	}

	m := &members{decl: d, src: src, visibility: mods.visibility()}
	if d.kind == model.KindRecord {
		m.recordComponents(n.ChildByFieldName("parameters"))
	}
	nodes := bodyMembers(body)
	// Fields first: methods may assign fields declared below them.
	for _, c := range nodes {
		if c.Type() == "field_declaration" || c.Type() == "constant_declaration" {
			m.field(c)
		}
	}
	for _, c := range nodes {
		decls = append(decls, m.member(c, scope)...)
	}
	m.finish()
	return decls
}

// interfaceNames returns the raw names after implements, or after extends
// for interfaces.
func interfaceNames(n *sitter.Node, src []byte) []string {
	var list *sitter.Node
	if si := n.ChildByFieldName("interfaces"); si != nil {
		list = si
	} else {
		list = firstNamedOfType(n, "super_interfaces", "extends_interfaces")
	}
	if list == nil {
		return nil
	}
	if tl := firstNamedOfType(list, "type_list"); tl != nil {
		list = tl
	}
	var names []string
	for i := 0; i < int(list.NamedChildCount()); i++ {
		names = append(names, typeName(list.NamedChild(i), src))
	}
	return names
}

// bodyMembers lists the declarations of a type body, looking through the
// declarations section of an enum body.
func bodyMembers(body *sitter.Node) []*sitter.Node {
	var nodes []*sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c.Type() == "enum_body_declarations" {
			for j := 0; j < int(c.NamedChildCount()); j++ {
				nodes = append(nodes, c.NamedChild(j))
			}
			continue
		}
		nodes = append(nodes, c)
	}
	return nodes
}

// members accumulates the fields and methods of one type body.
type members struct {
	decl       *typeDecl
	src        []byte
	visibility model.Visibility

	// initializers are assignments made by field initializers and instance
	// initializer blocks; they run as part of every constructor.
	initializers []model.Assignment

	components   []string
	compact      *sitter.Node
	sawCanonical bool
}

func (m *members) member(n *sitter.Node, scope *fileScope) []*typeDecl {
	d := m.decl
	switch n.Type() {
	case "method_declaration":
		m.method(n)
	case "constructor_declaration":
		m.constructor(n)
	case "compact_constructor_declaration":
		m.compact = n
	case "block":
		m.initializers = append(m.initializers, scanAssignments(n, m.src, d.fieldSet(), nil, nil)...)
	default:
		if isTypeDeclaration(n) {
			return collectDecls(n, m.src, scope, d)
		}
	}
	return nil
}

func (m *members) field(n *sitter.Node) {
	d := m.decl
	mods := readModifiers(n, m.src)
	typ := n.ChildByFieldName("type")
	if typ == nil {
		return
	}
	base := typeName(typ, m.src)

	implicit := d.kind == model.KindInterface || d.kind == model.KindAnnotation
	for i := 0; i < int(n.NamedChildCount()); i++ {
		v := n.NamedChild(i)
		if v.Type() != "variable_declarator" {
			continue
		}
		name := v.ChildByFieldName("name")
		if name == nil {
			continue
		}
		f := rawField{
			name:       name.Content(m.src),
			typ:        base + dims(v.ChildByFieldName("dimensions"), m.src),
			final:      mods.has("final") || implicit,
			static:     mods.has("static") || implicit,
			visibility: mods.visibility(),
		}
		if implicit {
			f.visibility = model.VisibilityPublic
		}
		d.fields = append(d.fields, f)

		if value := v.ChildByFieldName("value"); value != nil && !f.static {
			m.initializers = append(m.initializers, model.Assignment{
				Field:  f.name,
				Origin: classifyOrigin(value, m.src, nil),
			})
		}
	}
}

func (m *members) method(n *sitter.Node) {
	d := m.decl
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}
	mods := readModifiers(n, m.src)
	params, names := readParams(n.ChildByFieldName("parameters"), m.src)

	meth := rawMethod{
		name:       name.Content(m.src),
		params:     params,
		static:     mods.has("static"),
		visibility: mods.visibility(),
	}
	if d.kind == model.KindInterface && meth.visibility == model.VisibilityPackage {
		meth.visibility = model.VisibilityPublic
	}
	if body := n.ChildByFieldName("body"); body != nil && !meth.static {
		meth.assigns = scanAssignments(body, m.src, d.fieldSet(), names, nil)
	}
	d.methods = append(d.methods, meth)
}

func (m *members) constructor(n *sitter.Node) {
	d := m.decl
	mods := readModifiers(n, m.src)
	params, names := readParams(n.ChildByFieldName("parameters"), m.src)

	ctor := rawMethod{
		name:        "<init>",
		params:      params,
		constructor: true,
		visibility:  mods.visibility(),
	}
	if d.kind == model.KindEnum {
		ctor.visibility = model.VisibilityPrivate
	}
	if body := n.ChildByFieldName("body"); body != nil {
		ctor.assigns = scanAssignments(body, m.src, d.fieldSet(), names, nil)
	}
	if d.kind == model.KindRecord && len(params) == len(m.components) {
		m.sawCanonical = true
	}
	d.methods = append(d.methods, ctor)
}

// recordComponents declares the private final fields of a record.
func (m *members) recordComponents(params *sitter.Node) {
	types, names := readParams(params, m.src)
	for i, name := range names {
		m.decl.fields = append(m.decl.fields, rawField{
			name:       name,
			typ:        types[i],
			final:      true,
			visibility: model.VisibilityPrivate,
		})
	}
	m.components = names
}

// finish adds implicit constructors and applies initializers.
func (m *members) finish() {
	d := m.decl

	if d.kind == model.KindRecord && !m.sawCanonical {
		var params []string
		for _, f := range d.fields[:len(m.components)] {
			params = append(params, f.typ)
		}
		ctor := rawMethod{name: "<init>", params: params, constructor: true, visibility: m.visibility}
		origins := make(map[string]model.Origin, len(m.components))
		for _, c := range m.components {
			origins[c] = model.OriginParameter
		}
		if m.compact != nil {
			if mods := readModifiers(m.compact, m.src); mods.explicitVisibility() {
				ctor.visibility = mods.visibility()
			}
			if body := m.compact.ChildByFieldName("body"); body != nil {
				ctor.assigns = scanAssignments(body, m.src, d.fieldSet(), m.components, origins)
			}
		}
		for _, c := range m.components {
			ctor.assigns = append(ctor.assigns, model.Assignment{Field: c, Origin: origins[c]})
		}
		d.methods = append(d.methods, ctor)
	}

	hasCtor := false
	for _, meth := range d.methods {
		if meth.constructor {
			hasCtor = true
			break
		}
	}
	if !hasCtor && (d.kind == model.KindClass || d.kind == model.KindEnum) {
		vis := m.visibility
		if d.kind == model.KindEnum {
			vis = model.VisibilityPrivate
		}
		d.methods = append(d.methods, rawMethod{name: "<init>", constructor: true, visibility: vis})
	}

	if len(m.initializers) == 0 {
		return
	}
	for i := range d.methods {
		if d.methods[i].constructor {
			d.methods[i].assigns = append(append([]model.Assignment(nil), m.initializers...), d.methods[i].assigns...)
		}
	}
}

func (d *typeDecl) fieldSet() map[string]bool {
	set := make(map[string]bool, len(d.fields))
	for _, f := range d.fields {
		set[f.name] = true
	}
	return set
}

// readParams returns the raw types and names of a formal parameter list.
func readParams(n *sitter.Node, src []byte) (types, names []string) {
	if n == nil {
		return nil, nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		p := n.NamedChild(i)
		switch p.Type() {
		case "formal_parameter":
			t := p.ChildByFieldName("type")
			name := p.ChildByFieldName("name")
			if t == nil || name == nil {
				continue
			}
			types = append(types, typeName(t, src)+dims(p.ChildByFieldName("dimensions"), src))
			names = append(names, name.Content(src))
		case "spread_parameter":
			var typ, name string
			for j := 0; j < int(p.NamedChildCount()); j++ {
				c := p.NamedChild(j)
				switch {
				case c.Type() == "variable_declarator":
					if id := c.ChildByFieldName("name"); id != nil {
						name = id.Content(src)
					}
				case c.Type() != "modifiers" && typ == "":
					typ = typeName(c, src)
				}
			}
			if typ != "" && name != "" {
				types = append(types, typ+"[]")
				names = append(names, name)
			}
		}
	}
	return types, names
}

type modifierSet map[string]bool

func readModifiers(n *sitter.Node, src []byte) modifierSet {
	set := make(modifierSet)
	mods := firstNamedOfType(n, "modifiers")
	if mods == nil {
		return set
	}
	for i := 0; i < int(mods.ChildCount()); i++ {
		c := mods.Child(i)
		if !c.IsNamed() {
			set[c.Type()] = true
		}
	}
	return set
}

func (s modifierSet) has(m string) bool {
	return s[m]
}

func (s modifierSet) explicitVisibility() bool {
	return s["public"] || s["protected"] || s["private"]
}

func (s modifierSet) visibility() model.Visibility {
	switch {
	case s["public"]:
		return model.VisibilityPublic
	case s["protected"]:
		return model.VisibilityProtected
	case s["private"]:
		return model.VisibilityPrivate
	}
	return model.VisibilityPackage
}

// typeName renders a type node as its erased source name: generic
// arguments and annotations are dropped, array dimensions kept.
func typeName(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "generic_type":
		if n.NamedChildCount() > 0 {
			return typeName(n.NamedChild(0), src)
		}
	case "array_type":
		elem := n.ChildByFieldName("element")
		if elem == nil {
			break
		}
		return typeName(elem, src) + dims(n.ChildByFieldName("dimensions"), src)
	case "annotated_type":
		if t := lastNamed(n); t != nil {
			return typeName(t, src)
		}
	}
	return stripGenerics(compact(n.Content(src)))
}

func dims(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return strings.Repeat("[]", strings.Count(n.Content(src), "["))
}

func stripGenerics(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>':
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func firstNamedOfType(n *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

func lastNamed(n *sitter.Node) *sitter.Node {
	count := int(n.NamedChildCount())
	if count == 0 {
		return nil
	}
	return n.NamedChild(count - 1)
}

func qualify(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}
