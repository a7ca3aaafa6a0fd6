// Package javasrc builds class models from Java source trees using
// tree-sitter.
package javasrc

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sprite-ai/mutacheck/internal/model"
	"github.com/sprite-ai/mutacheck/internal/provider"
)

// javaLang lists the java.lang types visible without an import.
var javaLang = map[string]bool{
	"Appendable": true, "AutoCloseable": true, "Boolean": true, "Byte": true,
	"CharSequence": true, "Character": true, "Class": true, "Cloneable": true,
	"Comparable": true, "Double": true, "Enum": true, "Error": true,
	"Exception": true, "Float": true, "Integer": true, "Iterable": true,
	"Long": true, "Math": true, "Number": true, "Object": true,
	"Record": true, "Runnable": true, "RuntimeException": true, "Short": true,
	"String": true, "StringBuffer": true, "StringBuilder": true, "System": true,
	"Thread": true, "Throwable": true, "Void": true,
}

// platformTypes maps well-known library types to their packages so that
// wildcard imports of those packages resolve without the library sources.
var platformTypes = map[string][]string{
	"java.util": {
		"ArrayList", "Collection", "Collections", "Date", "Deque", "HashMap",
		"HashSet", "Iterator", "LinkedHashMap", "LinkedList", "List", "Map",
		"Optional", "Queue", "Set", "SortedMap", "TreeMap", "TreeSet", "UUID",
	},
	"java.math": {"BigDecimal", "BigInteger"},
	"java.time": {"Duration", "Instant", "LocalDate", "LocalDateTime", "ZonedDateTime"},
	"java.io":   {"File", "InputStream", "OutputStream", "Reader", "Serializable", "Writer"},
}

// Provider serves class models for every type declared under a set of
// source roots. It is immutable after Load and safe for concurrent use.
type Provider struct {
	types  map[string]*typeDecl
	broken map[string]error
	byFile map[string][]string
	files  int
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	logger  *slog.Logger
	workers int
}

// WithLogger sets the logger used while loading.
func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithConcurrency bounds how many files are parsed at once.
func WithConcurrency(n int) Option {
	return func(l *loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// Load parses every .java file under roots. Files that fail to parse do not
// fail the load; the types they declare are reported as unreadable.
func Load(ctx context.Context, roots []string, opts ...Option) (*Provider, error) {
	l := &loader{logger: slog.Default(), workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(l)
	}

	var paths []string
	for _, root := range roots {
		found, err := javaFiles(root)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}
	sort.Strings(paths)

	parsed := make([]*parsedFile, len(paths))
	failures := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := os.ReadFile(path)
			if err != nil {
				failures[i] = err
				return nil
			}
			f, err := parseFile(gctx, path, src)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures[i] = err
				return nil
			}
			parsed[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := &Provider{
		types:  make(map[string]*typeDecl),
		broken: make(map[string]error),
		byFile: make(map[string][]string),
		files:  len(paths),
	}
	for i, path := range paths {
		if failures[i] != nil {
			name := primaryName(roots, path)
			l.logger.Warn("java source unreadable", slog.String("path", path), slog.String("error", failures[i].Error()))
			p.markBroken(name, failures[i])
			p.byFile[path] = []string{name}
			continue
		}
		p.add(parsed[i], l.logger)
	}

	l.logger.Debug("java sources loaded",
		slog.Int("files", p.files),
		slog.Int("types", len(p.types)),
		slog.Int("unreadable", len(p.broken)))
	return p, nil
}

func javaFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		if strings.HasSuffix(root, ".java") {
			return []string{root}, nil
		}
		return nil, fmt.Errorf("source root %s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".java") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return paths, nil
}

// primaryName derives a class name from a path relative to its source root,
// for files whose package declaration could not be read.
func primaryName(roots []string, path string) string {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = strings.TrimSuffix(rel, ".java")
		return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
	}
	return strings.TrimSuffix(filepath.Base(path), ".java")
}

func (p *Provider) add(f *parsedFile, logger *slog.Logger) {
	path := f.scope.path
	for _, d := range f.decls {
		p.byFile[path] = append(p.byFile[path], d.name)
	}
	if f.syntaxErr != nil {
		logger.Warn("java source has syntax errors", slog.String("path", f.scope.path), slog.String("error", f.syntaxErr.Error()))
		p.markBroken(f.primaryName(), f.syntaxErr)
		if len(f.decls) == 0 {
			p.byFile[path] = []string{f.primaryName()}
		}
		for _, d := range f.decls {
			p.markBroken(d.name, f.syntaxErr)
		}
		return
	}
	for _, d := range f.decls {
		if prev, ok := p.types[d.name]; ok {
			logger.Warn("duplicate type declaration",
				slog.String("class", d.name),
				slog.String("kept", fmt.Sprintf("%s:%d", prev.scope.path, prev.line)),
				slog.String("ignored", fmt.Sprintf("%s:%d", d.scope.path, d.line)))
			continue
		}
		p.types[d.name] = d
	}
}

func (p *Provider) markBroken(name string, err error) {
	if _, ok := p.broken[name]; !ok {
		p.broken[name] = err
	}
}

// Names returns every declared type name, sorted.
func (p *Provider) Names() []string {
	names := make([]string, 0, len(p.types))
	for name := range p.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamesIn returns the types declared in the source files accepted by match,
// sorted. Types of unreadable files are included.
func (p *Provider) NamesIn(match func(path string) bool) []string {
	seen := make(map[string]bool)
	var names []string
	for path, declared := range p.byFile {
		if !match(path) {
			continue
		}
		for _, name := range declared {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of declared types.
func (p *Provider) Len() int {
	return len(p.types)
}

// Files returns the number of source files scanned.
func (p *Provider) Files() int {
	return p.files
}

// Model implements provider.Provider.
func (p *Provider) Model(ctx context.Context, name string) (*model.Class, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d, ok := p.types[name]; ok {
		return p.toModel(d), nil
	}
	if err, ok := p.broken[name]; ok {
		return nil, provider.Unreadable(name, err)
	}
	return nil, provider.NotFound(name)
}

func (p *Provider) toModel(d *typeDecl) *model.Class {
	cls := &model.Class{
		Name:     d.name,
		Kind:     d.kind,
		Final:    d.final,
		Abstract: d.abstract,
	}
	if d.superclass != "" {
		cls.Superclass = p.resolve(d, d.superclass)
	}
	for _, iface := range d.interfaces {
		cls.Interfaces = append(cls.Interfaces, p.resolve(d, iface))
	}
	for _, f := range d.fields {
		cls.Fields = append(cls.Fields, model.Field{
			Name:       f.name,
			Type:       p.resolve(d, f.typ),
			Final:      f.final,
			Static:     f.static,
			Visibility: f.visibility,
		})
	}
	for _, m := range d.methods {
		meth := model.Method{
			Name:        m.name,
			Constructor: m.constructor,
			Static:      m.static,
			Visibility:  m.visibility,
			Assigns:     append([]model.Assignment(nil), m.assigns...),
		}
		for _, param := range m.params {
			meth.Params = append(meth.Params, p.resolve(d, param))
		}
		cls.Methods = append(cls.Methods, meth)
	}
	return cls
}

// resolve turns a type as written in d's source into a qualified name.
func (p *Provider) resolve(d *typeDecl, typ string) string {
	base := strings.TrimRight(typ, "[]")
	suffix := typ[len(base):]
	if base == "" || model.IsPrimitive(base) {
		return typ
	}

	head, rest, dotted := strings.Cut(base, ".")
	if dotted && startsLower(head) {
		// Already qualified.
		return typ
	}
	resolved := p.resolveSimple(d, head)
	if dotted {
		resolved += "." + rest
	}
	return resolved + suffix
}

func (p *Provider) resolveSimple(d *typeDecl, simple string) string {
	for e := d; e != nil; e = e.outer {
		for _, tp := range e.typeParams {
			if tp == simple {
				return "java.lang.Object"
			}
		}
		if e.simpleName() == simple {
			return e.name
		}
		if _, ok := p.types[e.name+"."+simple]; ok {
			return e.name + "." + simple
		}
	}

	scope := d.scope
	if q, ok := scope.imports[simple]; ok {
		return q
	}
	if q := qualify(scope.pkg, simple); p.declared(q) {
		return q
	}
	for _, w := range scope.wildcards {
		if q := w + "." + simple; p.declared(q) || isPlatformType(w, simple) {
			return q
		}
	}
	if javaLang[simple] {
		return "java.lang." + simple
	}
	if len(scope.wildcards) == 1 {
		return scope.wildcards[0] + "." + simple
	}
	return qualify(scope.pkg, simple)
}

func (p *Provider) declared(name string) bool {
	if _, ok := p.types[name]; ok {
		return true
	}
	_, ok := p.broken[name]
	return ok
}

func isPlatformType(pkg, simple string) bool {
	for _, t := range platformTypes[pkg] {
		if t == simple {
			return true
		}
	}
	return false
}

func startsLower(s string) bool {
	return s != "" && s[0] >= 'a' && s[0] <= 'z'
}

var _ provider.Provider = (*Provider)(nil)
