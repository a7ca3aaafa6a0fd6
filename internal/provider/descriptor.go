package provider

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/mutacheck/internal/model"
)

// descriptorValidate checks decoded descriptors before they become models.
var descriptorValidate = validator.New()

// DescriptorFile is the on-disk YAML form of one or more class models.
//
//	classes:
//	  - name: com.example.Point
//	    final: true
//	    fields:
//	      - {name: x, type: int, final: true, visibility: private}
//	    methods:
//	      - name: <init>
//	        constructor: true
//	        params: [int]
//	        assigns:
//	          - {field: x, origin: parameter}
type DescriptorFile struct {
	Classes []ClassDescriptor `yaml:"classes" validate:"dive"`
}

// ClassDescriptor describes a single class.
type ClassDescriptor struct {
	Name       string             `yaml:"name" validate:"required"`
	Kind       string             `yaml:"kind" validate:"omitempty,oneof=class interface enum record annotation"`
	Final      bool               `yaml:"final"`
	Abstract   bool               `yaml:"abstract"`
	Superclass string             `yaml:"superclass,omitempty"`
	Interfaces []string           `yaml:"interfaces,omitempty"`
	Fields     []FieldDescriptor  `yaml:"fields,omitempty" validate:"dive"`
	Methods    []MethodDescriptor `yaml:"methods,omitempty" validate:"dive"`
}

// FieldDescriptor describes a declared field.
type FieldDescriptor struct {
	Name       string `yaml:"name" validate:"required"`
	Type       string `yaml:"type" validate:"required"`
	Final      bool   `yaml:"final"`
	Static     bool   `yaml:"static"`
	Visibility string `yaml:"visibility,omitempty" validate:"omitempty,oneof=private protected public package"`
}

// MethodDescriptor describes a method or constructor.
type MethodDescriptor struct {
	Name        string                 `yaml:"name" validate:"required"`
	Params      []string               `yaml:"params,omitempty"`
	Constructor bool                   `yaml:"constructor"`
	Static      bool                   `yaml:"static"`
	Visibility  string                 `yaml:"visibility,omitempty" validate:"omitempty,oneof=private protected public package"`
	Assigns     []AssignmentDescriptor `yaml:"assigns,omitempty" validate:"dive"`
}

// AssignmentDescriptor describes a field write.
type AssignmentDescriptor struct {
	Field  string `yaml:"field" validate:"required"`
	Origin string `yaml:"origin,omitempty" validate:"omitempty,oneof=unknown constructed parameter wrapped copied"`
}

// ToModel converts the descriptor into a class model.
func (d ClassDescriptor) ToModel() (*model.Class, error) {
	if err := descriptorValidate.Struct(d); err != nil {
		return nil, err
	}

	kind, _ := model.ParseKind(d.Kind)
	c := &model.Class{
		Name:       d.Name,
		Kind:       kind,
		Final:      d.Final,
		Abstract:   d.Abstract,
		Superclass: d.Superclass,
		Interfaces: d.Interfaces,
	}
	if c.Superclass == "" && kind == model.KindClass && d.Name != "java.lang.Object" {
		c.Superclass = "java.lang.Object"
	}

	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		c.Fields = append(c.Fields, model.Field{
			Name:       f.Name,
			Type:       f.Type,
			Final:      f.Final,
			Static:     f.Static,
			Visibility: model.ParseVisibility(f.Visibility),
		})
	}

	for _, m := range d.Methods {
		method := model.Method{
			Name:        m.Name,
			Params:      m.Params,
			Constructor: m.Constructor || m.Name == "<init>",
			Static:      m.Static,
			Visibility:  model.ParseVisibility(m.Visibility),
		}
		for _, a := range m.Assigns {
			if !seen[a.Field] {
				return nil, fmt.Errorf("method %s assigns undeclared field %q", m.Name, a.Field)
			}
			method.Assigns = append(method.Assigns, model.Assignment{
				Field:  a.Field,
				Origin: model.ParseOrigin(a.Origin),
			})
		}
		c.Methods = append(c.Methods, method)
	}

	return c, nil
}

// DecodeDescriptors reads every YAML document in r.
func DecodeDescriptors(r io.Reader) ([]ClassDescriptor, error) {
	dec := yaml.NewDecoder(r)
	var classes []ClassDescriptor
	for {
		var file DescriptorFile
		err := dec.Decode(&file)
		if errors.Is(err, io.EOF) {
			return classes, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding descriptors: %w", err)
		}
		classes = append(classes, file.Classes...)
	}
}

// DescriptorProvider serves models declared in YAML descriptor files.
type DescriptorProvider struct {
	classes map[string]*model.Class
	broken  map[string]error
}

// NewDescriptorProvider loads every *.yaml and *.yml file under the given
// directories.
func NewDescriptorProvider(dirs ...string) (*DescriptorProvider, error) {
	p := newDescriptorProvider()
	for _, dir := range dirs {
		if err := p.load(os.DirFS(dir), "."); err != nil {
			return nil, fmt.Errorf("loading descriptors from %s: %w", dir, err)
		}
	}
	return p, nil
}

// LoadDescriptorFS loads descriptors under root in fsys.
func LoadDescriptorFS(fsys fs.FS, root string) (*DescriptorProvider, error) {
	p := newDescriptorProvider()
	if err := p.load(fsys, root); err != nil {
		return nil, err
	}
	return p, nil
}

func newDescriptorProvider() *DescriptorProvider {
	return &DescriptorProvider{
		classes: make(map[string]*model.Class),
		broken:  make(map[string]error),
	}
}

func (p *DescriptorProvider) load(fsys fs.FS, root string) error {
	return fs.WalkDir(fsys, root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := path.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}

		descs, err := DecodeDescriptors(bytes.NewReader(data))
		if err != nil {
			// The file could not be decoded at all; by convention a file
			// named after a class stands for that class.
			p.broken[strings.TrimSuffix(path.Base(name), ext)] = fmt.Errorf("%s: %w", name, err)
			return nil
		}

		for _, desc := range descs {
			cls, err := desc.ToModel()
			if err != nil {
				p.broken[desc.Name] = fmt.Errorf("%s: %w", name, err)
				continue
			}
			p.classes[cls.Name] = cls
		}
		return nil
	})
}

// Names returns the readable class names, sorted.
func (p *DescriptorProvider) Names() []string {
	names := make([]string, 0, len(p.classes))
	for name := range p.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of readable classes.
func (p *DescriptorProvider) Len() int {
	return len(p.classes)
}

func (p *DescriptorProvider) Model(ctx context.Context, name string) (*model.Class, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := p.broken[name]; ok {
		return nil, Unreadable(name, err)
	}
	c, ok := p.classes[name]
	if !ok {
		return nil, NotFound(name)
	}
	return c, nil
}

//go:embed jdk/*.yaml
var jdkFS embed.FS

// JDK returns descriptors for the handful of platform classes the analysis
// commonly reaches through field types.
func JDK() *DescriptorProvider {
	p, err := LoadDescriptorFS(jdkFS, "jdk")
	if err != nil {
		panic(fmt.Sprintf("embedded jdk descriptors: %v", err))
	}
	return p
}
