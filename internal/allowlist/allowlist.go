// Package allowlist holds the fixed verdict overrides for types whose real
// immutability cannot be derived from their structure.
package allowlist

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/mutacheck/internal/model"
)

//go:embed allowlist.yaml
var defaultTable []byte

// Entry forces a verdict for one exact type name.
type Entry struct {
	Type    string
	Verdict model.Verdict
	Note    string
}

// Table is an immutable set of entries keyed by type name.
type Table struct {
	version int
	entries map[string]Entry
}

type fileEntry struct {
	Type    string `yaml:"type"`
	Verdict string `yaml:"verdict"`
	Note    string `yaml:"note,omitempty"`
}

type file struct {
	Version int         `yaml:"version"`
	Entries []fileEntry `yaml:"entries"`
}

// Default returns the built-in table.
func Default() *Table {
	t, err := parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded allow-list: %v", err))
	}
	return t
}

// Load reads a table from r.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading allow-list: %w", err)
	}
	return parse(data)
}

// LoadFile reads a table from the named file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading allow-list: %w", err)
	}
	t, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding allow-list: %w", err)
	}
	if f.Version < 1 {
		return nil, fmt.Errorf("allow-list version must be positive, got %d", f.Version)
	}

	t := &Table{version: f.Version, entries: make(map[string]Entry, len(f.Entries))}
	for i, fe := range f.Entries {
		if fe.Type == "" {
			return nil, fmt.Errorf("entry %d: missing type", i)
		}
		if _, dup := t.entries[fe.Type]; dup {
			return nil, fmt.Errorf("entry %d: duplicate type %q", i, fe.Type)
		}
		v, err := model.ParseVerdict(fe.Verdict)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, fe.Type, err)
		}
		t.entries[fe.Type] = Entry{Type: fe.Type, Verdict: v, Note: fe.Note}
	}
	return t, nil
}

// Version returns the table version.
func (t *Table) Version() int {
	return t.version
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Lookup returns the entry for an exact type name.
func (t *Table) Lookup(typ string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[typ]
	return e, ok
}

// Entries returns all entries sorted by type name.
func (t *Table) Entries() []Entry {
	entries := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Type < entries[j].Type
	})
	return entries
}

// Merge returns a new table with other's entries layered over t's.
// The result carries the higher of the two versions.
func (t *Table) Merge(other *Table) *Table {
	merged := &Table{version: t.version, entries: make(map[string]Entry, len(t.entries)+len(other.entries))}
	for k, e := range t.entries {
		merged.entries[k] = e
	}
	for k, e := range other.entries {
		merged.entries[k] = e
	}
	if other.version > merged.version {
		merged.version = other.version
	}
	return merged
}
