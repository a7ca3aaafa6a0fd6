// Package diff finds the files touched by a git change.
package diff

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// File is a single file changed by a diff.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	IsBinary     bool
	AddedLines   int
	DeletedLines int
}

// Name returns the path of the file after the change, or its old path if
// the change deletes it.
func (f *File) Name() string {
	if f.IsDeleted || f.NewName == "" {
		return f.OldName
	}
	return f.NewName
}

// DiffSet holds the parsed diff for all files.
type DiffSet struct {
	Files []*File
}

// Stats returns aggregate statistics.
func (ds *DiffSet) Stats() (files, added, deleted int) {
	files = len(ds.Files)
	for _, f := range ds.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// Parse reads a unified diff.
func Parse(r io.Reader) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{}
	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
		}
		for _, frag := range f.TextFragments {
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					df.AddedLines++
				case gitdiff.OpDelete:
					df.DeletedLines++
				}
			}
		}
		ds.Files = append(ds.Files, df)
	}
	return ds, nil
}

// JavaFiles returns the Java sources that still exist after the change.
func (ds *DiffSet) JavaFiles() []string {
	var paths []string
	for _, f := range ds.Files {
		if f.IsDeleted || f.IsBinary {
			continue
		}
		if strings.HasSuffix(f.Name(), ".java") {
			paths = append(paths, f.Name())
		}
	}
	return paths
}

// Touches returns a predicate reporting whether a file path is one of the
// changed paths. Changed paths are relative to the repository root, so a
// path matches when it ends with one of them on a separator boundary.
func Touches(changed []string) func(path string) bool {
	suffixes := make([]string, 0, len(changed))
	for _, c := range changed {
		suffixes = append(suffixes, filepath.ToSlash(filepath.Clean(c)))
	}
	return func(path string) bool {
		p := filepath.ToSlash(filepath.Clean(path))
		for _, s := range suffixes {
			if p == s || strings.HasSuffix(p, "/"+s) {
				return true
			}
		}
		return false
	}
}

// Git runs `git diff` with the given arguments in dir and returns the raw
// output.
func Git(ctx context.Context, dir string, args ...string) (string, error) {
	cmdArgs := append([]string{"diff", "--no-color"}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git diff: %w: %s", err, msg)
		}
		return "", fmt.Errorf("git diff: %w", err)
	}
	return string(out), nil
}
