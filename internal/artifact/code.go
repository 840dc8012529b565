// Package artifact holds generated source files. A Code value is never
// modified in place: every edit returns a new Code, so earlier iterations
// stay intact in run history.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/contractforge/internal/contract"
)

// File is one generated file.
type File struct {
	Path      string             `json:"path"`
	Content   string             `json:"content"`
	Component contract.Component `json:"component"`
}

// Meta describes how a Code value was produced.
type Meta struct {
	GeneratedAt time.Time `json:"generated_at"`
	Targets     []string  `json:"targets"`
	// Origin is "generate", "correct" or "regenerate".
	Origin string `json:"origin,omitempty"`
}

// Code is an ordered, path-unique set of files.
type Code struct {
	Files []File `json:"files"`
	Meta  Meta   `json:"meta"`
}

// New builds a Code from files, sorting by path. Duplicate paths are an error.
func New(files []File, meta Meta) (Code, error) {
	out := make([]File, len(files))
	copy(out, files)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	for i := 1; i < len(out); i++ {
		if out[i].Path == out[i-1].Path {
			return Code{}, fmt.Errorf("duplicate generated path %q", out[i].Path)
		}
	}
	meta.Targets = append([]string(nil), meta.Targets...)
	return Code{Files: out, Meta: meta}, nil
}

// Get returns the file at path.
func (c Code) Get(path string) (File, bool) {
	i := sort.Search(len(c.Files), func(i int) bool { return c.Files[i].Path >= path })
	if i < len(c.Files) && c.Files[i].Path == path {
		return c.Files[i], true
	}
	return File{}, false
}

// Paths returns every path in order.
func (c Code) Paths() []string {
	out := make([]string, len(c.Files))
	for i, f := range c.Files {
		out[i] = f.Path
	}
	return out
}

// Clone returns a deep copy.
func (c Code) Clone() Code {
	files := make([]File, len(c.Files))
	copy(files, c.Files)
	meta := c.Meta
	meta.Targets = append([]string(nil), c.Meta.Targets...)
	return Code{Files: files, Meta: meta}
}

// Equal reports whether both values hold byte-identical files at identical
// paths. Metadata is ignored.
func (c Code) Equal(o Code) bool {
	if len(c.Files) != len(o.Files) {
		return false
	}
	for i := range c.Files {
		if c.Files[i].Path != o.Files[i].Path || c.Files[i].Content != o.Files[i].Content {
			return false
		}
	}
	return true
}

// Digest is a stable hash over paths and contents.
func (c Code) Digest() string {
	h := sha256.New()
	for _, f := range c.Files {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write([]byte(f.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lines returns the total number of lines across all files.
func (c Code) Lines() int {
	n := 0
	for _, f := range c.Files {
		n += strings.Count(f.Content, "\n")
	}
	return n
}

// Edit collects replacements and renames against a base Code and produces a
// new Code without touching the base.
type Edit struct {
	base    Code
	content map[string]string
	renames map[string]string
	added   map[string]File
}

// NewEdit starts an edit of base.
func NewEdit(base Code) *Edit {
	return &Edit{
		base:    base,
		content: make(map[string]string),
		renames: make(map[string]string),
		added:   make(map[string]File),
	}
}

// Content returns the current content of path, including pending edits.
func (e *Edit) Content(path string) (string, bool) {
	if s, ok := e.content[path]; ok {
		return s, true
	}
	if f, ok := e.added[path]; ok {
		return f.Content, true
	}
	f, ok := e.base.Get(path)
	return f.Content, ok
}

// Set replaces the content of path. Unknown paths are added as new files of
// the given component.
func (e *Edit) Set(path, content string, component contract.Component) {
	if _, ok := e.base.Get(path); ok {
		e.content[path] = content
		return
	}
	e.added[path] = File{Path: path, Content: content, Component: component}
}

// Rename moves from to to. It fails when to is already taken.
func (e *Edit) Rename(from, to string) error {
	if _, ok := e.base.Get(from); !ok {
		return fmt.Errorf("rename %q: no such file", from)
	}
	if _, ok := e.base.Get(to); ok {
		return fmt.Errorf("rename %q -> %q: target exists", from, to)
	}
	for _, dst := range e.renames {
		if dst == to {
			return fmt.Errorf("rename %q -> %q: target exists", from, to)
		}
	}
	e.renames[from] = to
	return nil
}

// Touched returns the base paths that were changed, renamed, plus added paths, sorted.
func (e *Edit) Touched() []string {
	seen := make(map[string]bool)
	for p := range e.content {
		seen[p] = true
	}
	for p := range e.renames {
		seen[p] = true
	}
	for p := range e.added {
		seen[p] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Apply builds the edited Code.
func (e *Edit) Apply(meta Meta) (Code, error) {
	files := make([]File, 0, len(e.base.Files)+len(e.added))
	for _, f := range e.base.Files {
		if s, ok := e.content[f.Path]; ok {
			f.Content = s
		}
		if to, ok := e.renames[f.Path]; ok {
			f.Path = to
		}
		files = append(files, f)
	}
	for _, f := range e.added {
		files = append(files, f)
	}
	return New(files, meta)
}
