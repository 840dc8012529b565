package artifact

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/fsutil"
)

// WriteDir materializes every file of code under dir. Paths that would
// escape dir are refused.
func WriteDir(dir string, code Code) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	for _, f := range code.Files {
		target := filepath.Join(absDir, filepath.FromSlash(f.Path))
		if target != absDir && !strings.HasPrefix(target, absDir+string(filepath.Separator)) {
			return fmt.Errorf("path %q escapes %s", f.Path, dir)
		}
		if err := fsutil.WriteAtomic(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}

// LoadDir reads every regular file under dir into a Code value. The
// component of each file is taken from its first path segment.
func LoadDir(dir string) (Code, error) {
	var files []File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		files = append(files, File{Path: rel, Content: string(data), Component: ComponentOf(rel)})
		return nil
	})
	if err != nil {
		return Code{}, fmt.Errorf("load %s: %w", dir, err)
	}
	return New(files, Meta{Origin: "load"})
}

// ComponentOf guesses the component from the first path segment.
func ComponentOf(path string) contract.Component {
	first, _, _ := strings.Cut(strings.TrimLeft(path, "/"), "/")
	for _, c := range contract.Components {
		if string(c) == first {
			return c
		}
	}
	return contract.ComponentDocs
}
