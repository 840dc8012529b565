package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// tagRe matches {{#if name}}, {{/if}} and {{name}}.
var tagRe = regexp.MustCompile(`\{\{(?:#if\s+([a-zA-Z_]\w*)\s*|(/if)|([a-zA-Z_]\w*))\}\}`)

// Vars holds the values a prompt template refers to.
type Vars map[string]string

// Render fills a prompt template in one pass. {{name}} becomes the value of
// name, and an unset name is an error. {{#if name}}...{{/if}} keeps its body
// only when name is non-empty, and blocks nest. Names inside a dropped block
// are not required. Values are written as is and never rescanned.
func Render(tmpl string, vars Vars) (string, error) {
	type block struct {
		tag  string
		keep bool
	}
	var (
		b       strings.Builder
		open    []block
		missing []string
		last    int
	)
	keeping := func() bool { return len(open) == 0 || open[len(open)-1].keep }

	for _, loc := range tagRe.FindAllStringSubmatchIndex(tmpl, -1) {
		if keeping() {
			b.WriteString(tmpl[last:loc[0]])
		}
		last = loc[1]

		switch {
		case loc[2] >= 0:
			name := tmpl[loc[2]:loc[3]]
			open = append(open, block{tag: tmpl[loc[0]:loc[1]], keep: keeping() && vars[name] != ""})
		case loc[4] >= 0:
			if len(open) == 0 {
				return "", fmt.Errorf("dangling {{/if}} at offset %d", loc[0])
			}
			open = open[:len(open)-1]
		default:
			if !keeping() {
				continue
			}
			name := tmpl[loc[6]:loc[7]]
			v, ok := vars[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			b.WriteString(v)
		}
	}
	if len(open) > 0 {
		return "", fmt.Errorf("unclosed conditional block: %s", open[len(open)-1].tag)
	}
	b.WriteString(tmpl[last:])

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return b.String(), nil
}

// LoadTemplate returns the named template. A file of that name in dir
// overrides the built-in one; dir may be empty.
func LoadTemplate(name string, dir string) (string, error) {
	if dir != "" {
		projectPath := filepath.Join(dir, name)
		// Prevent path traversal: resolved path must be within dir
		absProject, err := filepath.Abs(projectPath)
		if err == nil {
			absDir, err2 := filepath.Abs(dir)
			if err2 == nil && !strings.HasPrefix(absProject, absDir+string(filepath.Separator)) {
				return "", fmt.Errorf("template path %q escapes %s", name, dir)
			}
		}
		if data, err := os.ReadFile(projectPath); err == nil {
			return string(data), nil
		}
	}

	if s, ok := builtinTemplates[name]; ok {
		return s, nil
	}
	return "", fmt.Errorf("template %q not found", name)
}

// Names returns the built-in template names, sorted.
func Names() []string {
	out := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// InstallBuiltinTemplates writes the built-in templates into dir so they can
// be edited. Existing files are left alone.
func InstallBuiltinTemplates(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create templates dir: %w", err)
	}

	for name, content := range builtinTemplates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue // don't overwrite existing
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write template %q: %w", name, err)
		}
	}
	return nil
}
