package correct

import (
	"fmt"
	"go/format"
	"sort"
	"strconv"
	"strings"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/feedback"
)

// Fix hints for findings resolved by removing lines. A span runs from
// Issue.Line to Issue.EndLine.
const (
	deleteLineFix = "delete-line"
	deleteSpanFix = "delete-span"
)

// fixPlan groups the deterministic edits for one file.
type fixPlan struct {
	deletes []int    // 1-based lines
	imports []string // import paths to add
	rename  string   // normalized path
}

// applyDeterministic applies every fixer it can to e and returns the issues
// it resolved. Only files named by an issue are touched.
func applyDeterministic(e *artifact.Edit, fb feedback.Feedback) map[int]bool {
	resolved := make(map[int]bool)
	plans := make(map[string]*fixPlan)
	plan := func(file string) *fixPlan {
		p, ok := plans[file]
		if !ok {
			p = &fixPlan{}
			plans[file] = p
		}
		return p
	}

	for i, is := range fb {
		if is.File == "" {
			continue
		}
		src, ok := e.Content(is.File)
		if !ok {
			continue
		}
		switch is.Kind {
		case checks.KindDuplicateDeclaration, checks.KindUnusedImport:
			switch {
			case is.Line <= 0:
			case is.SuggestedFix == deleteLineFix:
				p := plan(is.File)
				p.deletes = append(p.deletes, is.Line)
				resolved[i] = true
			case is.SuggestedFix == deleteSpanFix && is.EndLine >= is.Line:
				p := plan(is.File)
				for n := leadingCommentStart(src, is.Line); n <= is.EndLine; n++ {
					p.deletes = append(p.deletes, n)
				}
				resolved[i] = true
			}
		case checks.KindMissingImport:
			if is.SuggestedFix != "" && strings.HasSuffix(is.File, ".go") {
				p := plan(is.File)
				p.imports = append(p.imports, is.SuggestedFix)
				resolved[i] = true
			}
		case checks.KindMalformedPath:
			if is.SuggestedFix != "" && is.SuggestedFix != is.File {
				plan(is.File).rename = is.SuggestedFix
				resolved[i] = true
			}
		case checks.KindSyntax, checks.KindAssertion, checks.KindOpenAPI, checks.KindTest,
			checks.KindQuality, checks.KindSecurity, checks.KindRuntime, checks.KindStageFailure:
			// No deterministic fix.
		}
	}

	files := make([]string, 0, len(plans))
	for f := range plans {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, file := range files {
		p := plans[file]
		content, _ := e.Content(file)
		changed := false
		if len(p.deletes) > 0 {
			content = deleteLines(content, p.deletes)
			changed = true
		}
		if len(p.imports) > 0 {
			next, err := addGoImports(content, p.imports)
			if err != nil {
				unresolve(resolved, fb, file, checks.KindMissingImport)
			} else {
				content = next
				changed = true
			}
		}
		if changed {
			if strings.HasSuffix(file, ".go") {
				if formatted, err := format.Source([]byte(content)); err == nil {
					content = string(formatted)
				}
			}
			e.Set(file, content, artifact.ComponentOf(file))
		}
		if p.rename != "" {
			if err := e.Rename(file, p.rename); err != nil {
				unresolve(resolved, fb, file, checks.KindMalformedPath)
			}
		}
	}
	return resolved
}

func unresolve(resolved map[int]bool, fb feedback.Feedback, file string, kind checks.Kind) {
	for i, is := range fb {
		if is.File == file && is.Kind == kind {
			delete(resolved, i)
		}
	}
}

// deleteLines removes the given 1-based lines. Out-of-range and repeated
// line numbers are ignored.
func deleteLines(content string, lines []int) string {
	drop := make(map[int]bool, len(lines))
	for _, n := range lines {
		drop[n] = true
	}
	src := strings.Split(content, "\n")
	out := make([]string, 0, len(src))
	for i, l := range src {
		if !drop[i+1] {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// leadingCommentStart returns the first line of the comment block that ends
// directly above the 1-based line, or line itself when there is none.
func leadingCommentStart(content string, line int) int {
	src := strings.Split(content, "\n")
	start := line
	for start > 1 && start-2 < len(src) {
		t := strings.TrimSpace(src[start-2])
		if !strings.HasPrefix(t, "//") && !strings.HasPrefix(t, "--") {
			break
		}
		start--
	}
	return start
}

// addGoImports inserts import paths into a Go source file: into the first
// parenthesized import block, next to a single-line import, or after the
// package clause.
func addGoImports(src string, paths []string) (string, error) {
	sort.Strings(paths)
	var specs []string
	seen := make(map[string]bool)
	for _, p := range paths {
		q := strconv.Quote(p)
		if seen[p] || strings.Contains(src, "\t"+q+"\n") || strings.Contains(src, "import "+q) {
			continue
		}
		seen[p] = true
		specs = append(specs, q)
	}
	if len(specs) == 0 {
		return src, nil
	}

	lines := strings.Split(src, "\n")
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if t == "import (" {
			ins := make([]string, len(specs))
			for j, s := range specs {
				ins[j] = "\t" + s
			}
			return joinAt(lines, i+1, ins), nil
		}
		if rest, ok := strings.CutPrefix(t, "import "); ok && strings.HasPrefix(rest, `"`) {
			block := []string{"import ("}
			block = append(block, "\t"+rest)
			for _, s := range specs {
				block = append(block, "\t"+s)
			}
			block = append(block, ")")
			return strings.Join(append(append(append([]string{}, lines[:i]...), block...), lines[i+1:]...), "\n"), nil
		}
	}
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "package ") {
			block := []string{"", "import ("}
			for _, s := range specs {
				block = append(block, "\t"+s)
			}
			block = append(block, ")")
			return joinAt(lines, i+1, block), nil
		}
	}
	return "", fmt.Errorf("no package clause")
}

func joinAt(lines []string, at int, ins []string) string {
	out := make([]string, 0, len(lines)+len(ins))
	out = append(out, lines[:at]...)
	out = append(out, ins...)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n")
}
