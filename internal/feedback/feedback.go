// Package feedback turns a pipeline result into a deduplicated,
// severity-ordered list of issues a corrector can act on.
package feedback

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lucasnoah/contractforge/internal/checks"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityError:
		return 1
	default:
		return 2
	}
}

// Issue is one actionable finding.
type Issue struct {
	Severity     Severity    `json:"severity"`
	Stage        string      `json:"stage"`
	Kind         checks.Kind `json:"kind"`
	File         string      `json:"file,omitempty"`
	Line         int         `json:"line,omitempty"`
	EndLine      int         `json:"end_line,omitempty"`
	Message      string      `json:"message"`
	SuggestedFix string      `json:"suggested_fix,omitempty"`
	// AlsoReportedBy lists the other stages that found the same problem.
	AlsoReportedBy []string `json:"also_reported_by,omitempty"`
}

func (i Issue) String() string {
	loc := i.File
	if loc != "" && i.Line > 0 {
		loc = fmt.Sprintf("%s:%d", i.File, i.Line)
	}
	if loc != "" {
		loc += ": "
	}
	return fmt.Sprintf("[%s] %s: %s%s", i.Severity, i.Stage, loc, i.Message)
}

// Blocking reports whether the issue prevents acceptance or is an error the
// corrector should attempt.
func (i Issue) Blocking() bool {
	return i.Severity != SeverityWarning
}

// Feedback is an ordered list of issues.
type Feedback []Issue

// Count returns the number of issues.
func (f Feedback) Count() int { return len(f) }

// CountSeverity returns how many issues have severity s.
func (f Feedback) CountSeverity(s Severity) int {
	n := 0
	for _, i := range f {
		if i.Severity == s {
			n++
		}
	}
	return n
}

// Files returns the distinct files the issues reference, sorted.
func (f Feedback) Files() []string {
	seen := make(map[string]bool)
	var out []string
	for _, i := range f {
		if i.File != "" && !seen[i.File] {
			seen[i.File] = true
			out = append(out, i.File)
		}
	}
	sort.Strings(out)
	return out
}

// ForFile returns the issues that reference path.
func (f Feedback) ForFile(path string) Feedback {
	var out Feedback
	for _, i := range f {
		if i.File == path {
			out = append(out, i)
		}
	}
	return out
}

// Render formats the feedback as a bullet list grouped by severity.
func (f Feedback) Render() string {
	if len(f) == 0 {
		return "No issues."
	}
	var b strings.Builder
	var current Severity
	for _, i := range f {
		if i.Severity != current {
			if current != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s:\n", strings.ToUpper(string(i.Severity)))
			current = i.Severity
		}
		b.WriteString("- ")
		if i.File != "" {
			b.WriteString(i.File)
			if i.Line > 0 {
				fmt.Fprintf(&b, ":%d", i.Line)
			}
			b.WriteString(": ")
		}
		fmt.Fprintf(&b, "%s (%s", i.Message, i.Stage)
		if len(i.AlsoReportedBy) > 0 {
			fmt.Fprintf(&b, ", also %s", strings.Join(i.AlsoReportedBy, ", "))
		}
		b.WriteString(")")
		if i.SuggestedFix != "" {
			fmt.Fprintf(&b, "\n  suggested fix: %s", i.SuggestedFix)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var positionPrefixRe = regexp.MustCompile(`^(?:[\w./-]+:)?\d+(?::\d+)?:\s*`)

// normalize reduces a message to the form used for merging. Position
// prefixes such as "a.go:12:3:" and "12:" are dropped.
func normalize(msg string) string {
	s := strings.ToLower(strings.Join(strings.Fields(msg), " "))
	return positionPrefixRe.ReplaceAllString(s, "")
}

// Generate derives feedback from one pipeline result. Errors and warnings of
// failing stages become issues; passing stages contribute nothing.
func Generate(res checks.PipelineResult) Feedback {
	order := make(map[string]int, len(checks.CanonicalOrder))
	for i, n := range checks.CanonicalOrder {
		order[n] = i
	}
	stageRank := func(name string) int {
		if r, ok := order[name]; ok {
			return r
		}
		return len(order)
	}

	// Repeated duplicates of one declaration share a message, so their
	// line keeps them apart.
	type key struct {
		file, msg string
		line      int
	}
	index := make(map[key]int)
	var out Feedback
	add := func(stage string, sev Severity, d checks.Diagnostic) {
		k := key{file: d.File, msg: normalize(d.Message)}
		if d.Kind == checks.KindDuplicateDeclaration {
			k.line = d.Line
		}
		if at, ok := index[k]; ok {
			merged := &out[at]
			if merged.Stage != stage && !contains(merged.AlsoReportedBy, stage) {
				merged.AlsoReportedBy = append(merged.AlsoReportedBy, stage)
			}
			if sev.rank() < merged.Severity.rank() {
				merged.Severity = sev
			}
			if merged.Line == 0 {
				merged.Line, merged.EndLine = d.Line, d.EndLine
			}
			if merged.SuggestedFix == "" {
				merged.SuggestedFix = d.Fix
			}
			return
		}
		index[k] = len(out)
		out = append(out, Issue{
			Severity:     sev,
			Stage:        stage,
			Kind:         d.Kind,
			File:         d.File,
			Line:         d.Line,
			EndLine:      d.EndLine,
			Message:      d.Message,
			SuggestedFix: d.Fix,
		})
	}

	for _, s := range res.Stages {
		if s.Passed {
			continue
		}
		sev := SeverityError
		if s.Critical {
			sev = SeverityCritical
		}
		for _, d := range s.Errors {
			add(s.Stage, sev, d)
		}
		for _, d := range s.Warnings {
			add(s.Stage, SeverityWarning, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if ra, rb := stageRank(a.Stage), stageRank(b.Stage); ra != rb {
			return ra < rb
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
