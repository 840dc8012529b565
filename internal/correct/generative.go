package correct

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/feedback"
)

// Request is what a Generative collaborator receives: the unresolved issues
// and the full content of every file they implicate.
type Request struct {
	Contract *contract.Contract
	Feedback feedback.Feedback
	// Files maps implicated paths to their current content. A path with
	// empty content does not exist yet.
	Files map[string]string
}

// Paths returns the implicated paths, sorted.
func (r Request) Paths() []string {
	out := make([]string, 0, len(r.Files))
	for p := range r.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Generative rewrites files. The returned map holds replacement content by
// path.
type Generative interface {
	Correct(ctx context.Context, req Request) (map[string]string, error)
}

// GenerativeFunc adapts a function to Generative.
type GenerativeFunc func(ctx context.Context, req Request) (map[string]string, error)

func (f GenerativeFunc) Correct(ctx context.Context, req Request) (map[string]string, error) {
	return f(ctx, req)
}

const fileMarker = "=== FILE: "

// FormatFiles renders files in the block format ParseFiles reads.
func FormatFiles(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s%s ===\n", fileMarker, p)
		b.WriteString(files[p])
		if !strings.HasSuffix(files[p], "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ParseFiles reads "=== FILE: <path> ===" blocks. Markdown code fences
// wrapped around a block's content are removed.
func ParseFiles(reply string) (map[string]string, error) {
	out := make(map[string]string)
	var current string
	var body []string
	flush := func() {
		if current == "" {
			return
		}
		out[current] = unfence(strings.Join(body, "\n"))
	}
	for _, line := range strings.Split(reply, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, fileMarker) && strings.HasSuffix(t, "===") {
			flush()
			current = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(t, fileMarker), "==="))
			body = body[:0]
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()
	if len(out) == 0 {
		return nil, fmt.Errorf("reply contains no file blocks")
	}
	return out, nil
}

func unfence(s string) string {
	s = strings.Trim(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) >= 2 && strings.HasPrefix(lines[0], "```") && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[1 : len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}

// CorrectionError reports a failed or timed-out correction.
type CorrectionError struct {
	Op    string
	Files []string
	Err   error
}

func (e *CorrectionError) Error() string {
	if len(e.Files) > 0 {
		return fmt.Sprintf("correction %s (%s): %v", e.Op, strings.Join(e.Files, ", "), e.Err)
	}
	return fmt.Sprintf("correction %s: %v", e.Op, e.Err)
}

func (e *CorrectionError) Unwrap() error { return e.Err }
