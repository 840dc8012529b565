package checks

import (
	"fmt"
	"strings"
)

// PrettierParser parses prettier --check output.
type PrettierParser struct{}

func (p *PrettierParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	// prettier --check prints one "[warn] <file>" line per unformatted file,
	// followed by a summary line that is also prefixed with [warn].
	var diags []Diagnostic
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		file, ok := strings.CutPrefix(line, "[warn] ")
		if !ok || strings.Contains(file, "Code style issues") || strings.Contains(file, "Forgot to run") {
			continue
		}
		diags = append(diags, Diagnostic{File: file, Message: "file is not formatted"})
	}

	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "all files formatted"}
	}
	return ParseResult{
		Passed:      false,
		Summary:     fmt.Sprintf("%d files need formatting", len(diags)),
		Diagnostics: diags,
	}
}
