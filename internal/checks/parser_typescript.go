package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TypeScriptParser parses tsc --noEmit output.
type TypeScriptParser struct{}

// tsc output format: src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

func (p *TypeScriptParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var diags []Diagnostic
	// tsc writes diagnostics to stdout.
	for _, line := range strings.Split(stdout, "\n") {
		m := tscLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		diags = append(diags, Diagnostic{
			File:    m[1],
			Line:    lineNum,
			Message: fmt.Sprintf("%s: %s", m[4], m[5]),
		})
	}

	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "no errors"}
	}
	if len(diags) == 0 {
		return (&GenericParser{}).Parse(stdout, stderr, exitCode)
	}
	return ParseResult{
		Passed:      false,
		Summary:     fmt.Sprintf("%d errors", len(diags)),
		Diagnostics: diags,
	}
}
