package checks

import "fmt"

// GenericParser is the fallback parser: the exit code decides, and the tail
// of the output becomes a single diagnostic.
type GenericParser struct{}

// maxOutputLen caps how much output the generic parser keeps.
const maxOutputLen = 8000

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)"}
	}

	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}
	// Keep the tail; error summaries and tracebacks are usually at the end.
	if len(combined) > maxOutputLen {
		combined = "…(truncated)\n" + combined[len(combined)-maxOutputLen:]
	}
	msg := fmt.Sprintf("command exited with code %d", exitCode)
	if combined != "" {
		msg += ":\n" + combined
	}
	return ParseResult{
		Passed:      false,
		Summary:     fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr)),
		Diagnostics: []Diagnostic{{Message: msg}},
	}
}
