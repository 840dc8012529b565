package checks

// ParseResult is a parser's reading of one command run.
type ParseResult struct {
	Passed      bool         `json:"passed"`
	Summary     string       `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Warnings    []Diagnostic `json:"warnings,omitempty"`
}

// Parser converts raw command output into diagnostics. Diagnostics may leave
// Kind empty; the stage running the command fills it in.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}
