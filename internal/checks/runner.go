package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/contractforge/internal/artifact"
)

// Result is the outcome of one external check command.
type Result struct {
	CheckName   string        `json:"check_name"`
	Passed      bool          `json:"passed"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
	Summary     string        `json:"summary"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	Warnings    []Diagnostic  `json:"warnings,omitempty"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
}

// CheckConfig mirrors config.Check with the fields the runner needs.
type CheckConfig struct {
	Name    string
	Command string
	Parser  string
	// Dir is the workspace subdirectory the command runs in, e.g. "service".
	Dir     string
	Timeout time.Duration
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = 2 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers["eslint"] = &ESLintParser{}
	r.parsers["prettier"] = &PrettierParser{}
	r.parsers["typescript"] = &TypeScriptParser{}
	r.parsers["vitest"] = &VitestParser{}
	r.parsers["npm-audit"] = &NPMAuditParser{}
	r.parsers["gotest"] = &GoTestParser{}
	r.parsers["govet"] = &GoVetParser{}
	r.parsers["generic"] = &GenericParser{}
	return r
}

// HasParser reports whether name is a registered parser.
func (r *Runner) HasParser(name string) bool {
	_, ok := r.parsers[name]
	return ok
}

// Run executes a single check under root. Relative file paths in the
// diagnostics are rewritten to be relative to root.
func (r *Runner) Run(ctx context.Context, root string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := root
	if cfg.Dir != "" {
		dir = filepath.Join(root, filepath.FromSlash(cfg.Dir))
	}

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, cfg.Command)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{
				CheckName: cfg.Name,
				ExitCode:  -1,
				Duration:  duration,
				Summary:   fmt.Sprintf("timeout after %s", timeout),
				Diagnostics: []Diagnostic{{
					Message: fmt.Sprintf("check %s timed out after %s", cfg.Name, timeout),
				}},
				Stdout: stdout,
				Stderr: stderr,
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	parser, ok := r.parsers[cfg.Parser]
	if !ok {
		parser = r.parsers["generic"]
	}
	parsed := parser.Parse(stdout, stderr, exitCode)

	res := &Result{
		CheckName:   cfg.Name,
		Passed:      exitCode == 0 && parsed.Passed,
		ExitCode:    exitCode,
		Duration:    duration,
		Summary:     parsed.Summary,
		Diagnostics: rebase(parsed.Diagnostics, cfg.Dir),
		Warnings:    rebase(parsed.Warnings, cfg.Dir),
		Stdout:      stdout,
		Stderr:      stderr,
	}
	if !res.Passed && len(res.Diagnostics) == 0 {
		res.Diagnostics = []Diagnostic{{Message: fmt.Sprintf("check %s failed: %s", cfg.Name, parsed.Summary)}}
	}
	return res, nil
}

func rebase(diags []Diagnostic, dir string) []Diagnostic {
	if dir == "" {
		return diags
	}
	out := make([]Diagnostic, len(diags))
	for i, d := range diags {
		if d.File != "" && !path.IsAbs(d.File) {
			d.File = path.Join(dir, d.File)
		}
		out[i] = d
	}
	return out
}

// CommandSet runs named external checks against a materialized copy of the
// generated code. It is shared by the tests and runtime stages.
type CommandSet struct {
	Runner *Runner
	Checks []CheckConfig
}

// Run writes code to a temporary directory, runs every check there and
// collects errors and warnings tagged with kind.
func (s CommandSet) Run(ctx context.Context, code artifact.Code, kind Kind) (errs, warnings []Diagnostic, err error) {
	if len(s.Checks) == 0 {
		return nil, nil, nil
	}
	if s.Runner == nil {
		return nil, nil, fmt.Errorf("checks configured without a runner")
	}
	dir, err := os.MkdirTemp("", "forge-checks-*")
	if err != nil {
		return nil, nil, fmt.Errorf("creating workspace: %w", err)
	}
	defer os.RemoveAll(dir)
	if err := artifact.WriteDir(dir, code); err != nil {
		return nil, nil, fmt.Errorf("materializing code: %w", err)
	}

	for _, chk := range s.Checks {
		res, err := s.Runner.Run(ctx, dir, chk)
		if err != nil {
			return nil, nil, err
		}
		for _, d := range res.Diagnostics {
			if d.Kind == "" {
				d.Kind = kind
			}
			d.Message = chk.Name + ": " + d.Message
			errs = append(errs, d)
		}
		for _, d := range res.Warnings {
			if d.Kind == "" {
				d.Kind = kind
			}
			d.Message = chk.Name + ": " + d.Message
			warnings = append(warnings, d)
		}
	}
	return errs, warnings, nil
}
