package checks

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies a finding. Correctors switch on it.
type Kind string

const (
	KindSyntax               Kind = "syntax"
	KindDuplicateDeclaration Kind = "duplicate_declaration"
	KindMissingImport        Kind = "missing_import"
	KindUnusedImport         Kind = "unused_import"
	KindMalformedPath        Kind = "malformed_path"
	KindAssertion            Kind = "assertion"
	KindOpenAPI              Kind = "openapi"
	KindTest                 Kind = "test"
	KindQuality              Kind = "quality"
	KindSecurity             Kind = "security"
	KindRuntime              Kind = "runtime"
	KindStageFailure         Kind = "stage_failure"
)

// Diagnostic is one finding. Line is 1-based; 0 means the whole file.
// EndLine, when set, is the last line of the declaration the finding covers.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	EndLine int    `json:"end_line,omitempty"`
	Message string `json:"message"`
	// Fix is a machine-readable hint for the matching fixer, e.g. the
	// import path for a missing import or the normalized path.
	Fix string `json:"fix,omitempty"`
}

func (d Diagnostic) String() string {
	switch {
	case d.File != "" && d.Line > 0:
		return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message)
	case d.File != "":
		return fmt.Sprintf("%s: %s", d.File, d.Message)
	default:
		return d.Message
	}
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage    string        `json:"stage"`
	Critical bool          `json:"critical"`
	Passed   bool          `json:"passed"`
	Errors   []Diagnostic  `json:"errors,omitempty"`
	Warnings []Diagnostic  `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// NewStageResult builds a result whose Passed flag follows the errors.
func NewStageResult(stage string, critical bool, errs, warnings []Diagnostic) StageResult {
	return StageResult{
		Stage:    stage,
		Critical: critical,
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}

// Summary counts stages and findings.
type Summary struct {
	PassedStages  int `json:"passed_stages"`
	TotalStages   int `json:"total_stages"`
	TotalErrors   int `json:"total_errors"`
	TotalWarnings int `json:"total_warnings"`
}

// PipelineResult is the outcome of one pipeline run. Passed is true when
// every critical stage passed.
type PipelineResult struct {
	Stages  []StageResult `json:"stages"`
	Summary Summary       `json:"summary"`
	Passed  bool          `json:"passed"`
}

// AllPassed reports whether every stage, critical or not, passed.
func (r PipelineResult) AllPassed() bool {
	for _, s := range r.Stages {
		if !s.Passed {
			return false
		}
	}
	return true
}

// Stage returns the result of the named stage.
func (r PipelineResult) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// JSON returns the result as indented JSON.
func (r *PipelineResult) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func summarize(stages []StageResult) PipelineResult {
	res := PipelineResult{Stages: stages, Passed: true}
	res.Summary.TotalStages = len(stages)
	for _, s := range stages {
		if s.Passed {
			res.Summary.PassedStages++
		} else if s.Critical {
			res.Passed = false
		}
		res.Summary.TotalErrors += len(s.Errors)
		res.Summary.TotalWarnings += len(s.Warnings)
	}
	return res
}
