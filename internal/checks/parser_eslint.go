package checks

import (
	"encoding/json"
	"fmt"
)

// ESLintParser parses ESLint JSON output.
type ESLintParser struct{}

type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID   string `json:"ruleId"`
	Severity int    `json:"severity"` // 1=warning, 2=error
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Fix      *struct {
		Range [2]int `json:"range"`
		Text  string `json:"text"`
	} `json:"fix"`
}

func (p *ESLintParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var files []eslintFile
	if err := json.Unmarshal([]byte(stdout), &files); err != nil {
		res := (&GenericParser{}).Parse(stdout, stderr, exitCode)
		res.Summary = fmt.Sprintf("exit code %d (could not parse ESLint JSON)", exitCode)
		return res
	}

	var errors, warnings, fixable int
	var diags, warns []Diagnostic
	for _, f := range files {
		for _, m := range f.Messages {
			d := Diagnostic{
				File:    f.FilePath,
				Line:    m.Line,
				Message: fmt.Sprintf("%s (%s)", m.Message, m.RuleID),
			}
			if m.Fix != nil {
				fixable++
				d.Fix = m.Fix.Text
			}
			if m.Severity == 2 {
				errors++
				diags = append(diags, d)
			} else {
				warnings++
				warns = append(warns, d)
			}
		}
	}

	return ParseResult{
		Passed:      errors == 0,
		Summary:     fmt.Sprintf("%d errors, %d warnings, %d fixable", errors, warnings, fixable),
		Diagnostics: diags,
		Warnings:    warns,
	}
}
