package checks

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NPMAuditParser parses npm audit --json output. Critical and high
// advisories are errors; the rest are warnings.
type NPMAuditParser struct{}

type npmAuditOutput struct {
	Metadata struct {
		Vulnerabilities struct {
			Critical int `json:"critical"`
			High     int `json:"high"`
			Moderate int `json:"moderate"`
			Low      int `json:"low"`
			Info     int `json:"info"`
			Total    int `json:"total"`
		} `json:"vulnerabilities"`
	} `json:"metadata"`
	Vulnerabilities map[string]npmVulnerability `json:"vulnerabilities"`
}

type npmVulnerability struct {
	Name     string          `json:"name"`
	Severity string          `json:"severity"`
	Title    string          `json:"title"`
	URL      string          `json:"url"`
	Via      json.RawMessage `json:"via"`
}

func (p *NPMAuditParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var raw npmAuditOutput
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		res := (&GenericParser{}).Parse(stdout, stderr, exitCode)
		res.Summary = fmt.Sprintf("exit code %d (could not parse npm audit JSON)", exitCode)
		return res
	}

	names := make([]string, 0, len(raw.Vulnerabilities))
	for name := range raw.Vulnerabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	var diags, warns []Diagnostic
	for _, name := range names {
		v := raw.Vulnerabilities[name]
		d := Diagnostic{
			File:    "package.json",
			Message: fmt.Sprintf("%s: %s vulnerability %s", name, v.Severity, v.Title),
		}
		if v.Severity == "critical" || v.Severity == "high" {
			diags = append(diags, d)
		} else {
			warns = append(warns, d)
		}
	}

	v := raw.Metadata.Vulnerabilities
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "no vulnerabilities found", Warnings: warns}
	}
	return ParseResult{
		Passed: len(diags) == 0,
		Summary: fmt.Sprintf("%d vulnerabilities (%d critical, %d high, %d moderate, %d low)",
			v.Total, v.Critical, v.High, v.Moderate, v.Low),
		Diagnostics: diags,
		Warnings:    warns,
	}
}
