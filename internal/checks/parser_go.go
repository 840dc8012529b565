package checks

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// goPosRe matches compiler and vet positions: "./models/user.go:12:3: msg"
// and test failures: "    user_test.go:12: msg".
var goPosRe = regexp.MustCompile(`^\s*(?:\./)?([\w./-]+\.go):(\d+)(?::\d+)?:\s*(.+)$`)

func parseGoPosition(line string) (Diagnostic, bool) {
	m := goPosRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return Diagnostic{}, false
	}
	n, _ := strconv.Atoi(m[2])
	return Diagnostic{File: m[1], Line: n, Message: strings.TrimSpace(m[3])}, true
}

// GoVetParser parses go vet and go build output.
type GoVetParser struct{}

func (p *GoVetParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var diags []Diagnostic
	for _, line := range strings.Split(stderr+"\n"+stdout, "\n") {
		if d, ok := parseGoPosition(line); ok {
			diags = append(diags, d)
		}
	}
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "no issues"}
	}
	if len(diags) == 0 {
		return (&GenericParser{}).Parse(stdout, stderr, exitCode)
	}
	return ParseResult{Passed: false, Summary: fmt.Sprintf("%d issues", len(diags)), Diagnostics: diags}
}

// GoTestParser parses go test -json output. Lines that are not JSON, such as
// build errors, are read like go vet output.
type GoTestParser struct{}

type goTestEvent struct {
	Action  string `json:"Action"`
	Package string `json:"Package"`
	Test    string `json:"Test"`
	Output  string `json:"Output"`
}

func (p *GoTestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	outputs := make(map[string][]string)
	var diags []Diagnostic
	passed, failed := 0, 0

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev goTestEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			if d, ok := parseGoPosition(line); ok {
				diags = append(diags, d)
			}
			continue
		}
		key := ev.Package + "." + ev.Test
		switch ev.Action {
		case "output":
			if ev.Test != "" {
				outputs[key] = append(outputs[key], ev.Output)
			}
		case "pass":
			if ev.Test != "" {
				passed++
			}
		case "fail":
			if ev.Test == "" {
				continue
			}
			failed++
			d := Diagnostic{Message: "test failed: " + ev.Test}
			for _, out := range outputs[key] {
				if pos, ok := parseGoPosition(out); ok {
					d.File, d.Line = pos.File, pos.Line
					d.Message += ": " + pos.Message
					break
				}
			}
			diags = append(diags, d)
		}
	}
	for _, line := range strings.Split(stderr, "\n") {
		if d, ok := parseGoPosition(line); ok {
			diags = append(diags, d)
		}
	}

	summary := fmt.Sprintf("%d passed, %d failed", passed, failed)
	if exitCode != 0 && len(diags) == 0 {
		res := (&GenericParser{}).Parse(stdout, stderr, exitCode)
		res.Summary = summary + ", " + res.Summary
		return res
	}
	return ParseResult{
		Passed:      exitCode == 0 && failed == 0,
		Summary:     summary,
		Diagnostics: diags,
	}
}
