package checks

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"regexp"
	"strings"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/codegen"
	"github.com/lucasnoah/contractforge/internal/contract"
)

// Options configures the built-in stages.
type Options struct {
	// Runner executes external checks. Nil disables them.
	Runner *Runner
	// TestChecks run in the tests stage, RuntimeChecks in the runtime stage.
	TestChecks    []CheckConfig
	RuntimeChecks []CheckConfig
}

// DefaultStages builds the canonical stage list.
func DefaultStages(opts Options) []Stage {
	return []Stage{
		SyntaxStage{},
		AssertionStage{},
		StaticStage{},
		TestStage{Commands: CommandSet{Runner: opts.Runner, Checks: opts.TestChecks}},
		QualityStage{},
		SecurityStage{},
		RuntimeStage{Commands: CommandSet{Runner: opts.Runner, Checks: opts.RuntimeChecks}},
	}
}

// TestStage maps every contract test case to a generated route and handler,
// then runs any configured test commands.
type TestStage struct {
	Commands CommandSet
}

func (TestStage) Name() string   { return StageTests }
func (TestStage) Critical() bool { return false }

var statusConstants = map[int]string{
	200: "http.StatusOK",
	201: "http.StatusCreated",
	204: "http.StatusNoContent",
	400: "http.StatusBadRequest",
	404: "http.StatusNotFound",
}

func (s TestStage) Run(ctx context.Context, c *contract.Contract, code artifact.Code, _ []StageResult) (StageResult, error) {
	var errs []Diagnostic
	router, hasRouter := code.Get(codegen.RouterPath)
	for _, tc := range c.Validation.Tests {
		r, ok := c.Resource(tc.Resource)
		if !ok {
			errs = append(errs, Diagnostic{Kind: KindTest, Message: fmt.Sprintf("test %q: unknown resource %s", tc.Name, tc.Resource)})
			continue
		}
		if !hasRouter {
			errs = append(errs, Diagnostic{Kind: KindTest, File: codegen.RouterPath, Message: fmt.Sprintf("test %q: no router was generated", tc.Name)})
			continue
		}
		pattern := codegen.RoutePattern(*r, tc.Operation)
		routeLine := findLine(router.Content, `"`+pattern+`"`)
		if routeLine == "" {
			errs = append(errs, Diagnostic{Kind: KindTest, File: codegen.RouterPath, Message: fmt.Sprintf("test %q: route %s is not registered", tc.Name, pattern)})
			continue
		}

		hPath := codegen.HandlerPath(r.Name)
		method := codegen.HandlerMethod(tc.Operation)
		handler, ok := code.Get(hPath)
		if !ok {
			errs = append(errs, Diagnostic{Kind: KindTest, File: hPath, Message: fmt.Sprintf("test %q: handler file %s was not generated", tc.Name, hPath)})
			continue
		}
		body, line := methodBody(handler.Content, codegen.HandlerType(r.Name), method)
		if line == 0 {
			errs = append(errs, Diagnostic{Kind: KindTest, File: hPath, Message: fmt.Sprintf("test %q: %s.%s is not implemented", tc.Name, codegen.HandlerType(r.Name), method)})
			continue
		}
		if tc.ExpectStatus == 0 {
			continue
		}
		if tc.ExpectStatus == 401 {
			if !strings.Contains(routeLine, "RequireAuth(") {
				errs = append(errs, Diagnostic{Kind: KindTest, File: codegen.RouterPath, Message: fmt.Sprintf("test %q: route %s is not authenticated, cannot answer 401", tc.Name, pattern)})
			}
			continue
		}
		want, known := statusConstants[tc.ExpectStatus]
		switch {
		case !known:
			errs = append(errs, Diagnostic{Kind: KindTest, File: hPath, Line: line, Message: fmt.Sprintf("test %q: handlers never answer %d", tc.Name, tc.ExpectStatus)})
		case !strings.Contains(body, want):
			errs = append(errs, Diagnostic{Kind: KindTest, File: hPath, Line: line, Message: fmt.Sprintf("test %q: %s.%s never answers %d", tc.Name, codegen.HandlerType(r.Name), method, tc.ExpectStatus)})
		}
	}

	cmdErrs, cmdWarnings, err := s.Commands.Run(ctx, code, KindTest)
	if err != nil {
		return StageResult{}, err
	}
	errs = append(errs, cmdErrs...)
	return NewStageResult(StageTests, false, errs, cmdWarnings), nil
}

func findLine(content, needle string) string {
	for _, l := range strings.Split(content, "\n") {
		if strings.Contains(l, needle) {
			return l
		}
	}
	return ""
}

// methodBody returns the source of recv.method and its 1-based line, or 0
// when the method is absent.
func methodBody(src, recv, method string) (string, int) {
	re := regexp.MustCompile(`(?m)^func\s+\(\s*\w+\s+\*?` + regexp.QuoteMeta(recv) + `\s*\)\s+` + regexp.QuoteMeta(method) + `\s*\(`)
	loc := re.FindStringIndex(src)
	if loc == nil {
		return "", 0
	}
	line := strings.Count(src[:loc[0]], "\n") + 1
	rest := src[loc[0]:]
	if end := strings.Index(rest, "\n}"); end >= 0 {
		rest = rest[:end+2]
	}
	return rest, line
}

// QualityStage enforces the contract's quality gates.
type QualityStage struct{}

func (QualityStage) Name() string   { return StageQuality }
func (QualityStage) Critical() bool { return false }

var todoRe = regexp.MustCompile(`\b(TODO|FIXME|XXX)\b`)

func (QualityStage) Run(_ context.Context, c *contract.Contract, code artifact.Code, prior []StageResult) (StageResult, error) {
	gates := c.Validation.QualityGates
	var errs, warnings []Diagnostic

	todos := 0
	exported, documented := 0, 0
	for _, f := range code.Files {
		lines := strings.Count(f.Content, "\n")
		if !strings.HasSuffix(f.Content, "\n") && f.Content != "" {
			lines++
		}
		if gates.MaxFileLines > 0 && lines > gates.MaxFileLines {
			errs = append(errs, Diagnostic{
				Kind:    KindQuality,
				File:    f.Path,
				Message: fmt.Sprintf("file has %d lines, limit is %d", lines, gates.MaxFileLines),
			})
		}
		for i, l := range strings.Split(f.Content, "\n") {
			if todoRe.MatchString(l) {
				todos++
				warnings = append(warnings, Diagnostic{Kind: KindQuality, File: f.Path, Line: i + 1, Message: "unresolved TODO marker"})
			}
		}
		if strings.HasSuffix(f.Path, ".go") {
			e, d := goDocCoverage(f)
			exported += e
			documented += d
		}
	}

	if gates.MaxTodos > 0 && todos > gates.MaxTodos {
		errs = append(errs, Diagnostic{Kind: KindQuality, Message: fmt.Sprintf("%d TODO markers, limit is %d", todos, gates.MaxTodos)})
	}
	if gates.MinDocCoverage > 0 && exported > 0 {
		cov := float64(documented) / float64(exported)
		if cov < gates.MinDocCoverage {
			errs = append(errs, Diagnostic{
				Kind:    KindQuality,
				Message: fmt.Sprintf("doc comment coverage %.0f%% of %d exported declarations, minimum is %.0f%%", cov*100, exported, gates.MinDocCoverage*100),
			})
		}
	}
	if gates.MaxWarnings > 0 {
		total := 0
		for _, r := range prior {
			total += len(r.Warnings)
		}
		if total > gates.MaxWarnings {
			errs = append(errs, Diagnostic{Kind: KindQuality, Message: fmt.Sprintf("%d warnings from earlier stages, limit is %d", total, gates.MaxWarnings)})
		}
	}
	return NewStageResult(StageQuality, false, errs, warnings), nil
}

// goDocCoverage counts exported top-level declarations and how many carry a
// doc comment. Files that do not parse count as zero.
func goDocCoverage(f artifact.File) (exported, documented int) {
	file, err := parser.ParseFile(token.NewFileSet(), f.Path, f.Content, parser.ParseComments)
	if err != nil {
		return 0, 0
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Name.IsExported() {
				exported++
				if d.Doc != nil {
					documented++
				}
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				var name *ast.Ident
				var doc *ast.CommentGroup
				switch s := spec.(type) {
				case *ast.TypeSpec:
					name, doc = s.Name, s.Doc
				case *ast.ValueSpec:
					if len(s.Names) > 0 {
						name, doc = s.Names[0], s.Doc
					}
				}
				if name == nil || !name.IsExported() {
					continue
				}
				exported++
				if doc != nil || (d.Doc != nil && (len(d.Specs) == 1 || d.Tok != token.TYPE)) {
					documented++
				}
			}
		}
	}
	return exported, documented
}

// SecurityStage looks for hard-coded secrets, disabled TLS verification,
// SQL assembled by concatenation and authenticated resources whose routes
// skip the auth middleware.
type SecurityStage struct{}

func (SecurityStage) Name() string   { return StageSecurity }
func (SecurityStage) Critical() bool { return false }

var (
	secretRe     = regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_-]?key|token|private[_-]?key)\w*\s*(:=|=|:)\s*["'][^"'\s]{8,}["']`)
	awsKeyRe     = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	insecureTLS  = regexp.MustCompile(`InsecureSkipVerify\s*:\s*true`)
	sqlConcatRe  = regexp.MustCompile(`(?i)"\s*(SELECT|INSERT|UPDATE|DELETE)\b[^"]*"\s*\+`)
	sqlSprintfRe = regexp.MustCompile(`(?i)fmt\.Sprintf\(\s*"\s*(SELECT|INSERT|UPDATE|DELETE)\b`)
)

func (SecurityStage) Run(_ context.Context, c *contract.Contract, code artifact.Code, _ []StageResult) (StageResult, error) {
	var errs, warnings []Diagnostic
	for _, f := range code.Files {
		ext := path.Ext(f.Path)
		if ext == ".md" {
			continue
		}
		for i, l := range strings.Split(f.Content, "\n") {
			at := func(msg string) Diagnostic {
				return Diagnostic{Kind: KindSecurity, File: f.Path, Line: i + 1, Message: msg}
			}
			if secretRe.MatchString(l) || awsKeyRe.MatchString(l) {
				errs = append(errs, at("hard-coded credential"))
			}
			if insecureTLS.MatchString(l) {
				errs = append(errs, at("TLS certificate verification disabled"))
			}
			if ext == ".go" || ext == ".ts" || ext == ".js" {
				if sqlConcatRe.MatchString(l) || sqlSprintfRe.MatchString(l) {
					warnings = append(warnings, at("SQL built by string concatenation; use query parameters"))
				}
			}
		}
	}

	if router, ok := code.Get(codegen.RouterPath); ok {
		for _, r := range c.Definition.API.Resources {
			if !r.Auth {
				continue
			}
			for _, op := range r.Operations {
				pattern := codegen.RoutePattern(r, op)
				for i, l := range strings.Split(router.Content, "\n") {
					if strings.Contains(l, `"`+pattern+`"`) && !strings.Contains(l, "RequireAuth(") {
						errs = append(errs, Diagnostic{
							Kind:    KindSecurity,
							File:    codegen.RouterPath,
							Line:    i + 1,
							Message: fmt.Sprintf("route %s of authenticated resource %s is not wrapped by RequireAuth", pattern, r.Name),
						})
					}
				}
			}
		}
	}
	return NewStageResult(StageSecurity, false, errs, warnings), nil
}

// RuntimeStage runs the configured external commands, such as go vet or
// tsc, against a materialized workspace.
type RuntimeStage struct {
	Commands CommandSet
}

func (RuntimeStage) Name() string   { return StageRuntime }
func (RuntimeStage) Critical() bool { return false }

func (s RuntimeStage) Run(ctx context.Context, _ *contract.Contract, code artifact.Code, _ []StageResult) (StageResult, error) {
	if len(s.Commands.Checks) == 0 {
		return NewStageResult(StageRuntime, false, nil, []Diagnostic{{
			Kind:    KindRuntime,
			Message: "no runtime checks configured; generated code was not executed",
		}}), nil
	}
	errs, warnings, err := s.Commands.Run(ctx, code, KindRuntime)
	if err != nil {
		return StageResult{}, err
	}
	return NewStageResult(StageRuntime, false, errs, warnings), nil
}
