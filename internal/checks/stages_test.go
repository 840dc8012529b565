package checks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/codegen"
	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/contract/contracttest"
)

func generated(t *testing.T, c *contract.Contract) artifact.Code {
	t.Helper()
	g := codegen.MustNew(codegen.WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }))
	code, err := g.Generate(c, contract.Target{})
	require.NoError(t, err)
	return code
}

// replace returns code with one file's content rewritten.
func replace(t *testing.T, code artifact.Code, path, old, new string) artifact.Code {
	t.Helper()
	e := artifact.NewEdit(code)
	content, ok := e.Content(path)
	require.True(t, ok, "missing %s", path)
	require.Contains(t, content, old)
	e.Set(path, strings.Replace(content, old, new, 1), artifact.ComponentOf(path))
	out, err := e.Apply(code.Meta)
	require.NoError(t, err)
	return out
}

func codeOf(t *testing.T, files ...artifact.File) artifact.Code {
	t.Helper()
	code, err := artifact.New(files, artifact.Meta{})
	require.NoError(t, err)
	return code
}

func run(t *testing.T, s Stage, c *contract.Contract, code artifact.Code, prior ...StageResult) StageResult {
	t.Helper()
	res, err := s.Run(context.Background(), c, code, prior)
	require.NoError(t, err)
	return res
}

func kinds(ds []Diagnostic) []Kind {
	out := make([]Kind, len(ds))
	for i, d := range ds {
		out[i] = d.Kind
	}
	return out
}

func TestGeneratedSampleClearsCriticalStages(t *testing.T) {
	c := contracttest.Sample()
	code := generated(t, c)

	syntax := run(t, SyntaxStage{}, c, code)
	assert.Empty(t, syntax.Errors)
	assertions := run(t, AssertionStage{}, c, code)
	assert.Empty(t, assertions.Errors)
	static := run(t, StaticStage{}, c, code)
	assert.Empty(t, static.Errors)
	tests := run(t, TestStage{}, c, code)
	assert.Empty(t, tests.Errors)
	security := run(t, SecurityStage{}, c, code)
	assert.Empty(t, security.Errors)
}

func TestSyntaxStageReportsParseErrors(t *testing.T) {
	code := codeOf(t,
		artifact.File{Path: "service/main.go", Content: "package main\n\nfunc main() {\n\tx := \n}\n"},
		artifact.File{Path: "ui/src/a.ts", Content: "export const a = ;\n"},
		artifact.File{Path: "docs/openapi.yaml", Content: "openapi: 3.0.3\ninfo: [unclosed\n"},
		artifact.File{Path: "ui/package.json", Content: "{\n  \"name\": \"blog\",\n}\n"},
		artifact.File{Path: "docs/README.md", Content: "# fine {\n"},
	)
	res := run(t, SyntaxStage{}, contracttest.Sample(), code)
	require.False(t, res.Passed)

	files := make(map[string]Diagnostic)
	for _, d := range res.Errors {
		assert.Equal(t, KindSyntax, d.Kind)
		files[d.File] = d
	}
	assert.Contains(t, files, "service/main.go")
	assert.Contains(t, files, "ui/src/a.ts")
	assert.Contains(t, files, "docs/openapi.yaml")
	assert.Contains(t, files, "ui/package.json")
	assert.NotContains(t, files, "docs/README.md")
	assert.Equal(t, 3, files["ui/package.json"].Line)
}

func TestSyntaxStageReportsDuplicates(t *testing.T) {
	goSrc := `package models

import (
	"fmt"
	"time"
	"fmt"
)

type User struct {
	ID    string
	Email string
	Email string
}

func (u *User) Name() string { return fmt.Sprint(u.ID) }
func (u *User) Name() string { return "" }

var _ = time.Now
`
	sql := `CREATE TABLE users (
    id UUID PRIMARY KEY,
    email TEXT,
    "email" TEXT
);
CREATE INDEX idx_users_email ON users (email);
CREATE INDEX idx_users_email ON users (email);
`
	ts := `import { User } from "./user";
import { User } from "./user";

export interface Post {
  id: string;
  title?: string;
  title: string;
}
`
	code := codeOf(t,
		artifact.File{Path: "service/models/user.go", Content: goSrc},
		artifact.File{Path: "schema/migrations/0001_init.sql", Content: sql},
		artifact.File{Path: "ui/src/types/post.ts", Content: ts},
	)
	res := run(t, SyntaxStage{}, contracttest.Sample(), code)

	assert.ElementsMatch(t, []finding{
		{"service/models/user.go", 6, 0, "delete-line"},
		{"service/models/user.go", 12, 0, "delete-line"},
		{"service/models/user.go", 16, 16, "delete-span"},
		{"schema/migrations/0001_init.sql", 4, 0, "delete-line"},
		{"schema/migrations/0001_init.sql", 7, 7, "delete-span"},
		{"ui/src/types/post.ts", 2, 0, "delete-line"},
		{"ui/src/types/post.ts", 7, 0, "delete-line"},
	}, duplicates(res))
}

type finding struct {
	file      string
	line, end int
	fix       string
}

func duplicates(res StageResult) []finding {
	var got []finding
	for _, d := range res.Errors {
		if d.Kind == KindDuplicateDeclaration {
			got = append(got, finding{d.File, d.Line, d.EndLine, d.Fix})
		}
	}
	return got
}

func TestSyntaxStageSpansDuplicateDeclarations(t *testing.T) {
	goSrc := `package models

// Helper formats a name.
func Helper(name string) string {
	return name
}

type Role string

// Helper formats a name.
func Helper(name string) string {
	if name == "" {
		return "anonymous"
	}
	return name
}

type Role string
`
	sql := `CREATE TABLE tags (
    id UUID PRIMARY KEY,
    name TEXT
);

CREATE TABLE tags (
    id UUID PRIMARY KEY,
    name TEXT -- display name; unique
);
`
	ts := `export function slug(s: string): string {
  return s.toLowerCase();
}

export function slug(s: string): string {
  return s.trim().toLowerCase();
}
`
	code := codeOf(t,
		artifact.File{Path: "service/models/helper.go", Content: goSrc},
		artifact.File{Path: "schema/migrations/0002_tags.sql", Content: sql},
		artifact.File{Path: "ui/src/lib/slug.ts", Content: ts},
	)
	res := run(t, SyntaxStage{}, contracttest.Sample(), code)

	assert.ElementsMatch(t, []finding{
		{"service/models/helper.go", 11, 16, "delete-span"},
		{"service/models/helper.go", 18, 18, "delete-span"},
		{"schema/migrations/0002_tags.sql", 6, 9, "delete-span"},
		{"ui/src/lib/slug.ts", 5, 7, "delete-span"},
	}, duplicates(res))
}

func TestBalancedEndWithoutGoParse(t *testing.T) {
	lines := strings.Split("func f() {\n\tif x {\n\t}\n}\nfunc g() {}", "\n")
	assert.Equal(t, 3, balancedEnd(lines, 0))
	assert.Equal(t, 4, balancedEnd(lines, 4))
	assert.Equal(t, 1, balancedEnd([]string{"type A = {", "};"}, 0))
}

func TestMalformedPath(t *testing.T) {
	tests := []struct {
		in    string
		fixed string
		bad   bool
	}{
		{"service/router.go", "", false},
		{"service\\handlers\\users.go", "service/handlers/users.go", true},
		{"./service/router.go", "service/router.go", true},
		{"/service/router.go", "service/router.go", true},
		{"service//router.go", "service/router.go", true},
		{"service/../router.go", "router.go", true},
		{" service/router.go ", "service/router.go", true},
		{"service/my handler.go", "service/my_handler.go", true},
		{"", "", true},
	}
	for _, tt := range tests {
		_, fixed, bad := malformedPath(tt.in)
		assert.Equal(t, tt.bad, bad, tt.in)
		assert.Equal(t, tt.fixed, fixed, tt.in)
	}

	code := codeOf(t, artifact.File{Path: "./service/go.mod", Content: "module blog\n"})
	res := run(t, SyntaxStage{}, contracttest.Sample(), code)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindMalformedPath, res.Errors[0].Kind)
	assert.Equal(t, "service/go.mod", res.Errors[0].Fix)
}

func TestStaticStageImports(t *testing.T) {
	src := `package handlers

import (
	"net/http"
	"strings"
)

func decode(w http.ResponseWriter, r *http.Request) error {
	return json.NewDecoder(r.Body).Decode(nil)
}
`
	code := codeOf(t, artifact.File{Path: "service/handlers/decode.go", Content: src})
	res := run(t, StaticStage{}, contracttest.Sample(), code)
	require.Len(t, res.Errors, 2)

	missing, unused := res.Errors[0], res.Errors[1]
	assert.Equal(t, KindMissingImport, missing.Kind)
	assert.Equal(t, "encoding/json", missing.Fix)
	assert.Equal(t, 9, missing.Line)
	assert.Equal(t, KindUnusedImport, unused.Kind)
	assert.Equal(t, "delete-line", unused.Fix)
	assert.Equal(t, 5, unused.Line)
}

func TestStaticStageIgnoresLocalsAndWarnsOnPanic(t *testing.T) {
	src := `package handlers

func pick(json map[string]string) string {
	if json == nil {
		panic("no input")
	}
	return json["a"]
}

type holder struct{ strings []string }

func (h holder) first() string { return h.strings[0] }
`
	code := codeOf(t, artifact.File{Path: "service/handlers/pick.go", Content: src})
	res := run(t, StaticStage{}, contracttest.Sample(), code)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 5, res.Warnings[0].Line)
}

func TestStaticStageValidatesOpenAPI(t *testing.T) {
	doc := "openapi: 3.0.3\ninfo:\n  title: x\npaths: {}\n"
	code := codeOf(t, artifact.File{Path: "docs/openapi.yaml", Content: doc})
	res := run(t, StaticStage{}, contracttest.Sample(), code)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindOpenAPI, res.Errors[0].Kind)
}

func TestAssertionStageFailures(t *testing.T) {
	c := contracttest.Sample()
	code := generated(t, c)
	code = replace(t, code, "service/models/user.go", "`json:\"email\"`", "`json:\"mail\"`")
	code = replace(t, code, codegen.RouterPath, `"GET /users/{id}"`, `"GET /user/{id}"`)

	res := run(t, AssertionStage{}, c, code)
	require.False(t, res.Passed)
	var msgs []string
	for _, d := range res.Errors {
		assert.Equal(t, KindAssertion, d.Kind)
		msgs = append(msgs, d.Message)
	}
	joined := strings.Join(msgs, "\n")
	assert.Contains(t, joined, "assertion user-email: field User.email missing from service/models/user.go")
	assert.Contains(t, joined, "route GET /users/{id} is not registered")
	assert.Contains(t, joined, "acceptance criterion AC-1 unmet (failing: user-email)")
	assert.NotContains(t, joined, "user-model")
}

func TestAssertionStageRequiresModels(t *testing.T) {
	c := contracttest.Sample()
	code := generated(t, c)
	e := artifact.NewEdit(code)
	e.Set("ui/src/types/post.ts", "export const nothing = 1;\n", contract.ComponentUI)
	code, err := e.Apply(code.Meta)
	require.NoError(t, err)

	res := run(t, AssertionStage{}, c, code)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "ui/src/types/post.ts", res.Errors[0].File)
}

func TestAssertionKinds(t *testing.T) {
	c := contracttest.Sample()
	c.Validation.AcceptanceCriteria = nil
	code := generated(t, c)

	// Stages may be handed a contract that never went through Validate.
	c.Validation.Assertions = []contract.Assertion{
		{ID: "no-panic", Kind: contract.AssertNotContains, Path: codegen.RouterPath, Pattern: "panic("},
		{ID: "router-fn", Kind: contract.AssertMatches, Path: codegen.RouterPath, Pattern: `func NewRouter\(\) http\.Handler`},
		{ID: "bad-re", Kind: contract.AssertMatches, Path: codegen.RouterPath, Pattern: `(`},
		{ID: "gone", Kind: contract.AssertContains, Path: "service/missing.go", Pattern: "x"},
	}
	res := run(t, AssertionStage{}, c, code)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0].Message, "assertion bad-re: invalid pattern")
	assert.Contains(t, res.Errors[1].Message, "assertion gone: file service/missing.go was not generated")
}

func TestTestStage(t *testing.T) {
	c := contracttest.Sample()
	c.Validation.Tests = append(c.Validation.Tests,
		contract.TestCase{Name: "anonymous get", Resource: "users", Operation: contract.OpGet, ExpectStatus: 401},
		contract.TestCase{Name: "delete user", Resource: "users", Operation: contract.OpDelete, ExpectStatus: 204},
	)
	code := generated(t, c)
	assert.Empty(t, run(t, TestStage{}, c, code).Errors)

	broken := replace(t, code, "service/handlers/posts.go", "http.StatusCreated", "http.StatusOK")
	broken = replace(t, broken, codegen.RouterPath,
		`middleware.RequireAuth(http.HandlerFunc(usersHandler.Get))`, `http.HandlerFunc(usersHandler.Get)`)
	res := run(t, TestStage{}, c, broken)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0].Message, `test "create post": PostsHandler.Create never answers 201`)
	assert.Equal(t, "service/handlers/posts.go", res.Errors[0].File)
	assert.Contains(t, res.Errors[1].Message, `test "anonymous get": route GET /users/{id} is not authenticated`)
}

func TestTestStageMissingHandler(t *testing.T) {
	c := contracttest.Sample()
	code := generated(t, c)
	code = replace(t, code, "service/handlers/users.go", ") List(", ") ListAll(")
	res := run(t, TestStage{}, c, code)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "UsersHandler.List is not implemented")
}

func TestQualityStageGates(t *testing.T) {
	c := contracttest.Sample()
	c.Validation.QualityGates = contract.QualityGates{MaxFileLines: 5, MaxTodos: 1, MinDocCoverage: 0.75, MaxWarnings: 1}

	src := `package models

// A is documented.
func A() {}

func B() {}

// TODO: remove
// FIXME: also
`
	code := codeOf(t, artifact.File{Path: "service/models/a.go", Content: src})
	prior := []StageResult{NewStageResult(StageStatic, false, nil, []Diagnostic{{}, {}})}
	res := run(t, QualityStage{}, c, code, prior...)

	require.Len(t, res.Errors, 4)
	assert.Equal(t, []Kind{KindQuality, KindQuality, KindQuality, KindQuality}, kinds(res.Errors))
	assert.Equal(t, "file has 9 lines, limit is 5", res.Errors[0].Message)
	assert.Equal(t, "2 TODO markers, limit is 1", res.Errors[1].Message)
	assert.Contains(t, res.Errors[2].Message, "doc comment coverage 50%")
	assert.Equal(t, "2 warnings from earlier stages, limit is 1", res.Errors[3].Message)
	assert.Len(t, res.Warnings, 2)
}

func TestQualityStageZeroGatesDisable(t *testing.T) {
	c := contracttest.Sample()
	c.Validation.QualityGates = contract.QualityGates{}
	code := codeOf(t, artifact.File{Path: "a.go", Content: strings.Repeat("// TODO\n", 50)})
	res := run(t, QualityStage{}, c, code)
	assert.True(t, res.Passed)
	assert.Len(t, res.Warnings, 50)
}

func TestDocCoverageCountsGroupedDeclarations(t *testing.T) {
	src := `package models

// Role values.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type (
	// A is documented.
	A struct{}
	B struct{}
)

var hidden = 1
`
	exported, documented := goDocCoverage(artifact.File{Path: "m.go", Content: src})
	assert.Equal(t, 4, exported)
	assert.Equal(t, 3, documented)
}

func TestSecurityStage(t *testing.T) {
	c := contracttest.Sample()
	code := generated(t, c)
	code = replace(t, code, codegen.RouterPath,
		`middleware.RequireAuth(http.HandlerFunc(usersHandler.Delete))`, `http.HandlerFunc(usersHandler.Delete)`)

	e := artifact.NewEdit(code)
	e.Set("service/handlers/legacy.go", `package handlers

import "crypto/tls"

const apiKey = "sk-live-0123456789abcdef"

var cfg = &tls.Config{InsecureSkipVerify: true}

func query(id string) string {
	return "SELECT * FROM users WHERE id = '" + id + "'"
}
`, contract.ComponentService)
	code, err := e.Apply(code.Meta)
	require.NoError(t, err)

	res := run(t, SecurityStage{}, c, code)
	var msgs []string
	for _, d := range res.Errors {
		assert.Equal(t, KindSecurity, d.Kind)
		msgs = append(msgs, d.File+": "+d.Message)
	}
	assert.ElementsMatch(t, []string{
		"service/handlers/legacy.go: hard-coded credential",
		"service/handlers/legacy.go: TLS certificate verification disabled",
		codegen.RouterPath + ": route DELETE /users/{id} of authenticated resource users is not wrapped by RequireAuth",
	}, msgs)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 10, res.Warnings[0].Line)
}

func TestRuntimeStage(t *testing.T) {
	c := contracttest.Sample()
	code := generated(t, c)

	res := run(t, RuntimeStage{}, c, code)
	assert.True(t, res.Passed)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, KindRuntime, res.Warnings[0].Kind)

	mock := &mockCmd{results: []mockResult{{Stderr: "./handlers/users.go:3:2: undefined: foo", ExitCode: 1}}}
	stage := RuntimeStage{Commands: CommandSet{
		Runner: NewRunner(mock),
		Checks: []CheckConfig{{Name: "vet", Command: "go vet ./...", Parser: "govet", Dir: "service"}},
	}}
	res = run(t, stage, c, code)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindRuntime, res.Errors[0].Kind)
	assert.Equal(t, "service/handlers/users.go", res.Errors[0].File)
	assert.Equal(t, "go vet ./...", mock.calls[0].Command)
}
