package checks

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/contract"
)

// StdlibImports maps package names to the standard library path the
// import fixer inserts for them.
var StdlibImports = map[string]string{
	"atomic":   "sync/atomic",
	"base64":   "encoding/base64",
	"bufio":    "bufio",
	"bytes":    "bytes",
	"context":  "context",
	"errors":   "errors",
	"exec":     "os/exec",
	"expvar":   "expvar",
	"filepath": "path/filepath",
	"fmt":      "fmt",
	"hex":      "encoding/hex",
	"http":     "net/http",
	"httptest": "net/http/httptest",
	"io":       "io",
	"json":     "encoding/json",
	"log":      "log",
	"maps":     "maps",
	"math":     "math",
	"os":       "os",
	"path":     "path",
	"rand":     "crypto/rand",
	"reflect":  "reflect",
	"regexp":   "regexp",
	"runtime":  "runtime",
	"sha256":   "crypto/sha256",
	"signal":   "os/signal",
	"slices":   "slices",
	"slog":     "log/slog",
	"sort":     "sort",
	"sql":      "database/sql",
	"strconv":  "strconv",
	"strings":  "strings",
	"subtle":   "crypto/subtle",
	"sync":     "sync",
	"template": "text/template",
	"testing":  "testing",
	"time":     "time",
	"unicode":  "unicode",
	"url":      "net/url",
	"utf8":     "unicode/utf8",
}

// StaticStage runs cheap source-level analysis: Go import hygiene, OpenAPI
// document validation and panics in generated handlers.
type StaticStage struct{}

func (StaticStage) Name() string   { return StageStatic }
func (StaticStage) Critical() bool { return false }

func (StaticStage) Run(ctx context.Context, _ *contract.Contract, code artifact.Code, _ []StageResult) (StageResult, error) {
	var errs, warnings []Diagnostic
	for _, f := range code.Files {
		switch {
		case strings.HasSuffix(f.Path, ".go"):
			errs = append(errs, checkGoImports(f)...)
			if strings.Contains(f.Path, "/handlers/") {
				warnings = append(warnings, findPanics(f)...)
			}
		case isOpenAPIDoc(f.Path):
			errs = append(errs, checkOpenAPI(ctx, f)...)
		}
	}
	return NewStageResult(StageStatic, false, errs, warnings), nil
}

// importName guesses the package name an import path binds.
func importName(p string) string {
	segs := strings.Split(p, "/")
	name := segs[len(segs)-1]
	if regexp.MustCompile(`^v\d+$`).MatchString(name) && len(segs) > 1 {
		name = segs[len(segs)-2]
	}
	if i := strings.Index(name, ".v"); i > 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "go-")
	return strings.ReplaceAll(name, "-", "")
}

// checkGoImports reports standard library packages used without an import
// and imports that are never referenced. Files that do not parse are left to
// the syntax stage.
func checkGoImports(f artifact.File) []Diagnostic {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, f.Path, f.Content, 0)
	if err != nil {
		return nil
	}

	imported := make(map[string]*ast.ImportSpec)
	for _, spec := range file.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		name := importName(p)
		if spec.Name != nil {
			name = spec.Name.Name
		}
		imported[name] = spec
	}

	used := make(map[string]int) // package name -> first line
	ast.Inspect(file, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		id, ok := sel.X.(*ast.Ident)
		if !ok || id.Obj != nil {
			return true
		}
		if _, seen := used[id.Name]; !seen {
			used[id.Name] = fset.Position(id.Pos()).Line
		}
		return true
	})

	var diags []Diagnostic
	names := make([]string, 0, len(used))
	for n := range used {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := imported[name]; ok {
			continue
		}
		if p, ok := StdlibImports[name]; ok && isUnresolved(file, name) {
			diags = append(diags, Diagnostic{
				Kind:    KindMissingImport,
				File:    f.Path,
				Line:    used[name],
				Message: fmt.Sprintf("undefined: %s (missing import %q)", name, p),
				Fix:     p,
			})
		}
	}

	for _, spec := range file.Imports {
		if spec.Name != nil && (spec.Name.Name == "_" || spec.Name.Name == ".") {
			continue
		}
		p, _ := strconv.Unquote(spec.Path.Value)
		name := importName(p)
		if spec.Name != nil {
			name = spec.Name.Name
		}
		if _, ok := used[name]; ok {
			continue
		}
		diags = append(diags, Diagnostic{
			Kind:    KindUnusedImport,
			File:    f.Path,
			Line:    fset.Position(spec.Pos()).Line,
			Message: fmt.Sprintf("%q imported and not used", p),
			Fix:     "delete-line",
		})
	}
	return diags
}

func isUnresolved(file *ast.File, name string) bool {
	for _, id := range file.Unresolved {
		if id.Name == name {
			return true
		}
	}
	return false
}

var panicRe = regexp.MustCompile(`\bpanic\(`)

func findPanics(f artifact.File) []Diagnostic {
	var out []Diagnostic
	for i, line := range strings.Split(f.Content, "\n") {
		if panicRe.MatchString(stripLineComment(line)) {
			out = append(out, Diagnostic{
				Kind:    KindQuality,
				File:    f.Path,
				Line:    i + 1,
				Message: "handler calls panic; return an HTTP error instead",
			})
		}
	}
	return out
}

func isOpenAPIDoc(p string) bool {
	base := strings.ToLower(path.Base(p))
	return strings.HasPrefix(base, "openapi") && (strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".json"))
}

func checkOpenAPI(ctx context.Context, f artifact.File) []Diagnostic {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData([]byte(f.Content))
	if err != nil {
		return []Diagnostic{{Kind: KindOpenAPI, File: f.Path, Message: "OpenAPI document does not load: " + err.Error()}}
	}
	if err := doc.Validate(ctx); err != nil {
		return []Diagnostic{{Kind: KindOpenAPI, File: f.Path, Message: "invalid OpenAPI document: " + err.Error()}}
	}
	return nil
}
