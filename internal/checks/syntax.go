package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/contract"
)

// maxSyntaxErrors caps tree-sitter findings per file.
const maxSyntaxErrors = 20

// SyntaxStage parses every file and scans for duplicate declarations and
// malformed paths. Files are checked concurrently.
type SyntaxStage struct{}

func (SyntaxStage) Name() string   { return StageSyntax }
func (SyntaxStage) Critical() bool { return true }

func (SyntaxStage) Run(ctx context.Context, _ *contract.Contract, code artifact.Code, _ []StageResult) (StageResult, error) {
	perFile := make([][]Diagnostic, len(code.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range code.Files {
		g.Go(func() error {
			diags, err := checkFileSyntax(gctx, f)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Path, err)
			}
			perFile[i] = diags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageResult{}, err
	}

	var errs []Diagnostic
	for _, d := range perFile {
		errs = append(errs, d...)
	}
	return NewStageResult(StageSyntax, true, errs, nil), nil
}

func checkFileSyntax(ctx context.Context, f artifact.File) ([]Diagnostic, error) {
	var diags []Diagnostic
	if reason, fixed, bad := malformedPath(f.Path); bad {
		diags = append(diags, Diagnostic{
			Kind:    KindMalformedPath,
			File:    f.Path,
			Message: "malformed path: " + reason,
			Fix:     fixed,
		})
	}

	switch ext := strings.ToLower(path.Ext(f.Path)); ext {
	case ".go", ".ts", ".tsx", ".js", ".jsx", ".mjs":
		d, err := parseTree(ctx, languageFor(ext), f)
		if err != nil {
			return nil, err
		}
		diags = append(diags, d...)
	case ".yaml", ".yml":
		var node yaml.Node
		if err := yaml.Unmarshal([]byte(f.Content), &node); err != nil {
			diags = append(diags, Diagnostic{Kind: KindSyntax, File: f.Path, Line: yamlErrorLine(err), Message: "invalid YAML: " + err.Error()})
		}
	case ".json":
		var v any
		if err := json.Unmarshal([]byte(f.Content), &v); err != nil {
			diags = append(diags, Diagnostic{Kind: KindSyntax, File: f.Path, Line: jsonErrorLine(f.Content, err), Message: "invalid JSON: " + err.Error()})
		}
	}

	diags = append(diags, scanDuplicates(f)...)
	return diags, nil
}

func languageFor(ext string) *sitter.Language {
	switch ext {
	case ".go":
		return golang.GetLanguage()
	case ".ts":
		return typescript.GetLanguage()
	case ".tsx":
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// parseTree reports tree-sitter ERROR and MISSING nodes.
func parseTree(ctx context.Context, lang *sitter.Language, f artifact.File) ([]Diagnostic, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	src := []byte(f.Content)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	defer tree.Close()

	var diags []Diagnostic
	collectTreeErrors(tree.RootNode(), src, f.Path, &diags, 0)
	return diags, nil
}

func collectTreeErrors(n *sitter.Node, src []byte, file string, out *[]Diagnostic, depth int) {
	if n == nil || depth > 1000 || len(*out) >= maxSyntaxErrors {
		return
	}
	if n.IsMissing() {
		*out = append(*out, Diagnostic{
			Kind:    KindSyntax,
			File:    file,
			Line:    int(n.StartPoint().Row) + 1,
			Message: fmt.Sprintf("missing %s", n.Type()),
		})
		return
	}
	if n.IsError() {
		snippet := ""
		start, end := n.StartByte(), n.EndByte()
		if end > uint32(len(src)) {
			end = uint32(len(src))
		}
		if end > start && end-start < 60 {
			snippet = strings.Join(strings.Fields(string(src[start:end])), " ")
		}
		msg := "syntax error"
		if snippet != "" {
			msg = fmt.Sprintf("syntax error near %q", snippet)
		}
		*out = append(*out, Diagnostic{Kind: KindSyntax, File: file, Line: int(n.StartPoint().Row) + 1, Message: msg})
		return
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectTreeErrors(n.Child(i), src, file, out, depth+1)
	}
}

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

func yamlErrorLine(err error) int {
	m := yamlLineRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func jsonErrorLine(content string, err error) int {
	var se *json.SyntaxError
	if !errors.As(err, &se) {
		return 0
	}
	off := int(se.Offset)
	if off > len(content) {
		off = len(content)
	}
	return strings.Count(content[:off], "\n") + 1
}

// malformedPath reports why p is not a clean relative slash path, and the
// normalized form when one exists.
func malformedPath(p string) (reason, fixed string, bad bool) {
	var reasons []string
	s := p
	if strings.TrimSpace(s) != s {
		reasons = append(reasons, "surrounding whitespace")
		s = strings.TrimSpace(s)
	}
	if strings.Contains(s, `\`) {
		reasons = append(reasons, "backslash separator")
		s = strings.ReplaceAll(s, `\`, "/")
	}
	if strings.ContainsAny(s, " \t") {
		reasons = append(reasons, "whitespace")
		s = strings.Join(strings.Fields(s), "_")
	}
	if strings.HasPrefix(s, "/") {
		reasons = append(reasons, "absolute path")
	}
	if strings.HasPrefix(s, "./") {
		reasons = append(reasons, "leading ./")
	}
	if strings.Contains(strings.TrimPrefix(s, "/"), "//") {
		reasons = append(reasons, "empty path segment")
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == ".." {
			reasons = append(reasons, "parent directory segment")
			break
		}
	}
	if len(reasons) == 0 {
		if s == "" {
			return "empty path", "", true
		}
		return "", "", false
	}

	clean := path.Clean("/" + s)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "." {
		clean = ""
	}
	return strings.Join(reasons, ", "), clean, true
}
