package checks

import (
	"fmt"
	"go/parser"
	"go/token"
	"path"
	"regexp"
	"strings"

	"github.com/lucasnoah/contractforge/internal/artifact"
)

// A declaration block opens on one line and closes at the first later line
// whose trimmed text starts with "}" or ")". Members are one per line.
type blockRule struct {
	open   *regexp.Regexp
	label  func(m []string) string
	member func(line string) []string
}

type topLevelRule struct {
	re   *regexp.Regexp
	name func(m []string) string
	kind string
}

var (
	goBlocks = []blockRule{
		{
			open:   regexp.MustCompile(`^\s*type\s+(\w+)\s+(struct|interface)\s*\{\s*$`),
			label:  func(m []string) string { return m[2] + " " + m[1] },
			member: goMember,
		},
		{
			open:   regexp.MustCompile(`^\s*(import|const|var)\s*\(\s*$`),
			label:  func(m []string) string { return m[1] + " block" },
			member: goSpec,
		},
	}
	goTopLevel = []topLevelRule{
		{re: regexp.MustCompile(`^func\s+(\w+)\s*[\[(]`), name: func(m []string) string { return m[1] }, kind: "function"},
		{re: regexp.MustCompile(`^func\s+\(\s*(?:\w+\s+)?\*?\s*(\w+)(?:\[[^\]]*\])?\s*\)\s*(\w+)\s*\(`), name: func(m []string) string { return m[1] + "." + m[2] }, kind: "method"},
		{re: regexp.MustCompile(`^type\s+(\w+)\b`), name: func(m []string) string { return m[1] }, kind: "type"},
	}

	tsBlocks = []blockRule{
		{
			open:   regexp.MustCompile(`^\s*(?:export\s+)?interface\s+(\w+)(?:<[^>]*>)?(?:\s+extends\s+[^{]+)?\s*\{\s*$`),
			label:  func(m []string) string { return "interface " + m[1] },
			member: tsMember,
		},
		{
			open:   regexp.MustCompile(`^\s*(?:export\s+)?type\s+(\w+)(?:<[^>]*>)?\s*=\s*\{\s*$`),
			label:  func(m []string) string { return "type " + m[1] },
			member: tsMember,
		},
	}
	tsTopLevel = []topLevelRule{
		{re: regexp.MustCompile(`^export\s+(?:default\s+)?(?:interface|type|class|function|const|let|enum)\s+(\w+)`), name: func(m []string) string { return m[1] }, kind: "export"},
		{re: regexp.MustCompile(`^import\s+.+$`), name: func(m []string) string { return strings.TrimSpace(m[0]) }, kind: "import"},
	}

	sqlBlocks = []blockRule{
		{
			open:   regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?("?[\w.]+"?)\s*\(\s*$`),
			label:  func(m []string) string { return "table " + strings.Trim(m[1], `"`) },
			member: sqlColumn,
		},
	}
	sqlTopLevel = []topLevelRule{
		{re: regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?("?[\w.]+"?)`), name: func(m []string) string { return strings.ToLower(strings.Trim(m[1], `"`)) }, kind: "table"},
		{re: regexp.MustCompile(`(?i)^\s*CREATE\s+(?:UNIQUE\s+)?INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?("?\w+"?)`), name: func(m []string) string { return strings.ToLower(strings.Trim(m[1], `"`)) }, kind: "index"},
	}
)

var goIdentRe = regexp.MustCompile(`^[A-Za-z_]\w*`)

// goMember names the fields or method declared on a struct or interface line.
func goMember(line string) []string {
	line = stripLineComment(line)
	if line == "" {
		return nil
	}
	if i := strings.Index(line, "("); i > 0 && goIdentRe.MatchString(line[:i]) && goIdentRe.FindString(line) == line[:i] {
		return []string{line[:i]}
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	// "A, B int" declares two fields; "*Embedded" and "pkg.Type" embed one.
	var names []string
	for _, f := range fields {
		names = append(names, strings.TrimRight(f, ","))
		if !strings.HasSuffix(f, ",") {
			break
		}
	}
	if len(names) == 1 {
		names[0] = strings.TrimPrefix(names[0], "*")
	}
	return names
}

// goSpec names an import, const or var spec.
func goSpec(line string) []string {
	line = stripLineComment(line)
	if line == "" {
		return nil
	}
	if strings.Contains(line, `"`) {
		return []string{strings.Join(strings.Fields(line), " ")}
	}
	if m := goIdentRe.FindString(line); m != "" && m != "_" {
		return []string{m}
	}
	return nil
}

var tsMemberRe = regexp.MustCompile(`^(?:readonly\s+)?["']?([A-Za-z_$][\w$]*)["']?\??\s*[:(]`)

func tsMember(line string) []string {
	line = stripLineComment(line)
	if m := tsMemberRe.FindStringSubmatch(line); m != nil {
		return []string{m[1]}
	}
	return nil
}

var sqlConstraintRe = regexp.MustCompile(`(?i)^(PRIMARY|FOREIGN|UNIQUE|CONSTRAINT|CHECK|EXCLUDE)\b`)

func sqlColumn(line string) []string {
	line = strings.TrimSpace(line)
	if i := strings.Index(line, "--"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" || sqlConstraintRe.MatchString(line) {
		return nil
	}
	name := strings.Fields(line)[0]
	return []string{strings.ToLower(strings.Trim(strings.TrimRight(name, ","), `"`))}
}

func stripLineComment(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "*") {
		return ""
	}
	if i := strings.Index(line, "//"); i >= 0 && !strings.Contains(line[:i], `"`) && !strings.Contains(line[:i], "`") {
		line = strings.TrimSpace(line[:i])
	}
	return line
}

// goDeclEnds maps the first line of each top-level Go declaration to its
// last line. It returns nil when the file does not parse.
func goDeclEnds(src string) map[int]int {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", src, parser.SkipObjectResolution)
	if err != nil {
		return nil
	}
	ends := make(map[int]int, len(file.Decls))
	for _, d := range file.Decls {
		ends[fset.Position(d.Pos()).Line] = fset.Position(d.End()).Line
	}
	return ends
}

// declEnd returns the index of the last line of the top-level declaration
// starting at lines[start].
func declEnd(ext string, lines []string, start int, goEnds map[int]int) int {
	switch ext {
	case ".go":
		if end, ok := goEnds[start+1]; ok {
			return end - 1
		}
	case ".sql":
		for j := start; j < len(lines); j++ {
			code, _, _ := strings.Cut(lines[j], "--")
			if strings.Contains(code, ";") {
				return j
			}
		}
	}
	return balancedEnd(lines, start)
}

// balancedEnd returns the index of the line where the brackets opened from
// lines[start] onward are all closed.
func balancedEnd(lines []string, start int) int {
	depth := 0
	for j := start; j < len(lines); j++ {
		for _, c := range stripLineComment(lines[j]) {
			switch c {
			case '{', '(', '[':
				depth++
			case '}', ')', ']':
				depth--
			}
		}
		if depth <= 0 {
			return j
		}
	}
	return len(lines) - 1
}

// scanDuplicates reports members declared twice inside one block and
// top-level names declared twice in one file. Member and import duplicates
// carry the fix hint "delete-line". Other top-level duplicates carry
// "delete-span" with Line..EndLine covering the later declaration.
func scanDuplicates(f artifact.File) []Diagnostic {
	var blocks []blockRule
	var top []topLevelRule
	ext := strings.ToLower(path.Ext(f.Path))
	switch ext {
	case ".go":
		blocks, top = goBlocks, goTopLevel
	case ".ts", ".tsx":
		blocks, top = tsBlocks, tsTopLevel
	case ".sql":
		blocks, top = sqlBlocks, sqlTopLevel
	default:
		return nil
	}

	lines := strings.Split(f.Content, "\n")
	var diags []Diagnostic
	var goEnds map[int]int
	if ext == ".go" {
		goEnds = goDeclEnds(f.Content)
	}

	topSeen := make(map[string]int)
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		for _, r := range top {
			m := r.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := r.name(m)
			if name == "init" || name == "_" {
				break
			}
			key := r.kind + " " + name
			if first, ok := topSeen[key]; ok {
				d := Diagnostic{
					Kind:    KindDuplicateDeclaration,
					File:    f.Path,
					Line:    i + 1,
					Message: fmt.Sprintf("%s %s redeclared (first declared on line %d)", r.kind, name, first),
				}
				if r.kind == "import" {
					d.Fix = "delete-line"
				} else {
					d.Fix = "delete-span"
					d.EndLine = declEnd(ext, lines, i, goEnds) + 1
				}
				diags = append(diags, d)
			} else {
				topSeen[key] = i + 1
			}
			break
		}

		for _, b := range blocks {
			m := b.open.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			label := b.label(m)
			members := make(map[string]int)
			j := i + 1
			for ; j < len(lines); j++ {
				t := strings.TrimSpace(lines[j])
				if strings.HasPrefix(t, "}") || strings.HasPrefix(t, ")") {
					break
				}
				for _, name := range b.member(lines[j]) {
					if first, ok := members[name]; ok {
						diags = append(diags, Diagnostic{
							Kind:    KindDuplicateDeclaration,
							File:    f.Path,
							Line:    j + 1,
							Message: fmt.Sprintf("duplicate %s in %s (first declared on line %d)", name, label, first),
							Fix:     "delete-line",
						})
						continue
					}
					members[name] = j + 1
				}
			}
			i = j
			break
		}
	}
	return diags
}
