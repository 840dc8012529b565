// Package codegen turns a contract into source files. Generation is pure:
// the same contract and target always yield byte-identical files.
package codegen

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/contract"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Generator renders contracts through the embedded templates.
type Generator struct {
	templates *template.Template
	now       func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock sets the clock used for the metadata timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New parses the embedded templates.
func New(opts ...Option) (*Generator, error) {
	tmpl, err := template.New("").
		Funcs(template.FuncMap{"contains": strings.Contains}).
		ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	g := &Generator{templates: tmpl, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// MustNew is New for callers that treat a template error as a build defect.
func MustNew(opts ...Option) *Generator {
	g, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return g
}

// templateData is shared by every template.
type templateData struct {
	Contract  *contract.Contract
	Module    string
	Entities  []*entityView
	Resources []resourceView
	Routes    []routeView
	Features  contract.Features
	// Auth is true when any route is wrapped by the auth middleware.
	Auth bool
	// Notifiers are the expressions the router registers as write listeners.
	Notifiers []string

	Entity   *entityView
	Resource *resourceView
	Tables   []tableView
}

type routeView struct {
	Pattern string
	Handler string
}

type tableView struct {
	Name    string
	Columns []string
	Indexes []string
	After   []string
}

// Generate validates c and renders every file of the components selected by t.
func (g *Generator) Generate(c *contract.Contract, t contract.Target) (artifact.Code, error) {
	if err := contract.Validate(c); err != nil {
		return artifact.Code{}, err
	}
	res := t.Resolve(c)
	if err := checkStack(res); err != nil {
		return artifact.Code{}, err
	}

	data := g.buildData(c, res)
	var files []artifact.File
	for _, comp := range res.Components {
		var (
			fs  []artifact.File
			err error
		)
		switch comp {
		case contract.ComponentService:
			fs, err = g.service(data)
		case contract.ComponentSchema:
			fs, err = g.schema(data)
		case contract.ComponentUI:
			fs, err = g.ui(data)
		case contract.ComponentDocs:
			fs, err = g.docs(data)
		default:
			err = fmt.Errorf("unknown component %q", comp)
		}
		if err != nil {
			return artifact.Code{}, fmt.Errorf("generating %s: %w", comp, err)
		}
		files = append(files, fs...)
	}
	return artifact.New(files, artifact.Meta{
		GeneratedAt: g.now().UTC(),
		Targets:     res.Names(),
		Origin:      "generate",
	})
}

var (
	backendAliases  = map[string]string{"go-net-http": "go-net-http", "go": "go-net-http", "net/http": "go-net-http"}
	frontendAliases = map[string]string{"typescript": "typescript", "ts": "typescript"}
	databaseAliases = map[string]string{"postgres": "postgres", "postgresql": "postgres"}
)

// checkStack rejects stacks the built-in templates cannot render. Only the
// layers of selected components are checked.
func checkStack(r contract.Resolved) error {
	var errs []contract.ValidationError
	check := func(comp contract.Component, field, value string, known map[string]string) {
		if !r.Includes(comp) {
			return
		}
		if _, ok := known[strings.ToLower(value)]; !ok {
			names := make([]string, 0, len(known))
			for k := range known {
				names = append(names, k)
			}
			sort.Strings(names)
			errs = append(errs, contract.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("unsupported value %q (supported: %s)", value, strings.Join(names, ", ")),
			})
		}
	}
	check(contract.ComponentService, "generation.tech_stack.backend", r.Stack.Backend, backendAliases)
	check(contract.ComponentUI, "generation.tech_stack.frontend", r.Stack.Frontend, frontendAliases)
	check(contract.ComponentSchema, "generation.tech_stack.database", r.Stack.Database, databaseAliases)
	if len(errs) > 0 {
		return &contract.ContractError{Errs: errs}
	}
	return nil
}

func (g *Generator) buildData(c *contract.Contract, res contract.Resolved) *templateData {
	entities := buildEntities(c)
	resources := buildResources(c, entities)
	d := &templateData{
		Contract:  c,
		Module:    moduleName(c.Name),
		Entities:  entities,
		Resources: resources,
		Features:  res.Features,
		Tables:    buildTables(entities),
	}

	if res.Features.Caching {
		d.Notifiers = append(d.Notifiers, "responses")
	}
	if res.Features.Websocket {
		d.Notifiers = append(d.Notifiers, "hub")
	}
	if res.Features.EventSourcing {
		d.Notifiers = append(d.Notifiers, "eventLog")
	}

	for _, r := range resources {
		for _, op := range r.Operations {
			h := fmt.Sprintf("http.HandlerFunc(%s.%s)", r.Var, HandlerMethod(op))
			if res.Features.Caching && op.Method() == "GET" {
				h = "responses.Middleware(" + h + ")"
			}
			if r.Auth {
				h = "middleware.RequireAuth(" + h + ")"
				d.Auth = true
			}
			d.Routes = append(d.Routes, routeView{Pattern: r.RoutePattern(op), Handler: h})
		}
	}
	return d
}

// buildTables orders tables so referenced tables are created first. Foreign
// keys inside a reference cycle are added afterwards with ALTER TABLE.
func buildTables(entities []*entityView) []tableView {
	byTable := make(map[string]*entityView, len(entities))
	for _, e := range entities {
		byTable[e.Table] = e
	}

	var order []*entityView
	state := make(map[string]int) // 0 new, 1 visiting, 2 done
	var visit func(e *entityView)
	visit = func(e *entityView) {
		if state[e.Table] != 0 {
			return
		}
		state[e.Table] = 1
		for _, f := range e.Fields {
			if dep, ok := byTable[f.RefTable]; ok && dep != e {
				visit(dep)
			}
		}
		state[e.Table] = 2
		order = append(order, e)
	}
	for _, e := range entities {
		visit(e)
	}

	created := make(map[string]bool)
	var tables []tableView
	var deferred []string
	for _, e := range order {
		created[e.Table] = true
		tv := tableView{Name: e.Table}
		for _, f := range e.Fields {
			col := f
			if f.RefTable != "" && !created[f.RefTable] {
				col.RefTable = ""
				deferred = append(deferred, fmt.Sprintf("ALTER TABLE %s ADD FOREIGN KEY (%s) REFERENCES %s (id);", e.Table, f.Column, f.RefTable))
			}
			tv.Columns = append(tv.Columns, col.SQLColumn())
			if f.Index {
				tv.Indexes = append(tv.Indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s);", e.Table, f.Column, e.Table, f.Column))
			}
		}
		tables = append(tables, tv)
	}
	if len(tables) > 0 {
		tables[len(tables)-1].After = deferred
	}
	return tables
}

func (g *Generator) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := g.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return buf.String(), nil
}

// renderGo renders a Go template and formats the result.
func (g *Generator) renderGo(name string, data any) (string, error) {
	src, err := g.render(name, data)
	if err != nil {
		return "", err
	}
	formatted, err := format.Source([]byte(src))
	if err != nil {
		return "", fmt.Errorf("formatting %s: %w", name, err)
	}
	return string(formatted), nil
}

type fileSpec struct {
	path     string
	template string
	data     any
	goSource bool
}

func (g *Generator) renderAll(comp contract.Component, specs []fileSpec) ([]artifact.File, error) {
	out := make([]artifact.File, 0, len(specs))
	for _, s := range specs {
		var (
			content string
			err     error
		)
		if s.goSource {
			content, err = g.renderGo(s.template, s.data)
		} else {
			content, err = g.render(s.template, s.data)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		out = append(out, artifact.File{Path: s.path, Content: content, Component: comp})
	}
	return out, nil
}

func (d templateData) withEntity(e *entityView) templateData {
	d.Entity = e
	return d
}

func (d templateData) withResource(r resourceView) templateData {
	d.Resource = &r
	return d
}

func (g *Generator) service(d *templateData) ([]artifact.File, error) {
	specs := []fileSpec{
		{path: "service/go.mod", template: "go.mod.tmpl", data: d},
		{path: "service/router.go", template: "router.go.tmpl", data: d, goSource: true},
		{path: "service/cmd/server/main.go", template: "main.go.tmpl", data: d, goSource: true},
		{path: "service/handlers/store.go", template: "store.go.tmpl", data: d, goSource: true},
	}
	for _, e := range d.Entities {
		specs = append(specs, fileSpec{
			path: "service/models/" + e.File + ".go", template: "model.go.tmpl", data: d.withEntity(e), goSource: true,
		})
	}
	for _, r := range d.Resources {
		specs = append(specs, fileSpec{
			path: "service/handlers/" + r.File + ".go", template: "handler.go.tmpl", data: d.withResource(r), goSource: true,
		})
	}
	if d.Features.Authentication || d.Auth {
		specs = append(specs, fileSpec{path: "service/middleware/auth.go", template: "auth.go.tmpl", data: d, goSource: true})
	}
	if d.Features.Websocket {
		specs = append(specs, fileSpec{path: "service/realtime/hub.go", template: "hub.go.tmpl", data: d, goSource: true})
	}
	if d.Features.Caching {
		specs = append(specs, fileSpec{path: "service/cache/cache.go", template: "cache.go.tmpl", data: d, goSource: true})
	}
	if d.Features.EventSourcing {
		specs = append(specs, fileSpec{path: "service/events/store.go", template: "events.go.tmpl", data: d, goSource: true})
	}
	if d.Features.Monitoring {
		specs = append(specs, fileSpec{path: "service/metrics/metrics.go", template: "metrics.go.tmpl", data: d, goSource: true})
	}
	return g.renderAll(contract.ComponentService, specs)
}

func (g *Generator) schema(d *templateData) ([]artifact.File, error) {
	return g.renderAll(contract.ComponentSchema, []fileSpec{
		{path: "schema/migrations/0001_init.sql", template: "schema.sql.tmpl", data: d},
	})
}

func (g *Generator) ui(d *templateData) ([]artifact.File, error) {
	specs := []fileSpec{{path: "ui/src/api/client.ts", template: "client.ts.tmpl", data: d}}
	for _, e := range d.Entities {
		specs = append(specs, fileSpec{path: "ui/src/types/" + e.File + ".ts", template: "types.ts.tmpl", data: d.withEntity(e)})
	}
	return g.renderAll(contract.ComponentUI, specs)
}

func (g *Generator) docs(d *templateData) ([]artifact.File, error) {
	files, err := g.renderAll(contract.ComponentDocs, []fileSpec{
		{path: "docs/README.md", template: "readme.md.tmpl", data: d},
	})
	if err != nil {
		return nil, err
	}
	spec, err := openAPIDocument(d)
	if err != nil {
		return nil, fmt.Errorf("docs/openapi.yaml: %w", err)
	}
	return append(files, artifact.File{Path: "docs/openapi.yaml", Content: spec, Component: contract.ComponentDocs}), nil
}

// ClientEntities returns the entities the API client references, deduplicated
// in resource order.
func (d templateData) ClientEntities() []*entityView {
	seen := make(map[string]bool)
	var out []*entityView
	for _, r := range d.Resources {
		if r.Entity == nil || seen[r.Entity.Name] {
			continue
		}
		seen[r.Entity.Name] = true
		out = append(out, r.Entity)
	}
	return out
}

// Uses reports whether any route uses the named Go package.
func (d templateData) Uses(pkg string) bool {
	for _, r := range d.Routes {
		if strings.Contains(r.Handler, pkg+".") {
			return true
		}
	}
	return false
}
