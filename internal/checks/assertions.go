package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/codegen"
	"github.com/lucasnoah/contractforge/internal/contract"
)

// AssertionStage evaluates the contract's assertions and acceptance criteria
// and checks that every entity has a model in each generated component.
type AssertionStage struct{}

func (AssertionStage) Name() string   { return StageAssertions }
func (AssertionStage) Critical() bool { return true }

func (AssertionStage) Run(_ context.Context, c *contract.Contract, code artifact.Code, _ []StageResult) (StageResult, error) {
	var errs []Diagnostic
	failedIDs := make(map[string]bool)
	for _, a := range c.Validation.Assertions {
		if d, ok := evalAssertion(c, code, a); !ok {
			failedIDs[a.ID] = true
			errs = append(errs, d)
		}
	}

	for _, cr := range c.Validation.AcceptanceCriteria {
		var unmet []string
		for _, id := range cr.Verify {
			if failedIDs[id] {
				unmet = append(unmet, id)
			}
		}
		if len(unmet) > 0 {
			errs = append(errs, Diagnostic{
				Kind:    KindAssertion,
				Message: fmt.Sprintf("acceptance criterion %s unmet (failing: %s): %s", cr.ID, strings.Join(unmet, ", "), cr.Text),
			})
		}
	}

	errs = append(errs, checkModels(c, code)...)
	return NewStageResult(StageAssertions, true, errs, nil), nil
}

func evalAssertion(c *contract.Contract, code artifact.Code, a contract.Assertion) (Diagnostic, bool) {
	fail := func(file, format string, args ...any) (Diagnostic, bool) {
		return Diagnostic{
			Kind:    KindAssertion,
			File:    file,
			Message: fmt.Sprintf("assertion %s: ", a.ID) + fmt.Sprintf(format, args...),
		}, false
	}

	switch a.Kind {
	case contract.AssertFileExists:
		if _, ok := code.Get(a.Path); !ok {
			return fail(a.Path, "file %s was not generated", a.Path)
		}
	case contract.AssertContains:
		f, ok := code.Get(a.Path)
		if !ok {
			return fail(a.Path, "file %s was not generated", a.Path)
		}
		if !strings.Contains(f.Content, a.Pattern) {
			return fail(a.Path, "%s does not contain %q", a.Path, a.Pattern)
		}
	case contract.AssertNotContains:
		if f, ok := code.Get(a.Path); ok && strings.Contains(f.Content, a.Pattern) {
			return fail(a.Path, "%s must not contain %q", a.Path, a.Pattern)
		}
	case contract.AssertMatches:
		f, ok := code.Get(a.Path)
		if !ok {
			return fail(a.Path, "file %s was not generated", a.Path)
		}
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return fail(a.Path, "invalid pattern %q: %v", a.Pattern, err)
		}
		if !re.MatchString(f.Content) {
			return fail(a.Path, "%s does not match %q", a.Path, a.Pattern)
		}
	case contract.AssertEntityField:
		return evalEntityField(c, code, a)
	case contract.AssertRoute:
		router, ok := code.Get(codegen.RouterPath)
		if !ok {
			return fail(codegen.RouterPath, "route %s %s: no router was generated", a.Method, a.Route)
		}
		pattern := strings.ToUpper(a.Method) + " " + a.Route
		if !strings.Contains(router.Content, `"`+pattern+`"`) {
			return fail(codegen.RouterPath, "route %s is not registered", pattern)
		}
	default:
		return fail("", "unknown assertion kind %q", a.Kind)
	}
	return Diagnostic{}, true
}

// evalEntityField checks that the field appears in every generated model of
// the entity.
func evalEntityField(c *contract.Contract, code artifact.Code, a contract.Assertion) (Diagnostic, bool) {
	jsonName, column := codegen.FieldNames(c, a.Entity, a.Field)
	var missing []string
	var file string
	for _, comp := range generatedComponents(code) {
		p := codegen.ModelPath(comp, a.Entity)
		f, ok := code.Get(p)
		if !ok {
			continue
		}
		var present bool
		switch comp {
		case contract.ComponentService:
			present = strings.Contains(f.Content, `json:"`+jsonName+`"`) || strings.Contains(f.Content, `json:"`+jsonName+`,`)
		case contract.ComponentUI:
			present = regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(jsonName) + `\??:`).MatchString(f.Content)
		case contract.ComponentSchema:
			body, ok := tableBody(f.Content, codegen.TableName(a.Entity))
			present = ok && regexp.MustCompile(`(?m)^\s*`+regexp.QuoteMeta(column)+`\s`).MatchString(body)
		case contract.ComponentDocs:
			present = openAPIHasProperty(f.Content, a.Entity, jsonName)
		}
		if !present {
			missing = append(missing, p)
			if file == "" {
				file = p
			}
		}
	}
	if len(missing) > 0 {
		return Diagnostic{
			Kind:    KindAssertion,
			File:    file,
			Message: fmt.Sprintf("assertion %s: field %s.%s missing from %s", a.ID, a.Entity, a.Field, strings.Join(missing, ", ")),
		}, false
	}
	return Diagnostic{}, true
}

// checkModels requires a model of every entity in each generated component.
func checkModels(c *contract.Contract, code artifact.Code) []Diagnostic {
	var out []Diagnostic
	for _, comp := range generatedComponents(code) {
		for _, e := range c.Definition.Entities {
			p := codegen.ModelPath(comp, e.Name)
			f, ok := code.Get(p)
			present := ok
			if ok {
				switch comp {
				case contract.ComponentService:
					present = regexp.MustCompile(`(?m)^type\s+` + regexp.QuoteMeta(e.Name) + `\s+struct\b`).MatchString(f.Content)
				case contract.ComponentUI:
					present = regexp.MustCompile(`(?m)^export\s+(interface|type)\s+` + regexp.QuoteMeta(e.Name) + `\b`).MatchString(f.Content)
				case contract.ComponentSchema:
					_, present = tableBody(f.Content, codegen.TableName(e.Name))
				case contract.ComponentDocs:
					present = openAPIHasSchema(f.Content, e.Name)
				}
			}
			if !present {
				out = append(out, Diagnostic{
					Kind:    KindAssertion,
					File:    p,
					Message: fmt.Sprintf("entity %s has no %s model in %s", e.Name, comp, p),
				})
			}
		}
	}
	return out
}

// generatedComponents returns the components recorded in the code metadata,
// in emission order.
func generatedComponents(code artifact.Code) []contract.Component {
	var out []contract.Component
	for _, comp := range contract.Components {
		for _, t := range code.Meta.Targets {
			if t == string(comp) {
				out = append(out, comp)
			}
		}
	}
	return out
}

// tableBody returns the column lines of the CREATE TABLE statement for table.
func tableBody(sql, table string) (string, bool) {
	re := regexp.MustCompile(`(?is)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?"?` + regexp.QuoteMeta(table) + `"?\s*\((.*?)\n\s*\)\s*;`)
	m := re.FindStringSubmatch(sql)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type openAPIComponents struct {
	Components struct {
		Schemas map[string]struct {
			Properties map[string]any `yaml:"properties"`
		} `yaml:"schemas"`
	} `yaml:"components"`
}

func parseOpenAPI(doc string) (openAPIComponents, bool) {
	var out openAPIComponents
	if err := yaml.Unmarshal([]byte(doc), &out); err != nil {
		return out, false
	}
	return out, true
}

func openAPIHasSchema(doc, name string) bool {
	d, ok := parseOpenAPI(doc)
	if !ok {
		return false
	}
	_, ok = d.Components.Schemas[name]
	return ok
}

func openAPIHasProperty(doc, schema, prop string) bool {
	d, ok := parseOpenAPI(doc)
	if !ok {
		return false
	}
	s, ok := d.Components.Schemas[schema]
	if !ok {
		return false
	}
	_, ok = s.Properties[prop]
	return ok
}
