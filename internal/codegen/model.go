package codegen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lucasnoah/contractforge/internal/contract"
)

// entityView is an entity with every derived name resolved once, so all
// artifacts agree on spelling. Fields holds the managed id first, then user
// fields in declaration order, then the managed timestamps; each managed
// field appears exactly once whatever the contract declared.
type entityView struct {
	Name        string
	Doc         string
	File        string // snake_case file stem
	Table       string
	Fields      []fieldView
	Enums       []enumView
	NeedsJSON   bool
	RequiredIDs []string // JSON names of required user fields
	// Checked lists the fields Validate inspects.
	Checked []fieldView
}

// NeedsErrors reports whether the model's Validate method returns errors.
func (e *entityView) NeedsErrors() bool { return len(e.Checked) > 0 }

type fieldView struct {
	Source   string // name as declared, empty for managed fields
	GoName   string
	JSONName string
	Column   string
	GoType   string
	TSType   string
	SQLType  string
	APIType  map[string]any
	Required bool
	Unique   bool
	Index    bool
	System   bool
	Enum     bool
	// CheckEmpty is true for required string-like fields the create handler
	// validates.
	CheckEmpty bool
	Default    string // SQL default expression, empty when none
	RefTable   string
}

type enumView struct {
	GoType string
	TSType string
	Values []enumValue
}

type enumValue struct {
	Const string
	Value string
}

// resourceView is an API resource with its entity resolved.
type resourceView struct {
	Name       string
	Pascal     string
	Var        string // router variable holding the handler
	File       string
	Path       string
	Entity     *entityView
	Auth       bool
	List       bool
	Get        bool
	Create     bool
	Update     bool
	Delete     bool
	Operations []contract.Operation
}

// NeedsTime reports whether the handler writes timestamps.
func (r resourceView) NeedsTime() bool { return r.Create || r.Update }

// NeedsJSONDecode reports whether the handler decodes request bodies.
func (r resourceView) NeedsJSONDecode() bool { return r.Create || r.Update }

func buildEntities(c *contract.Contract) []*entityView {
	out := make([]*entityView, 0, len(c.Definition.Entities))
	for _, e := range c.Definition.Entities {
		out = append(out, buildEntity(c, e))
	}
	return out
}

func buildEntity(c *contract.Contract, e contract.Entity) *entityView {
	v := &entityView{
		Name:  e.Name,
		Doc:   strings.Join(strings.Fields(e.Description), " "),
		File:  snake(e.Name),
		Table: plural(snake(e.Name)),
	}

	v.Fields = append(v.Fields, fieldView{
		GoName: "ID", JSONName: "id", Column: "id",
		GoType: "string", TSType: "string", SQLType: "UUID PRIMARY KEY",
		APIType:  map[string]any{"type": "string", "description": "Server-assigned UUID."},
		Required: true, System: true,
	})

	for _, f := range e.UserFields() {
		fv := buildField(c, e, f)
		if f.Type.Kind == contract.KindEnum {
			ev := enumView{GoType: fv.GoType, TSType: fv.TSType}
			for _, val := range f.Type.Values {
				ev.Values = append(ev.Values, enumValue{Const: fv.GoType + pascal(val), Value: val})
			}
			v.Enums = append(v.Enums, ev)
		}
		if f.Type.Kind == contract.KindJSON {
			v.NeedsJSON = true
		}
		if fv.Required {
			v.RequiredIDs = append(v.RequiredIDs, fv.JSONName)
		}
		if fv.CheckEmpty || fv.Enum {
			v.Checked = append(v.Checked, fv)
		}
		v.Fields = append(v.Fields, fv)
	}

	for _, sys := range []struct{ goName, json, column string }{
		{"CreatedAt", "createdAt", "created_at"},
		{"UpdatedAt", "updatedAt", "updated_at"},
	} {
		v.Fields = append(v.Fields, fieldView{
			GoName: sys.goName, JSONName: sys.json, Column: sys.column,
			GoType: "time.Time", TSType: "string", SQLType: "TIMESTAMPTZ NOT NULL DEFAULT now()",
			APIType:  map[string]any{"type": "string", "format": "date-time"},
			Required: true, System: true,
		})
	}
	return v
}

func buildField(c *contract.Contract, e contract.Entity, f contract.Field) fieldView {
	fv := fieldView{
		Source:   f.Name,
		GoName:   pascal(f.Name),
		JSONName: camel(f.Name),
		Column:   snake(f.Name),
		Required: f.Has(contract.AnnRequired),
		Unique:   f.Has(contract.AnnUnique),
		Index:    f.Has(contract.AnnIndex),
	}
	maxLen := ""
	if a, ok := f.Annotation(contract.AnnMax); ok {
		if _, err := strconv.Atoi(a.Arg); err == nil {
			maxLen = a.Arg
		}
	}

	switch f.Type.Kind {
	case contract.KindString:
		fv.GoType, fv.TSType = "string", "string"
		fv.SQLType = "TEXT"
		fv.APIType = map[string]any{"type": "string"}
		if maxLen != "" {
			fv.SQLType = "VARCHAR(" + maxLen + ")"
			n, _ := strconv.Atoi(maxLen)
			fv.APIType["maxLength"] = n
		}
		fv.CheckEmpty = fv.Required
	case contract.KindText:
		fv.GoType, fv.TSType, fv.SQLType = "string", "string", "TEXT"
		fv.APIType = map[string]any{"type": "string"}
		fv.CheckEmpty = fv.Required
	case contract.KindUUID:
		fv.GoType, fv.TSType, fv.SQLType = "string", "string", "UUID"
		fv.APIType = map[string]any{"type": "string"}
		fv.CheckEmpty = fv.Required
	case contract.KindInt:
		fv.GoType, fv.TSType, fv.SQLType = "int64", "number", "BIGINT"
		fv.APIType = map[string]any{"type": "integer", "format": "int64"}
	case contract.KindFloat:
		fv.GoType, fv.TSType, fv.SQLType = "float64", "number", "DOUBLE PRECISION"
		fv.APIType = map[string]any{"type": "number", "format": "double"}
	case contract.KindBool:
		fv.GoType, fv.TSType, fv.SQLType = "bool", "boolean", "BOOLEAN"
		fv.APIType = map[string]any{"type": "boolean"}
	case contract.KindTime:
		fv.GoType, fv.TSType, fv.SQLType = "time.Time", "string", "TIMESTAMPTZ"
		fv.APIType = map[string]any{"type": "string", "format": "date-time"}
	case contract.KindJSON:
		fv.GoType, fv.TSType, fv.SQLType = "json.RawMessage", "unknown", "JSONB"
		fv.APIType = map[string]any{"type": "object"}
	case contract.KindEnum:
		fv.GoType = e.Name + pascal(f.Name)
		fv.TSType = fv.GoType
		quoted := make([]string, len(f.Type.Values))
		vals := make([]any, len(f.Type.Values))
		for i, val := range f.Type.Values {
			quoted[i] = sqlQuote(val)
			vals[i] = val
		}
		fv.SQLType = fmt.Sprintf("TEXT CHECK (%s IN (%s))", fv.Column, strings.Join(quoted, ", "))
		fv.APIType = map[string]any{"type": "string", "enum": vals}
		fv.CheckEmpty = fv.Required
		fv.Enum = true
	case contract.KindRef:
		if !strings.HasSuffix(strings.ToLower(snake(f.Name)), "_id") && !strings.EqualFold(f.Name, "id") {
			fv.GoName += "ID"
			fv.JSONName += "Id"
			fv.Column += "_id"
		}
		fv.GoType, fv.TSType, fv.SQLType = "string", "string", "UUID"
		if target, ok := c.Entity(f.Type.Target); ok {
			fv.RefTable = plural(snake(target.Name))
		}
		fv.APIType = map[string]any{"type": "string", "description": "ID of the referenced " + f.Type.Target + "."}
		fv.CheckEmpty = fv.Required
	}

	if a, ok := f.Annotation(contract.AnnDefault); ok {
		fv.Default = sqlDefault(f.Type, a.Arg)
		if f.Type.Kind == contract.KindEnum && fv.Default != "" {
			fv.APIType["default"] = a.Arg
		}
	}
	return fv
}

// SQLColumn renders the column definition line without a trailing comma.
func (f fieldView) SQLColumn() string {
	parts := []string{f.Column, f.SQLType}
	if f.System {
		return strings.Join(parts, " ")
	}
	if f.Required {
		parts = append(parts, "NOT NULL")
	}
	if f.Unique {
		parts = append(parts, "UNIQUE")
	}
	if f.Default != "" {
		parts = append(parts, "DEFAULT "+f.Default)
	}
	if f.RefTable != "" {
		parts = append(parts, fmt.Sprintf("REFERENCES %s (id)", f.RefTable))
	}
	return strings.Join(parts, " ")
}

// JSONTag renders the struct tag body for the Go model.
func (f fieldView) JSONTag() string {
	if f.Required || f.System {
		return f.JSONName
	}
	return f.JSONName + ",omitempty"
}

// TSOptional is "?" for fields a client may omit.
func (f fieldView) TSOptional() string {
	if f.Required || f.System {
		return ""
	}
	return "?"
}

func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sqlDefault(t contract.FieldType, arg string) string {
	switch t.Kind {
	case contract.KindString, contract.KindText:
		return sqlQuote(arg)
	case contract.KindEnum:
		for _, v := range t.Values {
			if v == arg {
				return sqlQuote(arg)
			}
		}
		return ""
	case contract.KindInt:
		if _, err := strconv.ParseInt(arg, 10, 64); err == nil {
			return arg
		}
	case contract.KindFloat:
		if _, err := strconv.ParseFloat(arg, 64); err == nil {
			return arg
		}
	case contract.KindBool:
		if b, err := strconv.ParseBool(arg); err == nil {
			return strings.ToUpper(strconv.FormatBool(b))
		}
	case contract.KindTime:
		if strings.EqualFold(arg, "now") {
			return "now()"
		}
	case contract.KindUUID, contract.KindJSON, contract.KindRef:
	}
	return ""
}

func buildResources(c *contract.Contract, entities []*entityView) []resourceView {
	byName := make(map[string]*entityView, len(entities))
	for _, e := range entities {
		byName[e.Name] = e
	}
	out := make([]resourceView, 0, len(c.Definition.API.Resources))
	for _, r := range c.Definition.API.Resources {
		rv := resourceView{
			Name:   r.Name,
			Pascal: pascal(r.Name),
			Var:    camel(r.Name) + "Handler",
			File:   snake(r.Name),
			Path:   strings.TrimRight(r.Path, "/"),
			Entity: byName[r.Entity],
			Auth:   r.Auth,
		}
		for _, op := range contract.Operations {
			if !r.Supports(op) {
				continue
			}
			rv.Operations = append(rv.Operations, op)
			switch op {
			case contract.OpList:
				rv.List = true
			case contract.OpGet:
				rv.Get = true
			case contract.OpCreate:
				rv.Create = true
			case contract.OpUpdate:
				rv.Update = true
			case contract.OpDelete:
				rv.Delete = true
			}
		}
		out = append(out, rv)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// RoutePattern returns the net/http pattern for op, e.g. "GET /users/{id}".
func (r resourceView) RoutePattern(op contract.Operation) string {
	p := r.Path
	if op.ItemRoute() {
		p += "/{id}"
	}
	return op.Method() + " " + p
}

// HandlerMethod names the handler method serving op.
func HandlerMethod(op contract.Operation) string {
	return pascal(string(op))
}
