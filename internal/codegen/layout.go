package codegen

import (
	"strings"

	"github.com/lucasnoah/contractforge/internal/contract"
)

// Fixed paths of the built-in templates.
const (
	RouterPath    = "service/router.go"
	MigrationPath = "schema/migrations/0001_init.sql"
	OpenAPIPath   = "docs/openapi.yaml"
	ClientPath    = "ui/src/api/client.ts"
	AuthPath      = "service/middleware/auth.go"
)

// ModelPath returns the file holding entity's model for comp. Schema and
// docs models share one file per component.
func ModelPath(comp contract.Component, entity string) string {
	switch comp {
	case contract.ComponentService:
		return "service/models/" + snake(entity) + ".go"
	case contract.ComponentUI:
		return "ui/src/types/" + snake(entity) + ".ts"
	case contract.ComponentSchema:
		return MigrationPath
	case contract.ComponentDocs:
		return OpenAPIPath
	}
	return ""
}

// TableName returns the SQL table of entity.
func TableName(entity string) string {
	return plural(snake(entity))
}

// HandlerPath returns the Go file serving resource.
func HandlerPath(resource string) string {
	return "service/handlers/" + snake(resource) + ".go"
}

// HandlerType returns the Go type serving resource.
func HandlerType(resource string) string {
	return pascal(resource) + "Handler"
}

// RoutePattern returns the ServeMux pattern for op on r.
func RoutePattern(r contract.Resource, op contract.Operation) string {
	p := strings.TrimRight(r.Path, "/")
	if op.ItemRoute() {
		p += "/{id}"
	}
	return op.Method() + " " + p
}

// FieldNames returns the JSON property and SQL column field is rendered as.
// Fields the entity does not declare get the default spelling.
func FieldNames(c *contract.Contract, entity, field string) (jsonName, column string) {
	if e, ok := c.Entity(entity); ok {
		for _, f := range e.Fields {
			if f.Name != field {
				continue
			}
			if slot, ok := f.SystemSlot(); ok {
				switch slot {
				case contract.SysID:
					return "id", "id"
				case contract.SysCreatedAt:
					return "createdAt", "created_at"
				case contract.SysUpdatedAt:
					return "updatedAt", "updated_at"
				}
			}
			fv := buildField(c, *e, f)
			return fv.JSONName, fv.Column
		}
	}
	return camel(field), snake(field)
}
