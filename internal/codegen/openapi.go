package codegen

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/contractforge/internal/contract"
)

// openAPIDocument renders an OpenAPI 3.0 description of the generated
// service. Maps marshal with sorted keys, so output is stable.
func openAPIDocument(d *templateData) (string, error) {
	version := d.Contract.Version
	if version == "" {
		version = "0.0.0"
	}

	schemas := map[string]any{
		"Error": map[string]any{
			"type":       "object",
			"properties": map[string]any{"error": map[string]any{"type": "string"}},
		},
	}
	for _, e := range d.Entities {
		schemas[e.Name] = entitySchema(e)
	}

	paths := map[string]any{}
	auth := false
	for _, r := range d.Resources {
		if r.Entity == nil {
			continue
		}
		auth = auth || r.Auth
		for _, op := range r.Operations {
			p := r.Path
			if op.ItemRoute() {
				p += "/{id}"
			}
			item, _ := paths[p].(map[string]any)
			if item == nil {
				item = map[string]any{}
				paths[p] = item
			}
			item[lowerMethod(op)] = operationObject(r, op)
		}
	}

	components := map[string]any{"schemas": schemas}
	if auth {
		components["securitySchemes"] = map[string]any{
			"bearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
		}
	}

	doc := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   d.Contract.Name,
			"version": version,
		},
		"paths":      paths,
		"components": components,
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshalling OpenAPI document: %w", err)
	}
	return string(out), nil
}

func entitySchema(e *entityView) map[string]any {
	props := map[string]any{}
	required := []any{}
	for _, f := range e.Fields {
		props[f.JSONName] = f.APIType
		if f.Required || f.System {
			required = append(required, f.JSONName)
		}
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	if e.Doc != "" {
		s["description"] = e.Doc
	}
	return s
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func jsonContent(schema map[string]any) map[string]any {
	return map[string]any{"application/json": map[string]any{"schema": schema}}
}

func operationObject(r resourceView, op contract.Operation) map[string]any {
	entity := r.Entity.Name
	notFound := map[string]any{"description": "Not found", "content": jsonContent(ref("Error"))}
	badRequest := map[string]any{"description": "Invalid request body", "content": jsonContent(ref("Error"))}

	o := map[string]any{
		"operationId": string(op) + r.Pascal,
		"tags":        []any{r.Name},
	}
	if op.ItemRoute() {
		o["parameters"] = []any{map[string]any{
			"name": "id", "in": "path", "required": true,
			"schema": map[string]any{"type": "string"},
		}}
	}

	responses := map[string]any{}
	switch op {
	case contract.OpList:
		o["summary"] = "List " + r.Name
		responses["200"] = map[string]any{
			"description": "All " + r.Name,
			"content":     jsonContent(map[string]any{"type": "array", "items": ref(entity)}),
		}
	case contract.OpGet:
		o["summary"] = "Get one " + entity
		responses["200"] = map[string]any{"description": "The " + entity, "content": jsonContent(ref(entity))}
		responses["404"] = notFound
	case contract.OpCreate:
		o["summary"] = "Create a " + entity
		o["requestBody"] = map[string]any{"required": true, "content": jsonContent(ref(entity))}
		responses["201"] = map[string]any{"description": "Created", "content": jsonContent(ref(entity))}
		responses["400"] = badRequest
	case contract.OpUpdate:
		o["summary"] = "Replace a " + entity
		o["requestBody"] = map[string]any{"required": true, "content": jsonContent(ref(entity))}
		responses["200"] = map[string]any{"description": "Updated", "content": jsonContent(ref(entity))}
		responses["400"] = badRequest
		responses["404"] = notFound
	case contract.OpDelete:
		o["summary"] = "Delete a " + entity
		responses["204"] = map[string]any{"description": "Deleted"}
		responses["404"] = notFound
	}
	if r.Auth {
		o["security"] = []any{map[string]any{"bearerAuth": []any{}}}
		responses["401"] = map[string]any{"description": "Missing or invalid bearer token"}
	}
	o["responses"] = responses
	return o
}

func lowerMethod(op contract.Operation) string {
	switch op {
	case contract.OpList, contract.OpGet:
		return "get"
	case contract.OpCreate:
		return "post"
	case contract.OpUpdate:
		return "put"
	case contract.OpDelete:
		return "delete"
	}
	return ""
}
