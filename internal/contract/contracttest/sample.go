// Package contracttest provides contract fixtures shared by package tests.
package contracttest

import "github.com/lucasnoah/contractforge/internal/contract"

func mustType(s string) contract.FieldType {
	t, err := contract.ParseFieldType(s)
	if err != nil {
		panic(err)
	}
	return t
}

func ann(s ...string) []contract.Annotation {
	out := make([]contract.Annotation, 0, len(s))
	for _, a := range s {
		parsed, err := contract.ParseAnnotation(a)
		if err != nil {
			panic(err)
		}
		out = append(out, parsed)
	}
	return out
}

// Sample returns a valid two-entity contract. The User entity declares its
// creation timestamp twice, once by name and once by annotation.
func Sample() *contract.Contract {
	return &contract.Contract{
		Name:    "blog",
		Version: "1.0.0",
		Definition: contract.Definition{
			Entities: []contract.Entity{
				{
					Name:        "User",
					Description: "An account that can author posts.",
					Fields: []contract.Field{
						{Name: "id", Type: mustType("uuid"), Annotations: ann("@id")},
						{Name: "email", Type: mustType("string"), Annotations: ann("@unique", "@required", "@max(255)")},
						{Name: "name", Type: mustType("string")},
						{Name: "role", Type: mustType("enum(admin,member)"), Annotations: ann("@default(member)")},
						{Name: "createdAt", Type: mustType("time"), Annotations: ann("@createdAt")},
						{Name: "created_at", Type: mustType("time")},
						{Name: "updatedAt", Type: mustType("time")},
					},
				},
				{
					Name: "Post",
					Fields: []contract.Field{
						{Name: "title", Type: mustType("string"), Annotations: ann("@required")},
						{Name: "body", Type: mustType("text")},
						{Name: "author", Type: mustType("ref(User)"), Annotations: ann("@index")},
						{Name: "published", Type: mustType("bool")},
						{Name: "score", Type: mustType("float")},
						{Name: "views", Type: mustType("int")},
					},
				},
			},
			API: contract.API{
				Resources: []contract.Resource{
					{Name: "users", Entity: "User", Path: "/users", Operations: contract.Operations, Auth: true},
					{Name: "posts", Entity: "Post", Path: "/posts", Operations: []contract.Operation{contract.OpList, contract.OpGet, contract.OpCreate}},
				},
			},
		},
		Generation: contract.Generation{
			Instructions: "Keep handlers thin; persistence is wired later.",
			Features:     contract.Features{Authentication: true},
		},
		Validation: contract.Validation{
			Assertions: []contract.Assertion{
				{ID: "user-model", Kind: contract.AssertFileExists, Path: "service/models/user.go"},
				{ID: "user-email", Kind: contract.AssertEntityField, Entity: "User", Field: "email"},
				{ID: "user-get", Kind: contract.AssertRoute, Method: "GET", Route: "/users/{id}"},
				{ID: "router", Kind: contract.AssertContains, Path: "service/router.go", Pattern: "func NewRouter("},
			},
			Tests: []contract.TestCase{
				{Name: "list users", Resource: "users", Operation: contract.OpList, ExpectStatus: 200},
				{Name: "create post", Resource: "posts", Operation: contract.OpCreate, ExpectStatus: 201},
			},
			QualityGates: contract.QualityGates{MaxFileLines: 400, MinDocCoverage: 0.5},
			AcceptanceCriteria: []contract.Criterion{
				{ID: "AC-1", Text: "Users can be stored with a unique email.", Verify: []string{"user-model", "user-email"}},
			},
		},
	}
}
