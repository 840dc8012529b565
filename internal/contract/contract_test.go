package contract_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/contract/contracttest"
)

func TestLoadValidContract(t *testing.T) {
	c, err := contract.Load(filepath.Join("testdata", "blog.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "blog", c.Name)
	require.Len(t, c.Definition.Entities, 2)

	user := c.Definition.Entities[0]
	assert.Equal(t, contract.KindEnum, user.Fields[2].Type.Kind)
	assert.Equal(t, []string{"admin", "member"}, user.Fields[2].Type.Values)
	def, ok := user.Fields[2].Annotation(contract.AnnDefault)
	require.True(t, ok)
	assert.Equal(t, "member", def.Arg)

	post := c.Definition.Entities[1]
	assert.Equal(t, contract.KindRef, post.Fields[1].Type.Kind)
	assert.Equal(t, "User", post.Fields[1].Type.Target)

	assert.True(t, c.Generation.Features.Caching)
	assert.Equal(t, contract.OpList, c.Validation.Tests[0].Operation)
}

func TestSampleIsValid(t *testing.T) {
	require.NoError(t, contract.Validate(contracttest.Sample()))
}

func TestValidateEntityWithoutFields(t *testing.T) {
	c := contracttest.Sample()
	c.Definition.Entities = append(c.Definition.Entities, contract.Entity{Name: "Empty"})

	err := contract.Validate(c)
	var cerr *contract.ContractError
	require.True(t, errors.As(err, &cerr), "want *ContractError, got %v", err)

	found := false
	for _, e := range cerr.Errs {
		if e.Field == "definition.entities[2].fields" {
			found = true
		}
	}
	assert.True(t, found, "expected an error on definition.entities[2].fields, got %v", cerr.Errs)
}

func TestValidateReportsSemanticErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *contract.Contract)
		field  string
		msg    string
	}{
		{
			name:   "duplicate entity",
			mutate: func(c *contract.Contract) { c.Definition.Entities[1].Name = "user" },
			field:  "definition.entities[1].name",
			msg:    "duplicate entity",
		},
		{
			name: "duplicate user field",
			mutate: func(c *contract.Contract) {
				e := &c.Definition.Entities[1]
				e.Fields = append(e.Fields, contract.Field{Name: "Title", Type: contract.FieldType{Kind: contract.KindString}})
			},
			field: "definition.entities[1].fields[6].name",
			msg:   "duplicate field",
		},
		{
			name: "dangling ref",
			mutate: func(c *contract.Contract) {
				c.Definition.Entities[1].Fields[2].Type = contract.FieldType{Kind: contract.KindRef, Target: "Ghost"}
			},
			field: "definition.entities[1].fields[2].type",
			msg:   "undefined entity",
		},
		{
			name:   "resource on unknown entity",
			mutate: func(c *contract.Contract) { c.Definition.API.Resources[1].Entity = "Ghost" },
			field:  "definition.api.resources[1].entity",
			msg:    "undefined entity",
		},
		{
			name: "test on unsupported operation",
			mutate: func(c *contract.Contract) {
				c.Validation.Tests = append(c.Validation.Tests, contract.TestCase{Name: "rm", Resource: "posts", Operation: contract.OpDelete})
			},
			field: "validation.tests[2].operation",
			msg:   "does not expose",
		},
		{
			name: "assertion missing pattern",
			mutate: func(c *contract.Contract) {
				c.Validation.Assertions = append(c.Validation.Assertions, contract.Assertion{ID: "x", Kind: contract.AssertContains, Path: "a.go"})
			},
			field: "validation.assertions[4].pattern",
			msg:   "is required",
		},
		{
			name: "criterion references unknown assertion",
			mutate: func(c *contract.Contract) {
				c.Validation.AcceptanceCriteria[0].Verify = append(c.Validation.AcceptanceCriteria[0].Verify, "nope")
			},
			field: "validation.acceptance_criteria[0].verify",
			msg:   "undefined assertion",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contracttest.Sample()
			tt.mutate(c)
			err := contract.Validate(c)
			var cerr *contract.ContractError
			require.True(t, errors.As(err, &cerr), "want *ContractError, got %v", err)
			found := false
			for _, e := range cerr.Errs {
				if e.Field == tt.field && strings.Contains(e.Message, tt.msg) {
					found = true
				}
			}
			assert.True(t, found, "missing %s: %q in %v", tt.field, tt.msg, cerr.Errs)
		})
	}
}

func TestSystemFieldsMayRepeat(t *testing.T) {
	c := contracttest.Sample()
	user := c.Definition.Entities[0]
	assert.Equal(t, []string{"email", "name", "role"}, fieldNames(user.UserFields()))

	slot, ok := user.Fields[5].SystemSlot()
	require.True(t, ok)
	assert.Equal(t, contract.SysCreatedAt, slot)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := contract.Parse([]byte("name: x\ndefinitoin: {}\n"))
	var cerr *contract.ContractError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Error(), "definitoin")
}

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "string", want: "string"},
		{in: "INT", want: "int"},
		{in: "enum(a, b ,c)", want: "enum(a,b,c)"},
		{in: "ref(User)", want: "ref(User)"},
		{in: "enum()", wantErr: true},
		{in: "ref", wantErr: true},
		{in: "int(4)", wantErr: true},
		{in: "decimal", wantErr: true},
		{in: "enum(a", wantErr: true},
	}
	for _, tt := range tests {
		got, err := contract.ParseFieldType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String())
	}
}

func TestParseAnnotation(t *testing.T) {
	a, err := contract.ParseAnnotation("@max(255)")
	require.NoError(t, err)
	assert.Equal(t, contract.AnnMax, a.Kind)
	assert.Equal(t, "255", a.Arg)

	_, err = contract.ParseAnnotation("@default")
	assert.Error(t, err)
	_, err = contract.ParseAnnotation("@unique(yes)")
	assert.Error(t, err)
	_, err = contract.ParseAnnotation("@nonsense")
	assert.Error(t, err)
}

func TestTargetResolve(t *testing.T) {
	c := contracttest.Sample()

	all := contract.Target{}.Resolve(c)
	assert.Equal(t, contract.Components, all.Components)
	assert.Equal(t, "postgres", all.Stack.Database)
	assert.True(t, all.Features.Authentication)

	svc := contract.Target{Target: "service", Features: contract.Features{Caching: true}}.Resolve(c)
	assert.Equal(t, []contract.Component{contract.ComponentService, contract.ComponentSchema}, svc.Components)
	assert.True(t, svc.Features.Caching)
	assert.True(t, svc.Features.Authentication, "contract features are kept")

	custom := contract.Target{Components: []contract.Component{contract.ComponentDocs, contract.ComponentService}}.Resolve(c)
	assert.Equal(t, []contract.Component{contract.ComponentService, contract.ComponentDocs}, custom.Components)
	assert.Equal(t, []string{"docs", "service"}, custom.Names())
}

func fieldNames(fs []contract.Field) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}
