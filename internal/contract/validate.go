package contract

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single problem with a contract.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ContractError reports a malformed or incomplete contract. It is raised
// before any generation attempt.
type ContractError struct {
	Errs []ValidationError
}

func (e *ContractError) Error() string {
	if len(e.Errs) == 1 {
		return "invalid contract: " + e.Errs[0].Error()
	}
	parts := make([]string, 0, len(e.Errs))
	for _, v := range e.Errs {
		parts = append(parts, v.Error())
	}
	return fmt.Sprintf("invalid contract (%d problems): %s", len(e.Errs), strings.Join(parts, "; "))
}

var (
	identRe  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
	fieldRe  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a contract for structural and semantic errors. It returns
// nil or a *ContractError listing every problem found.
func Validate(c *Contract) error {
	if c == nil {
		return &ContractError{Errs: []ValidationError{{Field: "contract", Message: "is nil"}}}
	}
	var errs []ValidationError

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ContractError{Errs: []ValidationError{{Field: "contract", Message: err.Error()}}}
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Field:   strings.TrimPrefix(fe.Namespace(), "Contract."),
				Message: describeTag(fe),
			})
		}
	}

	errs = append(errs, validateEntities(c)...)
	errs = append(errs, validateResources(c)...)
	errs = append(errs, validateChecks(c)...)

	if len(errs) > 0 {
		return &ContractError{Errs: errs}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}

func validateEntities(c *Contract) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for i, e := range c.Definition.Entities {
		prefix := fmt.Sprintf("definition.entities[%d]", i)
		if e.Name != "" && !identRe.MatchString(e.Name) {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("%q is not a valid identifier", e.Name)})
		}
		if seen[strings.ToLower(e.Name)] {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate entity %q", e.Name)})
		}
		seen[strings.ToLower(e.Name)] = true

		fields := make(map[string]bool)
		for j, f := range e.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", prefix, j)
			if f.Name != "" && !fieldRe.MatchString(f.Name) {
				errs = append(errs, ValidationError{Field: fp + ".name", Message: fmt.Sprintf("%q is not a valid field name", f.Name)})
			}
			if f.Type.Kind == "" {
				errs = append(errs, ValidationError{Field: fp + ".type", Message: "is required"})
			}
			if f.Type.Kind == KindRef {
				if _, ok := c.Entity(f.Type.Target); !ok {
					errs = append(errs, ValidationError{Field: fp + ".type", Message: fmt.Sprintf("references undefined entity %q", f.Type.Target)})
				}
			}
			// System-managed fields may be declared any number of times;
			// the generator emits them once.
			if _, system := f.SystemSlot(); system {
				continue
			}
			key := normalizeName(f.Name)
			if fields[key] {
				errs = append(errs, ValidationError{Field: fp + ".name", Message: fmt.Sprintf("duplicate field %q in entity %q", f.Name, e.Name)})
			}
			fields[key] = true
		}
	}
	return errs
}

func validateResources(c *Contract) []ValidationError {
	var errs []ValidationError
	names := make(map[string]bool)
	paths := make(map[string]bool)
	for i, r := range c.Definition.API.Resources {
		prefix := fmt.Sprintf("definition.api.resources[%d]", i)
		if r.Name != "" && !identRe.MatchString(r.Name) {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("%q is not a valid identifier", r.Name)})
		}
		if names[r.Name] {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate resource %q", r.Name)})
		}
		names[r.Name] = true
		if paths[r.Path] {
			errs = append(errs, ValidationError{Field: prefix + ".path", Message: fmt.Sprintf("duplicate resource path %q", r.Path)})
		}
		paths[r.Path] = true
		if r.Entity != "" {
			if _, ok := c.Entity(r.Entity); !ok {
				errs = append(errs, ValidationError{Field: prefix + ".entity", Message: fmt.Sprintf("references undefined entity %q", r.Entity)})
			}
		}
		for j, op := range r.Operations {
			if !op.Valid() {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("%s.operations[%d]", prefix, j), Message: fmt.Sprintf("unknown operation %q", op)})
			}
		}
	}
	return errs
}

func validateChecks(c *Contract) []ValidationError {
	var errs []ValidationError
	ids := make(map[string]bool)
	for i, a := range c.Validation.Assertions {
		prefix := fmt.Sprintf("validation.assertions[%d]", i)
		if ids[a.ID] {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate assertion %q", a.ID)})
		}
		ids[a.ID] = true
		need := func(field, value string) {
			if value == "" {
				errs = append(errs, ValidationError{Field: prefix + "." + field, Message: fmt.Sprintf("is required for %s assertions", a.Kind)})
			}
		}
		switch a.Kind {
		case AssertFileExists:
			need("path", a.Path)
		case AssertContains, AssertNotContains:
			need("path", a.Path)
			need("pattern", a.Pattern)
		case AssertMatches:
			need("path", a.Path)
			need("pattern", a.Pattern)
			if a.Pattern != "" {
				if _, err := regexp.Compile(a.Pattern); err != nil {
					errs = append(errs, ValidationError{Field: prefix + ".pattern", Message: fmt.Sprintf("invalid regular expression: %v", err)})
				}
			}
		case AssertEntityField:
			need("entity", a.Entity)
			need("field", a.Field)
			if a.Entity != "" {
				if _, ok := c.Entity(a.Entity); !ok {
					errs = append(errs, ValidationError{Field: prefix + ".entity", Message: fmt.Sprintf("references undefined entity %q", a.Entity)})
				}
			}
		case AssertRoute:
			need("method", a.Method)
			need("route", a.Route)
		}
	}

	for i, t := range c.Validation.Tests {
		prefix := fmt.Sprintf("validation.tests[%d]", i)
		r, ok := c.Resource(t.Resource)
		if !ok {
			errs = append(errs, ValidationError{Field: prefix + ".resource", Message: fmt.Sprintf("references undefined resource %q", t.Resource)})
			continue
		}
		if !t.Operation.Valid() {
			errs = append(errs, ValidationError{Field: prefix + ".operation", Message: fmt.Sprintf("unknown operation %q", t.Operation)})
		} else if !r.Supports(t.Operation) {
			errs = append(errs, ValidationError{Field: prefix + ".operation", Message: fmt.Sprintf("resource %q does not expose %q", r.Name, t.Operation)})
		}
	}

	for i, cr := range c.Validation.AcceptanceCriteria {
		for _, ref := range cr.Verify {
			if !ids[ref] {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("validation.acceptance_criteria[%d].verify", i), Message: fmt.Sprintf("references undefined assertion %q", ref)})
			}
		}
	}
	return errs
}
