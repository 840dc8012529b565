package contract

import (
	"fmt"
	"strings"
)

// FieldKind tags the variant of a FieldType.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindText   FieldKind = "text"
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindBool   FieldKind = "bool"
	KindTime   FieldKind = "time"
	KindUUID   FieldKind = "uuid"
	KindJSON   FieldKind = "json"
	KindEnum   FieldKind = "enum"
	KindRef    FieldKind = "ref"
)

var fieldKinds = map[FieldKind]bool{
	KindString: true, KindText: true, KindInt: true, KindFloat: true, KindBool: true,
	KindTime: true, KindUUID: true, KindJSON: true, KindEnum: true, KindRef: true,
}

// FieldType is the tagged type of a field. Values is set for enums, Target
// for references to another entity.
type FieldType struct {
	Kind   FieldKind
	Values []string
	Target string
}

// ParseFieldType parses "int", "enum(a,b)" or "ref(User)".
func ParseFieldType(s string) (FieldType, error) {
	s = strings.TrimSpace(s)
	name, arg, hasArg, err := splitCall(s)
	if err != nil {
		return FieldType{}, fmt.Errorf("field type %q: %w", s, err)
	}
	ft := FieldType{Kind: FieldKind(strings.ToLower(name))}
	if !fieldKinds[ft.Kind] {
		return FieldType{}, fmt.Errorf("unknown field type %q", name)
	}
	switch ft.Kind {
	case KindEnum:
		if !hasArg {
			return FieldType{}, fmt.Errorf("enum type needs values: enum(a,b)")
		}
		for _, v := range strings.Split(arg, ",") {
			if v = strings.TrimSpace(v); v != "" {
				ft.Values = append(ft.Values, v)
			}
		}
		if len(ft.Values) == 0 {
			return FieldType{}, fmt.Errorf("enum type needs at least one value")
		}
	case KindRef:
		ft.Target = strings.TrimSpace(arg)
		if ft.Target == "" {
			return FieldType{}, fmt.Errorf("ref type needs a target entity: ref(User)")
		}
	default:
		if hasArg {
			return FieldType{}, fmt.Errorf("type %q takes no arguments", name)
		}
	}
	return ft, nil
}

// String renders the type in the same form ParseFieldType accepts.
func (t FieldType) String() string {
	switch t.Kind {
	case KindEnum:
		return fmt.Sprintf("enum(%s)", strings.Join(t.Values, ","))
	case KindRef:
		return fmt.Sprintf("ref(%s)", t.Target)
	default:
		return string(t.Kind)
	}
}

func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *FieldType) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AnnotationKind tags the variant of an Annotation.
type AnnotationKind string

const (
	AnnID        AnnotationKind = "id"
	AnnUnique    AnnotationKind = "unique"
	AnnRequired  AnnotationKind = "required"
	AnnDefault   AnnotationKind = "default"
	AnnMax       AnnotationKind = "max"
	AnnCreatedAt AnnotationKind = "createdAt"
	AnnUpdatedAt AnnotationKind = "updatedAt"
	AnnIndex     AnnotationKind = "index"
)

var annotationArgs = map[AnnotationKind]bool{
	AnnID: false, AnnUnique: false, AnnRequired: false, AnnDefault: true,
	AnnMax: true, AnnCreatedAt: false, AnnUpdatedAt: false, AnnIndex: false,
}

// Annotation is a field modifier such as @unique or @max(255).
type Annotation struct {
	Kind AnnotationKind
	Arg  string
}

// ParseAnnotation parses "@unique", "@default(now)" or the same without "@".
func ParseAnnotation(s string) (Annotation, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "@")
	name, arg, hasArg, err := splitCall(s)
	if err != nil {
		return Annotation{}, fmt.Errorf("annotation %q: %w", s, err)
	}
	kind := AnnotationKind(name)
	takesArg, ok := annotationArgs[kind]
	if !ok {
		return Annotation{}, fmt.Errorf("unknown annotation @%s", name)
	}
	if takesArg && !hasArg {
		return Annotation{}, fmt.Errorf("annotation @%s needs an argument", name)
	}
	if !takesArg && hasArg {
		return Annotation{}, fmt.Errorf("annotation @%s takes no argument", name)
	}
	return Annotation{Kind: kind, Arg: strings.TrimSpace(arg)}, nil
}

func (a Annotation) String() string {
	if a.Arg != "" {
		return fmt.Sprintf("@%s(%s)", a.Kind, a.Arg)
	}
	return "@" + string(a.Kind)
}

func (a Annotation) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Annotation) UnmarshalText(b []byte) error {
	parsed, err := ParseAnnotation(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AssertionKind tags the variant of an Assertion.
type AssertionKind string

const (
	// AssertFileExists requires Path to be generated.
	AssertFileExists AssertionKind = "file_exists"
	// AssertContains requires Path to contain the literal Pattern.
	AssertContains AssertionKind = "contains"
	// AssertNotContains forbids the literal Pattern in Path.
	AssertNotContains AssertionKind = "not_contains"
	// AssertMatches requires Path to match the regular expression Pattern.
	AssertMatches AssertionKind = "matches"
	// AssertEntityField requires Field of Entity to appear in every derived artifact.
	AssertEntityField AssertionKind = "entity_field"
	// AssertRoute requires a route for Method and Route to be registered.
	AssertRoute AssertionKind = "route"
)

// Assertion is a checkable claim about the generated output.
type Assertion struct {
	ID      string        `yaml:"id" json:"id" validate:"required"`
	Kind    AssertionKind `yaml:"kind" json:"kind" validate:"required,oneof=file_exists contains not_contains matches entity_field route"`
	Path    string        `yaml:"path" json:"path,omitempty"`
	Pattern string        `yaml:"pattern" json:"pattern,omitempty"`
	Entity  string        `yaml:"entity" json:"entity,omitempty"`
	Field   string        `yaml:"field" json:"field,omitempty"`
	Method  string        `yaml:"method" json:"method,omitempty"`
	Route   string        `yaml:"route" json:"route,omitempty"`
}

// splitCall splits "name(arg)" into its parts.
func splitCall(s string) (name, arg string, hasArg bool, err error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if strings.ContainsRune(s, ')') {
			return "", "", false, fmt.Errorf("unbalanced parenthesis")
		}
		return s, "", false, nil
	}
	if !strings.HasSuffix(s, ")") {
		return "", "", false, fmt.Errorf("missing closing parenthesis")
	}
	return strings.TrimSpace(s[:open]), s[open+1 : len(s)-1], true, nil
}
