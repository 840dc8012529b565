package contract

// Contract is the declarative specification a generation run is driven by.
// It has three layers: what to build (Definition), how to build it
// (Generation) and how to judge the result (Validation). A Contract is never
// mutated once loaded.
type Contract struct {
	Name       string     `yaml:"name" json:"name" validate:"required"`
	Version    string     `yaml:"version" json:"version,omitempty"`
	Definition Definition `yaml:"definition" json:"definition"`
	Generation Generation `yaml:"generation" json:"generation"`
	Validation Validation `yaml:"validation" json:"validation"`
}

// Definition holds the data entities and the API surface over them.
type Definition struct {
	Entities []Entity `yaml:"entities" json:"entities" validate:"required,min=1,dive"`
	API      API      `yaml:"api" json:"api"`
}

// Entity is a persisted data type.
type Entity struct {
	Name        string  `yaml:"name" json:"name" validate:"required"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Fields      []Field `yaml:"fields" json:"fields" validate:"required,min=1,dive"`
}

// Field is one attribute of an entity.
type Field struct {
	Name        string       `yaml:"name" json:"name" validate:"required"`
	Type        FieldType    `yaml:"type" json:"type"`
	Annotations []Annotation `yaml:"annotations" json:"annotations,omitempty"`
}

// Has reports whether the field carries an annotation of the given kind.
func (f Field) Has(kind AnnotationKind) bool {
	for _, a := range f.Annotations {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// Annotation returns the first annotation of the given kind.
func (f Field) Annotation(kind AnnotationKind) (Annotation, bool) {
	for _, a := range f.Annotations {
		if a.Kind == kind {
			return a, true
		}
	}
	return Annotation{}, false
}

// API is the set of HTTP resources exposed over the entities.
type API struct {
	Resources []Resource `yaml:"resources" json:"resources" validate:"dive"`
}

// Resource exposes one entity under a URL path.
type Resource struct {
	Name       string      `yaml:"name" json:"name" validate:"required"`
	Entity     string      `yaml:"entity" json:"entity" validate:"required"`
	Path       string      `yaml:"path" json:"path" validate:"required,startswith=/"`
	Operations []Operation `yaml:"operations" json:"operations" validate:"required,min=1"`
	Auth       bool        `yaml:"auth" json:"auth,omitempty"`
}

// Supports reports whether the resource exposes op.
func (r Resource) Supports(op Operation) bool {
	for _, o := range r.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Operation is a CRUD verb on a resource.
type Operation string

const (
	OpList   Operation = "list"
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operations lists every operation in canonical order.
var Operations = []Operation{OpList, OpGet, OpCreate, OpUpdate, OpDelete}

// Method returns the HTTP method the operation is served on.
func (o Operation) Method() string {
	switch o {
	case OpList, OpGet:
		return "GET"
	case OpCreate:
		return "POST"
	case OpUpdate:
		return "PUT"
	case OpDelete:
		return "DELETE"
	default:
		return ""
	}
}

// ItemRoute reports whether the operation addresses a single item ({id}).
func (o Operation) ItemRoute() bool {
	return o == OpGet || o == OpUpdate || o == OpDelete
}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	return o.Method() != ""
}

// Generation carries the choices that shape generated output.
type Generation struct {
	Instructions string    `yaml:"instructions" json:"instructions,omitempty"`
	TechStack    TechStack `yaml:"tech_stack" json:"tech_stack"`
	Features     Features  `yaml:"features" json:"features"`
}

// TechStack selects frameworks per layer.
type TechStack struct {
	Backend  string `yaml:"backend" json:"backend,omitempty"`
	Frontend string `yaml:"frontend" json:"frontend,omitempty"`
	Database string `yaml:"database" json:"database,omitempty"`
}

// Features are opt-in capabilities of the generated service.
type Features struct {
	Authentication bool `yaml:"authentication" json:"authentication,omitempty"`
	Websocket      bool `yaml:"websocket" json:"websocket,omitempty"`
	EventSourcing  bool `yaml:"event_sourcing" json:"event_sourcing,omitempty"`
	Caching        bool `yaml:"caching" json:"caching,omitempty"`
	Monitoring     bool `yaml:"monitoring" json:"monitoring,omitempty"`
}

// Or returns the union of two feature sets.
func (f Features) Or(o Features) Features {
	return Features{
		Authentication: f.Authentication || o.Authentication,
		Websocket:      f.Websocket || o.Websocket,
		EventSourcing:  f.EventSourcing || o.EventSourcing,
		Caching:        f.Caching || o.Caching,
		Monitoring:     f.Monitoring || o.Monitoring,
	}
}

// Validation describes how generated output is judged.
type Validation struct {
	Assertions         []Assertion  `yaml:"assertions" json:"assertions,omitempty" validate:"dive"`
	Tests              []TestCase   `yaml:"tests" json:"tests,omitempty" validate:"dive"`
	QualityGates       QualityGates `yaml:"quality_gates" json:"quality_gates"`
	AcceptanceCriteria []Criterion  `yaml:"acceptance_criteria" json:"acceptance_criteria,omitempty" validate:"dive"`
}

// TestCase asserts that an operation on a resource is served.
type TestCase struct {
	Name         string    `yaml:"name" json:"name" validate:"required"`
	Resource     string    `yaml:"resource" json:"resource" validate:"required"`
	Operation    Operation `yaml:"operation" json:"operation" validate:"required"`
	ExpectStatus int       `yaml:"expect_status" json:"expect_status,omitempty" validate:"omitempty,min=100,max=599"`
}

// QualityGates are thresholds the quality stage enforces. Zero disables a gate.
type QualityGates struct {
	MaxFileLines   int     `yaml:"max_file_lines" json:"max_file_lines,omitempty" validate:"min=0"`
	MaxWarnings    int     `yaml:"max_warnings" json:"max_warnings,omitempty" validate:"min=0"`
	MinDocCoverage float64 `yaml:"min_doc_coverage" json:"min_doc_coverage,omitempty" validate:"min=0,max=1"`
	MaxTodos       int     `yaml:"max_todos" json:"max_todos,omitempty" validate:"min=0"`
}

// Criterion is a human-readable acceptance criterion tied to assertions.
type Criterion struct {
	ID     string   `yaml:"id" json:"id" validate:"required"`
	Text   string   `yaml:"text" json:"text" validate:"required"`
	Verify []string `yaml:"verify" json:"verify,omitempty"`
}

// Entity returns the entity with the given name.
func (c *Contract) Entity(name string) (*Entity, bool) {
	for i := range c.Definition.Entities {
		if c.Definition.Entities[i].Name == name {
			return &c.Definition.Entities[i], true
		}
	}
	return nil, false
}

// Resource returns the API resource with the given name.
func (c *Contract) Resource(name string) (*Resource, bool) {
	for i := range c.Definition.API.Resources {
		if c.Definition.API.Resources[i].Name == name {
			return &c.Definition.API.Resources[i], true
		}
	}
	return nil, false
}
