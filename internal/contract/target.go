package contract

import "sort"

// Component names the logical subsystem a generated file belongs to.
type Component string

const (
	ComponentService Component = "service"
	ComponentUI      Component = "ui"
	ComponentSchema  Component = "schema"
	ComponentDocs    Component = "docs"
)

// Components lists every component in emission order.
var Components = []Component{ComponentService, ComponentSchema, ComponentUI, ComponentDocs}

// Target selects what a generation run emits. Zero fields fall back to the
// contract's generation layer; Features are OR-ed with the contract's.
type Target struct {
	// Target is a preset: "fullstack" (default), "service", "ui", "schema" or "docs".
	Target     string      `yaml:"target" json:"target,omitempty"`
	Components []Component `yaml:"components" json:"components,omitempty"`
	Backend    string      `yaml:"backend" json:"backend,omitempty"`
	Frontend   string      `yaml:"frontend" json:"frontend,omitempty"`
	Database   string      `yaml:"database" json:"database,omitempty"`
	Features   Features    `yaml:"features" json:"features"`
}

// Resolved is a Target merged with a contract's generation layer.
type Resolved struct {
	Components []Component
	Stack      TechStack
	Features   Features
}

// Includes reports whether component c is selected.
func (r Resolved) Includes(c Component) bool {
	for _, x := range r.Components {
		if x == c {
			return true
		}
	}
	return false
}

// Names returns the selected component names, sorted.
func (r Resolved) Names() []string {
	out := make([]string, 0, len(r.Components))
	for _, c := range r.Components {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// Resolve merges t over the contract's generation choices.
func (t Target) Resolve(c *Contract) Resolved {
	r := Resolved{
		Stack:    c.Generation.TechStack,
		Features: c.Generation.Features.Or(t.Features),
	}
	if t.Backend != "" {
		r.Stack.Backend = t.Backend
	}
	if t.Frontend != "" {
		r.Stack.Frontend = t.Frontend
	}
	if t.Database != "" {
		r.Stack.Database = t.Database
	}
	if r.Stack.Backend == "" {
		r.Stack.Backend = "go-net-http"
	}
	if r.Stack.Frontend == "" {
		r.Stack.Frontend = "typescript"
	}
	if r.Stack.Database == "" {
		r.Stack.Database = "postgres"
	}

	selected := t.Components
	if len(selected) == 0 {
		switch t.Target {
		case "service":
			selected = []Component{ComponentService, ComponentSchema}
		case "ui":
			selected = []Component{ComponentUI}
		case "schema":
			selected = []Component{ComponentSchema}
		case "docs":
			selected = []Component{ComponentDocs}
		default:
			selected = Components
		}
	}
	// Keep emission order regardless of how the caller listed them.
	for _, c := range Components {
		for _, s := range selected {
			if s == c {
				r.Components = append(r.Components, c)
				break
			}
		}
	}
	return r
}
