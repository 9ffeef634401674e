// Package schema holds the per-deployment property schema and state diagram.
// Both are immutable once loaded and passed explicitly to every component.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// SemanticType is the value type of a property
type SemanticType string

const (
	TypeString   SemanticType = "string"
	TypeNumber   SemanticType = "number"
	TypeBoolean  SemanticType = "boolean"
	TypeDatetime SemanticType = "datetime"
	TypeDuration SemanticType = "duration"
)

// Owning sub-objects of a property in dispatch messages
const (
	ObjectTask       = "Task"
	ObjectAssignment = "Assignment"
)

// Property describes one task attribute
type Property struct {
	Name              string       `toml:"name" yaml:"name"`
	Object            string       `toml:"object" yaml:"object"`
	DisplayName       string       `toml:"display_name" yaml:"display_name"`
	ReadOnly          bool         `toml:"read_only" yaml:"read_only"`
	Type              SemanticType `toml:"type" yaml:"type"`
	SourceFormat      string       `toml:"source_format,omitempty" yaml:"source_format,omitempty"`
	DisplayFormat     string       `toml:"display_format,omitempty" yaml:"display_format,omitempty"`
	ValidationPattern string       `toml:"validation_pattern,omitempty" yaml:"validation_pattern,omitempty"`
	MaxLength         int          `toml:"max_length,omitempty" yaml:"max_length,omitempty"`
	VisibleInSchedule bool         `toml:"visible_in_schedule" yaml:"visible_in_schedule"`
	// XPathExtension names a child element holding the value in dispatch XML,
	// e.g. <Status><Name>Working</Name></Status>.
	XPathExtension string `toml:"xpath_extension,omitempty" yaml:"xpath_extension,omitempty"`
}

// Status is one node of the state diagram
type Status struct {
	Name        string   `toml:"name" yaml:"name"`
	Transitions []string `toml:"transitions" yaml:"transitions"`
	// Terminal statuses require the engineer to supply actual start and finish.
	Terminal bool `toml:"terminal" yaml:"terminal"`
}

// Logic is the task-logic section of the configuration file
type Logic struct {
	StatusProperty     string     `toml:"status_property" yaml:"status_property"`
	StartProperty      string     `toml:"start_property" yaml:"start_property"`
	FinishProperty     string     `toml:"finish_property" yaml:"finish_property"`
	IdentifierProperty string     `toml:"identifier_property" yaml:"identifier_property"`
	Dripfeed           bool       `toml:"dripfeed" yaml:"dripfeed"`
	FakeDate           string     `toml:"fake_date,omitempty" yaml:"fake_date,omitempty"`
	States             []Status   `toml:"state" yaml:"states"`
	Properties         []Property `toml:"property" yaml:"properties"`
}

// Schema is the validated, indexed form of Logic
type Schema struct {
	logic    Logic
	byName   map[string]*Property
	order    []*Property
	patterns map[string]*regexp.Regexp
}

// New validates logic and indexes its properties
func New(logic Logic) (*Schema, error) {
	if err := logic.Validate(); err != nil {
		return nil, err
	}

	s := &Schema{
		logic:    logic,
		byName:   make(map[string]*Property, len(logic.Properties)),
		patterns: make(map[string]*regexp.Regexp),
	}
	for i := range logic.Properties {
		p := &s.logic.Properties[i]
		s.byName[p.Name] = p
		s.order = append(s.order, p)
		if p.ValidationPattern != "" {
			re, err := regexp.Compile(p.ValidationPattern)
			if err != nil {
				return nil, fmt.Errorf("property %s: compiling validation pattern: %w", p.Name, err)
			}
			s.patterns[p.Name] = re
		}
	}
	return s, nil
}

// MustNew is New for static configurations known to be valid
func MustNew(logic Logic) *Schema {
	s, err := New(logic)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks the configuration for internal consistency
func (l Logic) Validate() error {
	var problems []string

	names := make(map[string]bool, len(l.Properties))
	for _, p := range l.Properties {
		if p.Name == "" {
			problems = append(problems, "property without name")
			continue
		}
		if names[p.Name] {
			problems = append(problems, fmt.Sprintf("duplicate property %q", p.Name))
		}
		names[p.Name] = true
		switch p.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeDatetime:
		case TypeDuration:
			if _, ok := durationUnits[strings.ToLower(p.SourceFormat)]; !ok {
				problems = append(problems, fmt.Sprintf("property %q: unknown duration unit %q", p.Name, p.SourceFormat))
			}
		default:
			problems = append(problems, fmt.Sprintf("property %q: unknown type %q", p.Name, p.Type))
		}
		if p.Object != ObjectTask && p.Object != ObjectAssignment {
			problems = append(problems, fmt.Sprintf("property %q: unknown owning object %q", p.Name, p.Object))
		}
	}

	for label, name := range map[string]string{
		"status_property":     l.StatusProperty,
		"start_property":      l.StartProperty,
		"finish_property":     l.FinishProperty,
		"identifier_property": l.IdentifierProperty,
	} {
		if !names[name] {
			problems = append(problems, fmt.Sprintf("%s %q is not a configured property", label, name))
		}
	}

	states := make(map[string]bool, len(l.States))
	for _, st := range l.States {
		if states[st.Name] {
			problems = append(problems, fmt.Sprintf("duplicate status %q", st.Name))
		}
		states[st.Name] = true
	}
	for _, st := range l.States {
		for _, to := range st.Transitions {
			if !states[to] {
				problems = append(problems, fmt.Sprintf("status %q: transition to unknown status %q", st.Name, to))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid logic configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Logic returns a copy of the underlying configuration
func (s *Schema) Logic() Logic { return s.logic }

// Property looks up a property by name
func (s *Schema) Property(name string) (*Property, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Properties returns all properties in configuration order
func (s *Schema) Properties() []*Property { return s.order }

// Pattern returns the compiled validation pattern of a property, if any
func (s *Schema) Pattern(name string) *regexp.Regexp { return s.patterns[name] }

func (s *Schema) StatusProperty() string     { return s.logic.StatusProperty }
func (s *Schema) StartProperty() string      { return s.logic.StartProperty }
func (s *Schema) FinishProperty() string     { return s.logic.FinishProperty }
func (s *Schema) IdentifierProperty() string { return s.logic.IdentifierProperty }
func (s *Schema) Dripfeed() bool             { return s.logic.Dripfeed }
func (s *Schema) States() []Status           { return s.logic.States }

// IsTimesheetProperty reports whether name is the start or finish property
func (s *Schema) IsTimesheetProperty(name string) bool {
	return name == s.logic.StartProperty || name == s.logic.FinishProperty
}

// NewTask builds a task record from storage-normalized properties. Every
// property name must be configured and the identifier must be present.
func (s *Schema) NewTask(assignedTo string, props map[string]any) (*types.Task, error) {
	for name := range props {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrUnknownProperty, name)
		}
	}

	task := &types.Task{AssignedTo: assignedTo, Properties: props}
	task.TaskID = task.Text(s.logic.IdentifierProperty)
	if task.TaskID == "" {
		return nil, fmt.Errorf("%w: missing %s", types.ErrValidationFailed, s.logic.IdentifierProperty)
	}
	if v, ok := props[s.logic.StartProperty]; ok {
		ms, ok := Millis(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a stored time", types.ErrValidationFailed, s.logic.StartProperty)
		}
		task.Start = ms
	}
	return task, nil
}

var durationUnits = map[string]int64{
	"milliseconds": 1,
	"seconds":      1000,
	"minutes":      60 * 1000,
	"hours":        60 * 60 * 1000,
}

// UnitMillis returns the length of a duration source unit in milliseconds
func UnitMillis(unit string) (int64, bool) {
	ms, ok := durationUnits[strings.ToLower(unit)]
	return ms, ok
}
