// Package convert translates property values between their wire, storage
// and display representations. Converters are registered per semantic type;
// string and number properties pass through unchanged.
package convert

import (
	"fmt"

	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// Purpose selects the target representation of a conversion
type Purpose int

const (
	// ToStorage converts values received from the dispatch authority
	ToStorage Purpose = iota
	// ToDisplay converts stored values for clients
	ToDisplay
	// ToUpdateStorage converts values submitted by an engineer
	ToUpdateStorage
	// ToWire converts stored values for outbound dispatch messages
	ToWire
)

func (p Purpose) String() string {
	switch p {
	case ToStorage:
		return "storage"
	case ToDisplay:
		return "display"
	case ToUpdateStorage:
		return "update-storage"
	case ToWire:
		return "wire"
	default:
		return fmt.Sprintf("purpose(%d)", int(p))
	}
}

// TypeConverter converts values of one semantic type
type TypeConverter interface {
	Convert(p *schema.Property, v any, purpose Purpose) (any, error)
}

// Func adapts a function to TypeConverter
type Func func(p *schema.Property, v any, purpose Purpose) (any, error)

// Convert calls f
func (f Func) Convert(p *schema.Property, v any, purpose Purpose) (any, error) {
	return f(p, v, purpose)
}

// Pipeline converts values of configured properties
type Pipeline struct {
	schema   *schema.Schema
	registry map[schema.SemanticType]TypeConverter
}

// New returns a pipeline with the built-in datetime, duration and boolean converters
func New(s *schema.Schema) *Pipeline {
	c := &Pipeline{
		schema:   s,
		registry: make(map[schema.SemanticType]TypeConverter),
	}
	c.Register(schema.TypeDatetime, Func(convertDatetime))
	c.Register(schema.TypeDuration, Func(convertDuration))
	c.Register(schema.TypeBoolean, Func(convertBoolean))
	return c
}

// Register installs the converter for a semantic type, replacing any previous one
func (c *Pipeline) Register(t schema.SemanticType, tc TypeConverter) {
	c.registry[t] = tc
}

// Convert converts one property value for the given purpose
func (c *Pipeline) Convert(name string, v any, purpose Purpose) (any, error) {
	p, ok := c.schema.Property(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownProperty, name)
	}
	if v == nil {
		return nil, nil
	}
	tc, ok := c.registry[p.Type]
	if !ok {
		return v, nil
	}
	out, err := tc.Convert(p, v, purpose)
	if err != nil {
		return nil, fmt.Errorf("converting %s to %s: %w", name, purpose, err)
	}
	return out, nil
}

// Record converts every property of a map. The input is not modified.
func (c *Pipeline) Record(props map[string]any, purpose Purpose) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for name, v := range props {
		cv, err := c.Convert(name, v, purpose)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

// Wire renders a stored task as outbound message fields in schema order
func (c *Pipeline) Wire(task *types.Task) ([]types.WireField, error) {
	var fields []types.WireField
	for _, p := range c.schema.Properties() {
		v, ok := task.Get(p.Name)
		if !ok {
			continue
		}
		wv, err := c.Convert(p.Name, v, ToWire)
		if err != nil {
			return nil, err
		}
		fields = append(fields, types.WireField{Object: p.Object, Name: p.Name, Value: text(wv)})
	}
	return fields, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
