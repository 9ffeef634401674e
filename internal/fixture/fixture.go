// Package fixture serves engineer schedules from a static YAML document. It
// stands in for the dispatch authority's schedule query.
package fixture

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demo []byte

// ErrUnknownEngineer is returned for engineers without a schedule entry
var ErrUnknownEngineer = errors.New("engineer not found")

// Source holds schedules keyed by engineer id. An engineer mapped to an
// empty list has an empty schedule.
type Source struct {
	schedules map[string][]map[string]string
}

// Parse reads a YAML (or JSON) document of schedules
func Parse(data []byte) (*Source, error) {
	var schedules map[string][]map[string]string
	if err := yaml.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("parsing schedule fixture: %w", err)
	}
	if schedules == nil {
		schedules = make(map[string][]map[string]string)
	}
	return &Source{schedules: schedules}, nil
}

// Load reads a fixture file
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schedule fixture: %w", err)
	}
	return Parse(data)
}

// Demo returns the built-in demo fixture
func Demo() *Source {
	s, err := Parse(demo)
	if err != nil {
		panic(err)
	}
	return s
}

// Engineers returns the engineers with a schedule
func (s *Source) Engineers() []string {
	out := make([]string, 0, len(s.schedules))
	for id := range s.schedules {
		out = append(out, id)
	}
	return out
}

// Schedule returns the engineer's entries. The fixture holds one schedule per
// engineer, so dayOffset does not select among days.
func (s *Source) Schedule(_ context.Context, engineerID string, _ int) ([]map[string]any, error) {
	entries, ok := s.schedules[engineerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngineer, engineerID)
	}
	out := make([]map[string]any, len(entries))
	for i, entry := range entries {
		props := make(map[string]any, len(entry))
		for k, v := range entry {
			props[k] = v
		}
		out[i] = props
	}
	return out, nil
}
