package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// OutputSchema is a resolved JSON Schema that model output must satisfy.
type OutputSchema struct {
	name     string
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// NewOutputSchema resolves s so it can validate model output.
func NewOutputSchema(name string, s *jsonschema.Schema) (*OutputSchema, error) {
	if s == nil {
		return nil, fmt.Errorf("output schema %q is nil", name)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve output schema %q: %w", name, err)
	}
	return &OutputSchema{name: name, schema: s, resolved: resolved}, nil
}

// MustOutputSchema is NewOutputSchema for package-level schemas.
func MustOutputSchema(name string, s *jsonschema.Schema) *OutputSchema {
	out, err := NewOutputSchema(name, s)
	if err != nil {
		panic(err)
	}
	return out
}

func (o *OutputSchema) Name() string { return o.name }

// Describe renders the schema as JSON for inclusion in a prompt.
func (o *OutputSchema) Describe() string {
	data, err := json.Marshal(o.schema)
	if err != nil {
		return ""
	}
	return string(data)
}

// Validate checks that raw is a single JSON value satisfying the schema.
// Surrounding prose or code fences are not tolerated here.
func (o *OutputSchema) Validate(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("empty output")
	}

	var instance any
	if err := json.Unmarshal([]byte(trimmed), &instance); err != nil {
		return fmt.Errorf("output is not valid json: %w", err)
	}
	if err := o.resolved.Validate(instance); err != nil {
		return fmt.Errorf("output violates schema %s: %w", o.name, err)
	}
	return nil
}
