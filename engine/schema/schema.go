// Package schema wraps JSON Schema compilation and validation for tool
// parameter checking.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

type Schema map[string]any
type Result = jsonschema.EvaluationResult

func (s *Schema) String() string {
	raw, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Compile materializes the schema document. A nil receiver compiles to nil,
// meaning "no schema, accept anything".
func (s *Schema) Compile() (*jsonschema.Schema, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return compiled, nil
}

// Validate checks value against the schema and returns an error listing the
// failed keywords when validation does not pass.
func (s *Schema) Validate(_ context.Context, value any) (*Result, error) {
	compiled, err := s.Compile()
	if err != nil {
		return nil, err
	}
	if compiled == nil {
		return nil, nil
	}
	result := compiled.Validate(value)
	if result.Valid {
		return result, nil
	}
	return nil, fmt.Errorf("schema validation failed: %v", result.Errors)
}
