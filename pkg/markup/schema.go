package markup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchemaViolation is returned by Validator.Validate when a document does not
// match the markup schema.
var ErrSchemaViolation = errors.New("markup does not match schema")

// Validator checks that markup JSON has the shape the remote burner reads.
// Build it once with NewValidator; it is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the markup document schema.
func NewValidator() (*Validator, error) {
	b, err := json.Marshal(documentSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("markup.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("markup.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate reports whether raw is a well-formed markup document.
func (v *Validator) Validate(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrSchemaViolation, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

// documentSchema describes only what the burner reads. Marks may carry fields
// this package does not model, such as uid or other mark types.
func documentSchema() map[string]any {
	mark := map[string]any{
		"type":     "object",
		"required": []string{"type", "pageNumber"},
		"properties": map[string]any{
			"type":       map[string]any{"type": "string"},
			"pageNumber": map[string]any{"type": "integer"},
			"rectangle":  map[string]any{"type": "object"},
		},
	}

	return map[string]any{
		"type":     "object",
		"required": []string{"marks"},
		"properties": map[string]any{
			"marks": map[string]any{"type": "array", "items": mark},
		},
	}
}
