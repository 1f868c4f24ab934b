package harness

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// JSONValidator handles JSON schema validation. Compiled schemas are cached
// by their source text, so repeated validation of tool payloads is cheap.
type JSONValidator struct {
	mu       sync.RWMutex
	compiled map[string]*gojsonschema.Schema
}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{compiled: make(map[string]*gojsonschema.Schema)}
}

// Compile parses schema once and caches the result.
func (v *JSONValidator) Compile(schema []byte) (*gojsonschema.Schema, error) {
	key := string(schema)

	v.mu.RLock()
	s, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.compiled[key] = s
	v.mu.Unlock()
	return s, nil
}

// Validate checks if JSON data conforms to a schema.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil // no schema to validate against
	}

	if !json.Valid(data) {
		return fmt.Errorf("%w: data is not valid JSON", ErrSchemaInvalid)
	}

	s, err := v.Compile(schema)
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}
		return fmt.Errorf("%w: %s", ErrSchemaInvalid, strings.Join(msgs, "; "))
	}

	return nil
}

// ValidateValue marshals value and validates it against schema.
func (v *JSONValidator) ValidateValue(value any, schema []byte) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return v.Validate(data, schema)
}
