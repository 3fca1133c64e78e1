// Package validate provides JSON Schema validation for document
// register values, adapted from the teacher's entry-type schema
// registry (internal/schema in the example pack) onto this module's
// document-key namespace instead of entry types.
package validate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/weftsync/weft/internal/registry"
)

// Schema is a compiled JSON Schema bound to a document key.
type Schema struct {
	Key        string
	Definition json.RawMessage
	compiled   *gojsonschema.Schema
}

// ValidationError describes one schema violation.
type ValidationError struct {
	Field       string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// Registry holds compiled schemas per document key and can mint
// registry.Validator closures for each.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register compiles and installs a schema for key, replacing any prior
// schema registered for it.
func (r *Registry) Register(key string, definition []byte) error {
	loader := gojsonschema.NewBytesLoader(definition)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("validate: invalid schema for %q: %w", key, err)
	}
	r.mu.Lock()
	r.schemas[key] = &Schema{Key: key, Definition: definition, compiled: compiled}
	r.mu.Unlock()
	return nil
}

// Unregister drops the schema for key, if any.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	delete(r.schemas, key)
	r.mu.Unlock()
}

// Validate checks value against key's schema. A key with no registered
// schema always passes.
func (r *Registry) Validate(key string, value []byte) error {
	r.mu.RLock()
	s, ok := r.schemas[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	documentLoader := gojsonschema.NewBytesLoader(value)
	result, err := s.compiled.Validate(documentLoader)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]ValidationError, len(result.Errors()))
	for i, e := range result.Errors() {
		errs[i] = ValidationError{Field: e.Field(), Description: e.Description()}
	}
	return fmt.Errorf("validate: %q failed schema: %v", key, errs)
}

// AsValidator adapts the registry to the registry.Validator signature so
// it can be installed directly via (*registry.Registry).RegisterValidator.
func (r *Registry) AsValidator() registry.Validator {
	return func(key string, value []byte) error { return r.Validate(key, value) }
}
