package validate

import (
	"testing"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/registry"
)

const titleSchema = `{
	"type": "object",
	"properties": {"text": {"type": "string", "minLength": 1}},
	"required": ["text"]
}`

func TestValidateRejectsNonConformingValue(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("title", []byte(titleSchema)); err != nil {
		t.Fatalf("unexpected error registering schema: %v", err)
	}

	if err := r.Validate("title", []byte(`{"text": "hello"}`)); err != nil {
		t.Fatalf("expected valid document to pass, got %v", err)
	}
	if err := r.Validate("title", []byte(`{}`)); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}

func TestValidateWithoutSchemaPasses(t *testing.T) {
	r := NewRegistry()
	if err := r.Validate("unregistered", []byte("anything")); err != nil {
		t.Fatalf("expected no schema to mean pass, got %v", err)
	}
}

func TestUnregisterRemovesSchema(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("title", []byte(titleSchema)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Unregister("title")
	if err := r.Validate("title", []byte(`{}`)); err != nil {
		t.Fatalf("expected unregistered key to pass unconditionally, got %v", err)
	}
}

// TestAsValidatorGatesRegistryWrites exercises the wiring cmd/weftd's
// schema subcommand relies on: an AsValidator closure installed on a
// registry.Registry via RegisterValidator actually blocks a
// non-conforming write at registry.Validate, the same check repo.Set
// consults before committing to the document.
func TestAsValidatorGatesRegistryWrites(t *testing.T) {
	schemas := NewRegistry()
	if err := schemas.Register("title", []byte(titleSchema)); err != nil {
		t.Fatalf("unexpected error registering schema: %v", err)
	}

	reg := registry.New(core.NewRepoID())
	reg.RegisterValidator("title", schemas.AsValidator())

	if err := reg.Validate("title", []byte(`{"text": "hello"}`)); err != nil {
		t.Fatalf("expected conforming value to pass, got %v", err)
	}
	if err := reg.Validate("title", []byte(`{}`)); err == nil {
		t.Fatal("expected non-conforming value to fail validation")
	}
	// A key with no registered schema is unaffected.
	if err := reg.Validate("body", []byte(`not json at all`)); err != nil {
		t.Fatalf("expected key with no schema to pass unconditionally, got %v", err)
	}
}
