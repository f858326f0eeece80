// Package schema validates collaborator responses against JSON Schemas
// reflected from their Go wire structs.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownSchema is returned when validating against an unregistered name.
var ErrUnknownSchema = errors.New("unknown schema")

// Validator holds compiled schemas keyed by name.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschemav5.Schema
}

func New() *Validator {
	return &Validator{schemas: make(map[string]*jsonschemav5.Schema)}
}

// Reflect converts a Go struct to JSON Schema bytes. Unknown fields are
// allowed so the collaborator can add fields without breaking clients.
func Reflect(sample any) ([]byte, error) {
	if sample == nil {
		return nil, fmt.Errorf("schema sample is nil")
	}
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		Anonymous:                  true,
	}
	b, err := json.Marshal(reflector.Reflect(sample))
	if err != nil {
		return nil, fmt.Errorf("marshal JSON schema: %w", err)
	}
	return b, nil
}

// Register reflects sample and compiles it under name.
func (v *Validator) Register(name string, sample any) error {
	raw, err := Reflect(sample)
	if err != nil {
		return fmt.Errorf("reflect schema %q: %w", name, err)
	}

	compiler := jsonschemav5.NewCompiler()
	id := "schema://" + name
	if err := compiler.AddResource(id, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema %q: %w", name, err)
	}
	compiled, err := compiler.Compile(id)
	if err != nil {
		return fmt.Errorf("compile schema %q: %w", name, err)
	}

	v.mu.Lock()
	v.schemas[name] = compiled
	v.mu.Unlock()
	return nil
}

// Validate checks a raw JSON document against the named schema.
func (v *Validator) Validate(name string, payload []byte) error {
	v.mu.RLock()
	s, ok := v.schemas[name]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode %s payload: %w", name, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s payload: %w", name, err)
	}
	return nil
}
