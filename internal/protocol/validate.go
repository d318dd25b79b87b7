package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://chargegrid.ai/schemas/"

// Schema kinds accepted by Validate.
const (
	SchemaHello   = "hello"
	SchemaWelcome = "welcome"
	SchemaEdit    = "edit"
	SchemaState   = "state"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	kinds := []string{SchemaHello, SchemaWelcome, SchemaEdit, SchemaState}
	for _, k := range kinds {
		raw, err := schemaFS.ReadFile("schemas/" + k + ".schema.json")
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(schemaBaseURL+k+".schema.json", bytes.NewReader(raw)); err != nil {
			schemasErr = fmt.Errorf("schema %s: %w", k, err)
			return
		}
	}
	out := make(map[string]*jsonschema.Schema, len(kinds))
	for _, k := range kinds {
		s, err := c.Compile(schemaBaseURL + k + ".schema.json")
		if err != nil {
			schemasErr = fmt.Errorf("compile %s: %w", k, err)
			return
		}
		out[k] = s
	}
	schemas = out
}

// Validate checks raw JSON against the embedded schema for kind.
func Validate(kind string, raw []byte) error {
	schemasOnce.Do(compileSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("unknown schema kind %q", kind)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}
