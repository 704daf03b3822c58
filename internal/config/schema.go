package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed settings.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("settings.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// validateSchema checks raw settings against the embedded JSON schema.
// The document is round-tripped through JSON so that YAML scalar types
// match what the validator expects.
func validateSchema(raw any) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile settings schema: %w", err)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
