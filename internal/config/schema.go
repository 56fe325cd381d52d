package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://github.com/conneroisu/larrix/schema/project.schema.json"

//go:embed schema/project.schema.json
var projectSchema []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func descriptorSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(projectSchema)); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = compiler.Compile(schemaURL)
	})
	return compiled, compileErr
}

// ValidateProject checks the project section against the embedded schema.
func ValidateProject(p ProjectConfig) error {
	schema, err := descriptorSchema()
	if err != nil {
		return fmt.Errorf("compile project schema: %w", err)
	}

	doc := map[string]interface{}{
		"name":    p.Name,
		"version": p.Version,
	}
	if p.Manifest != nil {
		doc["manifest"] = p.Manifest
	}

	// Round-trip through JSON so the validator sees plain decoded values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("decode project: %w", err)
	}

	return schema.Validate(instance)
}
