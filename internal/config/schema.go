// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/accountd/accountd/internal/fault"
)

// SchemaID is the $id embedded in the generated schema.
const SchemaID = "https://accountd.dev/schemas/accountd.schema.json"

var (
	schemaOnce sync.Once
	schemaComp *jschema.Schema
	schemaErr  error
)

// GenerateSchema reflects a JSON Schema from the Config struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "accountd configuration"
	schema.Description = "Schema for accountd.yaml configuration files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fault.New(fault.CodeIOError).
			Wrapf(err, "marshal config schema")
	}
	return data, nil
}

// ValidateSchema checks raw YAML configuration against the generated
// schema. An empty document is allowed; it means all defaults.
func ValidateSchema(data []byte) error {
	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return fault.New(fault.CodeIOError).
			Wrapf(err, "invalid YAML")
	}
	if yamlData == nil {
		return nil
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(convertToJSONTypes(yamlData)); err != nil {
		return fault.New(fault.CodeIOError).
			Wrapf(err, "schema validation failed")
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		var raw []byte
		if raw, schemaErr = GenerateSchema(); schemaErr != nil {
			return
		}

		var schemaData any
		if err := json.Unmarshal(raw, &schemaData); err != nil {
			schemaErr = fault.New(fault.CodeIOError).
				Wrapf(err, "parse config schema")
			return
		}

		c := jschema.NewCompiler()
		if err := c.AddResource("schema.json", schemaData); err != nil {
			schemaErr = fault.New(fault.CodeIOError).
				Wrapf(err, "add config schema resource")
			return
		}
		schemaComp, schemaErr = c.Compile("schema.json")
	})
	return schemaComp, schemaErr
}

// convertToJSONTypes normalizes YAML-decoded values to the types the
// schema validator expects. yaml.v3 already produces map[string]any but
// nested values need the same treatment recursively.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = convertToJSONTypes(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = convertToJSONTypes(item)
		}
		return result
	default:
		return val
	}
}
