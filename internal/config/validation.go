package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// policySchema is the JSON Schema every policy document must satisfy
// before unmarshalling. Compiled once at startup.
const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["mode"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string"},
    "engine": {"type": "string"},
    "mode": {"enum": ["strict", "permissive"]},
    "threshold": {"enum": ["low", "medium", "high", "critical"]},
    "grants": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "additionalProperties": false,
        "properties": {
          "type": {"type": "string", "pattern": "^[a-z0-9_-]+(\\.[a-z0-9_-]+)*$"},
          "resources": {"type": "array", "items": {"type": "string"}},
          "operations": {"type": "array", "items": {"type": "string"}},
          "expires_at": {"type": "string"},
          "max_uses": {"type": "integer", "minimum": 0},
          "max_file_size": {"type": "integer", "minimum": 0},
          "max_memory": {"type": "integer", "minimum": 0},
          "max_cpu_time": {"type": "string"},
          "hosts": {"type": "array", "items": {"type": "string"}},
          "ports": {
            "type": "array",
            "items": {"type": "integer", "minimum": 1, "maximum": 65535}
          },
          "description": {"type": "string"}
        }
      }
    }
  }
}`

var compiledPolicySchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("policy.json", strings.NewReader(policySchema)); err != nil {
		panic(fmt.Sprintf("failed to add policy schema resource: %v", err))
	}
	schema, err := compiler.Compile("policy.json")
	if err != nil {
		panic(fmt.Sprintf("failed to compile policy schema: %v", err))
	}
	return schema
}

// validateSchema checks a raw YAML policy document against the schema.
// The YAML is converted to JSON so the schema library sees the value
// types it expects.
func validateSchema(raw []byte) error {
	jsonBytes, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return fmt.Errorf("failed to decode policy document: %w", err)
	}

	if err := compiledPolicySchema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			return formatSchemaError(validationErr)
		}
		return fmt.Errorf("policy schema validation failed: %w", err)
	}
	return nil
}

// formatSchemaError flattens the nested validation error into one
// readable message per failing location.
func formatSchemaError(err *jsonschema.ValidationError) error {
	var messages []string

	var collect func(*jsonschema.ValidationError)
	collect = func(e *jsonschema.ValidationError) {
		if e.Message != "" && len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "(root)"
			}
			messages = append(messages, fmt.Sprintf("%s: %s", location, e.Message))
		}
		for _, cause := range e.Causes {
			collect(cause)
		}
	}
	collect(err)

	if len(messages) == 0 {
		return fmt.Errorf("policy schema validation failed")
	}
	return fmt.Errorf("policy schema validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}
