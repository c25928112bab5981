package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Categories is the fixed taxonomy the categorization handler chooses from.
var Categories = []string{
	"invoice",
	"receipt",
	"contract",
	"report",
	"correspondence",
	"memo",
	"other",
}

// analysisSchema constrains the analysis handler's model output.
func analysisSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"summary":  map[string]any{"type": "string", "minLength": 1},
			"language": map[string]any{"type": "string", "minLength": 2},
			"urgency":  map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required": []string{"summary", "language", "urgency"},
	}
}

// extractionSchema constrains the extraction handler's model output.
func extractionSchema() map[string]any {
	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string", "minLength": 1},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"people":        stringList,
			"organizations": stringList,
			"dates":         stringList,
			"amounts":       stringList,
		},
		"required": []string{"people", "organizations", "dates", "amounts"},
	}
}

// categorizationSchema constrains the categorization handler's model output
// to the fixed taxonomy.
func categorizationSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"category":   map[string]any{"type": "string", "enum": Categories},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required": []string{"category", "confidence"},
	}
}

// validateAgainstSchema validates a decoded JSON value against a JSON-Schema
// expressed as a generic map.
func validateAgainstSchema(schemaMap map[string]any, value any) error {
	encoded, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	return nil
}
