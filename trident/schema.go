package trident

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateOutput checks a parsed JSON output against a node's declared
// schema. Every declared field is required; types follow JSON Schema
// semantics, so an integer satisfies number but not the reverse.
func ValidateOutput(nodeID string, schema OutputSchema, output map[string]any) error {
	if schema.Format != "json" || len(schema.Fields) == 0 {
		return nil
	}

	doc := buildSchemaDocument(schema)
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(doc),
		gojsonschema.NewGoLoader(output),
	)
	if err != nil {
		return &SchemaValidationError{Message: fmt.Sprintf("node %s: schema validation: %v", nodeID, err)}
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return &SchemaValidationError{Message: fmt.Sprintf(
		"node %s output does not match schema: %s", nodeID, strings.Join(msgs, "; "))}
}

func buildSchemaDocument(schema OutputSchema) map[string]any {
	properties := make(map[string]any, len(schema.Fields))
	required := make([]string, 0, len(schema.Fields))
	for _, name := range sortedKeys(schema.Fields) {
		spec := schema.Fields[name]
		typ := spec.Type
		switch typ {
		case "string", "number", "integer", "boolean", "array", "object":
		default:
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		properties[name] = prop
		required = append(required, name)
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// JSONSchemaFor returns the JSON Schema document for a node's output, used
// both for validation and for provider structured-output requests.
func JSONSchemaFor(schema OutputSchema) map[string]any {
	return buildSchemaDocument(schema)
}
