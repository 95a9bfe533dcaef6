package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// actionSchema is the wire contract for POST /v1/actions. Unknown kinds
// are rejected at the edge; the payload stays opaque.
const actionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["actor_id", "subject_id", "kind"],
  "properties": {
    "id": {"type": "string", "format": "uuid"},
    "actor_id": {"type": "string", "minLength": 1},
    "actor_role": {"type": "string"},
    "subject_id": {"type": "string", "minLength": 1},
    "kind": {
      "type": "string",
      "enum": ["ACCESS", "MODIFY", "CONSENT", "EXPORT", "SHARE", "EMERGENCY_OVERRIDE"]
    },
    "purpose": {"type": "string"},
    "payload": {},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": false
}`

// mustCompileActionSchema compiles the submission schema once at
// startup; a broken schema is a programming error.
func mustCompileActionSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const schemaURL = "https://caretrust.io/schemas/action.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(actionSchema)); err != nil {
		panic(fmt.Sprintf("action schema load failed: %v", err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("action schema compile failed: %v", err))
	}
	return compiled
}

// validateSubmission checks raw request bytes against the action schema
// before they are decoded into a typed Action.
func validateSubmission(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
