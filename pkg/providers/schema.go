package providers

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArguments checks a tool call's decoded arguments against its
// declared input schema, so a malformed or hallucinated tool call is
// rejected before it reaches the tool's Execute method.
func ValidateArguments(schemaDoc map[string]interface{}, args map[string]interface{}) error {
	if len(schemaDoc) == 0 {
		return nil
	}

	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	payloadRaw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var payload any
	if err := json.Unmarshal(payloadRaw, &payload); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("arguments failed schema validation: %w", err)
	}
	return nil
}
