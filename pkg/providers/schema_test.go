package providers

import "testing"

func TestValidateArguments_EmptySchemaAlwaysPasses(t *testing.T) {
	if err := ValidateArguments(nil, map[string]interface{}{"anything": 1}); err != nil {
		t.Errorf("expected nil error for empty schema, got %v", err)
	}
}

func TestValidateArguments_RequiredFieldMissing(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"path"},
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
	}

	if err := ValidateArguments(schema, map[string]interface{}{}); err == nil {
		t.Error("expected validation error for missing required field")
	}
}

func TestValidateArguments_ValidPayload(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"path"},
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
	}

	err := ValidateArguments(schema, map[string]interface{}{"path": "threads/abc/context"})
	if err != nil {
		t.Errorf("expected valid payload to pass, got %v", err)
	}
}

func TestValidateArguments_WrongType(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"count": map[string]interface{}{"type": "integer"},
		},
	}

	err := ValidateArguments(schema, map[string]interface{}{"count": "not-a-number"})
	if err == nil {
		t.Error("expected type mismatch to fail validation")
	}
}
