package providers

import "testing"

func TestBuildClaudeParams_SeparatesSystemMessages(t *testing.T) {
	messages := []Message{
		{Role: "system", Text: "You are a helpful assistant."},
		{Role: "user", Text: "hello"},
	}

	params, err := buildClaudeParams(messages, nil, "claude-sonnet-4-5-20250929", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.System) != 1 {
		t.Fatalf("expected 1 system block, got %d", len(params.System))
	}
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 conversation message, got %d", len(params.Messages))
	}
}

func TestBuildClaudeParams_DefaultsMaxTokens(t *testing.T) {
	params, err := buildClaudeParams([]Message{{Role: "user", Text: "hi"}}, nil, "claude-sonnet-4-5-20250929", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.MaxTokens != 8192 {
		t.Errorf("expected default max tokens 8192, got %d", params.MaxTokens)
	}
}

func TestBuildClaudeParams_HonorsExplicitMaxTokens(t *testing.T) {
	params, err := buildClaudeParams([]Message{{Role: "user", Text: "hi"}}, nil, "claude-sonnet-4-5-20250929", Options{MaxTokens: 4096})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.MaxTokens != 4096 {
		t.Errorf("expected max tokens 4096, got %d", params.MaxTokens)
	}
}

func TestDecodeToolInput_NilInputYieldsEmptyMap(t *testing.T) {
	// Checks the small pure helper used when no tool input was sent.
	args, err := decodeToolInput(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 0 {
		t.Errorf("expected empty map for nil input, got %v", args)
	}
}
