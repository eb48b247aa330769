package tools

import (
	"context"
	"testing"
)

func TestTerminateTaskTool_SetsSignal(t *testing.T) {
	sig := NewTerminationSignal()
	tool := NewTerminateTaskTool(sig)

	result := tool.Execute(context.Background(), map[string]interface{}{
		"conclusion": "done here", "mission_completed": true,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}

	called, conclusion, completed := sig.Consume()
	if !called || conclusion != "done here" || !completed {
		t.Fatalf("expected signal set, got called=%v conclusion=%q completed=%v", called, conclusion, completed)
	}
}

func TestTerminateTaskTool_RequiresConclusion(t *testing.T) {
	sig := NewTerminationSignal()
	tool := NewTerminateTaskTool(sig)

	result := tool.Execute(context.Background(), map[string]interface{}{"mission_completed": false})
	if !result.IsError {
		t.Fatalf("expected error when conclusion is missing")
	}
}

func TestTerminationSignal_ConsumeResetsState(t *testing.T) {
	sig := NewTerminationSignal()
	sig.set("first", true)

	called, _, _ := sig.Consume()
	if !called {
		t.Fatalf("expected first consume to report called")
	}

	called, conclusion, completed := sig.Consume()
	if called || conclusion != "" || completed {
		t.Fatalf("expected second consume to report reset state")
	}
}
