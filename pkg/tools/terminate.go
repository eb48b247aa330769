package tools

import (
	"context"
	"sync"
)

// TerminationSignal is set by TERMINATE_TASK when the model calls it.
// The workflow loop doesn't break out of the iteration loop on seeing
// the tool_use event — it still needs to feed the matching tool_result
// back so the conversation stays structurally valid — so it checks
// this signal only after the turn's tool results have all been
// appended.
type TerminationSignal struct {
	mu               sync.Mutex
	called           bool
	conclusion       string
	missionCompleted bool
}

func NewTerminationSignal() *TerminationSignal {
	return &TerminationSignal{}
}

// Consume reports whether TERMINATE_TASK was called this turn and
// resets the flag, along with the conclusion text and completion
// flag it was called with.
func (s *TerminationSignal) Consume() (called bool, conclusion string, missionCompleted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	called, conclusion, missionCompleted = s.called, s.conclusion, s.missionCompleted
	s.called = false
	s.conclusion = ""
	s.missionCompleted = false
	return
}

func (s *TerminationSignal) set(conclusion string, missionCompleted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called = true
	s.conclusion = conclusion
	s.missionCompleted = missionCompleted
}

// TerminateTaskTool is the TERMINATE_TASK meta tool: it signals
// mission end rather than performing any domain action.
type TerminateTaskTool struct {
	signal *TerminationSignal
}

func NewTerminateTaskTool(signal *TerminationSignal) *TerminateTaskTool {
	return &TerminateTaskTool{signal: signal}
}

func (t *TerminateTaskTool) Name() string { return "TERMINATE_TASK" }

func (t *TerminateTaskTool) Description() string {
	return "Call this when the mission is finished (successfully or not) to end the conversation turn with a conclusion."
}

func (t *TerminateTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"conclusion":        map[string]interface{}{"type": "string", "description": "Final message summarizing the outcome."},
			"mission_completed": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"conclusion", "mission_completed"},
	}
}

func (t *TerminateTaskTool) Execute(_ context.Context, args map[string]interface{}) *ToolResult {
	conclusion, _ := args["conclusion"].(string)
	missionCompleted, _ := args["mission_completed"].(bool)
	if conclusion == "" {
		return ErrorResult("conclusion is required")
	}

	t.signal.set(conclusion, missionCompleted)
	return Result("Mission marked complete.")
}
