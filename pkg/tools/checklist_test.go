package tools

import (
	"context"
	"testing"
)

type recordingNotifier struct {
	broadcasts []string
	records    []map[string]interface{}
}

func (r *recordingNotifier) BroadcastWorkflow(_ context.Context, eventType string, _ interface{}) error {
	r.broadcasts = append(r.broadcasts, eventType)
	return nil
}

func (r *recordingNotifier) AppendReplayRecord(_ context.Context, payload map[string]interface{}) error {
	r.records = append(r.records, payload)
	return nil
}

func TestChecklist_SetStepsAssignsSequentialIDs(t *testing.T) {
	c := NewChecklist()
	steps := c.SetSteps([]string{"first", "second"})
	if steps[0].StepID != "s1" || steps[1].StepID != "s2" {
		t.Fatalf("expected sequential step IDs, got %+v", steps)
	}
	if steps[0].Status != StepPending {
		t.Fatalf("expected new steps to start pending")
	}
}

func TestChecklist_UpdateStepUnknownIDReturnsFalse(t *testing.T) {
	c := NewChecklist()
	c.SetSteps([]string{"first"})
	if c.UpdateStep("s99", StepDone, "") {
		t.Fatalf("expected update of unknown step to fail")
	}
}

func TestChecklist_UpdateStepAppliesStatus(t *testing.T) {
	c := NewChecklist()
	c.SetSteps([]string{"first"})
	if !c.UpdateStep("s1", StepInProgress, "working on it") {
		t.Fatalf("expected update to succeed")
	}
	snap := c.Snapshot()
	if snap[0].Status != StepInProgress || snap[0].Detail != "working on it" {
		t.Fatalf("unexpected snapshot state: %+v", snap[0])
	}
}

func TestCreateChecklistTool_BroadcastsAndRecords(t *testing.T) {
	c := NewChecklist()
	n := &recordingNotifier{}
	tool := NewCreateChecklistTool(c, n)

	result := tool.Execute(context.Background(), map[string]interface{}{
		"steps": []interface{}{"one", "two", "three"},
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if len(c.Snapshot()) != 3 {
		t.Fatalf("expected 3 steps created")
	}
	if len(n.broadcasts) != 1 || n.broadcasts[0] != "WORKFLOW_CHECKLIST" {
		t.Fatalf("expected one WORKFLOW_CHECKLIST broadcast, got %v", n.broadcasts)
	}
	if len(n.records) != 1 {
		t.Fatalf("expected one replay record appended")
	}
}

func TestCreateChecklistTool_RejectsEmptySteps(t *testing.T) {
	tool := NewCreateChecklistTool(NewChecklist(), nil)
	result := tool.Execute(context.Background(), map[string]interface{}{"steps": []interface{}{}})
	if !result.IsError {
		t.Fatalf("expected error for empty steps")
	}
}

func TestUpdateStepTool_UpdatesAndBroadcasts(t *testing.T) {
	c := NewChecklist()
	c.SetSteps([]string{"first"})
	n := &recordingNotifier{}
	tool := NewUpdateStepTool(c, n)

	result := tool.Execute(context.Background(), map[string]interface{}{
		"step_id": "s1", "status": "done", "detail": "finished",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if c.Snapshot()[0].Status != StepDone {
		t.Fatalf("expected step marked done")
	}
	if len(n.broadcasts) != 1 || n.broadcasts[0] != "WORKFLOW_STEP_UPDATE" {
		t.Fatalf("expected WORKFLOW_STEP_UPDATE broadcast, got %v", n.broadcasts)
	}
}

func TestUpdateStepTool_UnknownStepReturnsError(t *testing.T) {
	c := NewChecklist()
	c.SetSteps([]string{"first"})
	tool := NewUpdateStepTool(c, nil)

	result := tool.Execute(context.Background(), map[string]interface{}{
		"step_id": "nope", "status": "done",
	})
	if !result.IsError {
		t.Fatalf("expected error for unknown step_id")
	}
}
