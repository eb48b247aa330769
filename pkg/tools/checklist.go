package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StepStatus is a checklist step's lifecycle state.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
	StepFailed     StepStatus = "failed"
)

// ChecklistStep is one unit of a task-execution plan, shaped after
// the original task tracker's step record.
type ChecklistStep struct {
	StepID    string     `json:"step_id"`
	Title     string     `json:"title"`
	Status    StepStatus `json:"status"`
	Detail    string     `json:"detail,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Checklist is the execution-record plan a scheduled task works
// through via CREATE_CHECKLIST / UPDATE_STEP.
type Checklist struct {
	mu    sync.Mutex
	Steps []ChecklistStep
}

func NewChecklist() *Checklist {
	return &Checklist{}
}

// SetSteps replaces the checklist wholesale, assigning sequential
// step IDs.
func (c *Checklist) SetSteps(titles []string) []ChecklistStep {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	steps := make([]ChecklistStep, 0, len(titles))
	for i, title := range titles {
		steps = append(steps, ChecklistStep{
			StepID:    fmt.Sprintf("s%d", i+1),
			Title:     title,
			Status:    StepPending,
			UpdatedAt: now,
		})
	}
	c.Steps = steps
	return steps
}

// UpdateStep patches one step by ID, returning false if stepID isn't
// on the checklist.
func (c *Checklist) UpdateStep(stepID string, status StepStatus, detail string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Steps {
		if c.Steps[i].StepID == stepID {
			c.Steps[i].Status = status
			c.Steps[i].Detail = detail
			c.Steps[i].UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current steps.
func (c *Checklist) Snapshot() []ChecklistStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChecklistStep, len(c.Steps))
	copy(out, c.Steps)
	return out
}

// WorkflowNotifier is the small surface checklist tools need:
// broadcast a workflow event over WS and append a replayable record
// into RTDB. Brain construction wires the real ws.Hub/rtdb.Store
// through an adapter implementing this.
type WorkflowNotifier interface {
	BroadcastWorkflow(ctx context.Context, eventType string, payload interface{}) error
	AppendReplayRecord(ctx context.Context, payload map[string]interface{}) error
}

// CreateChecklistTool is the CREATE_CHECKLIST meta tool.
type CreateChecklistTool struct {
	checklist *Checklist
	notifier  WorkflowNotifier
}

func NewCreateChecklistTool(checklist *Checklist, notifier WorkflowNotifier) *CreateChecklistTool {
	return &CreateChecklistTool{checklist: checklist, notifier: notifier}
}

func (t *CreateChecklistTool) Name() string { return "CREATE_CHECKLIST" }

func (t *CreateChecklistTool) Description() string {
	return "Create the ordered list of steps for this task execution. Call once, before doing any work."
}

func (t *CreateChecklistTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"steps": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Ordered list of step titles.",
			},
		},
		"required": []string{"steps"},
	}
}

func (t *CreateChecklistTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	raw, ok := args["steps"].([]interface{})
	if !ok || len(raw) == 0 {
		return ErrorResult("steps is required and must be a non-empty array")
	}

	titles := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			titles = append(titles, s)
		}
	}
	steps := t.checklist.SetSteps(titles)

	if t.notifier != nil {
		_ = t.notifier.BroadcastWorkflow(ctx, "WORKFLOW_CHECKLIST", steps)
		_ = t.notifier.AppendReplayRecord(ctx, map[string]interface{}{
			"message_type": "CMMD",
			"event":        "WORKFLOW_CHECKLIST",
			"steps":        steps,
		})
	}

	return Result(fmt.Sprintf("Checklist created with %d steps.", len(steps)))
}

// UpdateStepTool is the UPDATE_STEP meta tool.
type UpdateStepTool struct {
	checklist *Checklist
	notifier  WorkflowNotifier
}

func NewUpdateStepTool(checklist *Checklist, notifier WorkflowNotifier) *UpdateStepTool {
	return &UpdateStepTool{checklist: checklist, notifier: notifier}
}

func (t *UpdateStepTool) Name() string { return "UPDATE_STEP" }

func (t *UpdateStepTool) Description() string {
	return "Update the status of one checklist step created by CREATE_CHECKLIST."
}

func (t *UpdateStepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"step_id": map[string]interface{}{"type": "string"},
			"status":  map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "done", "failed"}},
			"detail":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"step_id", "status"},
	}
}

func (t *UpdateStepTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	stepID, _ := args["step_id"].(string)
	status, _ := args["status"].(string)
	detail, _ := args["detail"].(string)
	if stepID == "" || status == "" {
		return ErrorResult("step_id and status are required")
	}

	if !t.checklist.UpdateStep(stepID, StepStatus(status), detail) {
		return ErrorResult(fmt.Sprintf("unknown step_id %q", stepID))
	}

	if t.notifier != nil {
		payload := map[string]interface{}{"step_id": stepID, "status": status, "detail": detail}
		_ = t.notifier.BroadcastWorkflow(ctx, "WORKFLOW_STEP_UPDATE", payload)
		_ = t.notifier.AppendReplayRecord(ctx, map[string]interface{}{
			"message_type": "CMMD",
			"event":        "WORKFLOW_STEP_UPDATE",
			"payload":      payload,
		})
	}

	return Result(fmt.Sprintf("Step %s marked %s.", stepID, status))
}
