package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/tools"
)

// TaskExecutionRequest is what the scheduler hands the manager to run
// one scheduled task (spec.md §4.7).
type TaskExecutionRequest struct {
	UserID      string
	TenantID    string
	ThreadKey   string // dedicated per-task thread, no chat history
	TaskID      string
	ExecutionID string
	Mission     string
	MandatePath string
	ExecutionPlan      string
	LastExecutionReport string
	Persist            bool // false for "NOW" ad-hoc executions
	UserConnected      bool
}

// ExecutionReport is the final record derived from the checklist and
// TERMINATE_TASK arguments once a scheduled task finishes (spec.md
// §4.7).
type ExecutionReport struct {
	TaskID         string
	ExecutionID    string
	Status         string // completed | partial | failed
	StepsCompleted int
	StepsTotal     int
	Errors         []string
	Duration       time.Duration
	Conclusion     string
}

const taskExecutionInstructions = "Work this mission to completion. Call CREATE_CHECKLIST first to lay out your plan, " +
	"call UPDATE_STEP as each step completes or fails, and finish by calling TERMINATE_TASK with a conclusion and " +
	"mission_completed reflecting whether the mission succeeded."

func buildTaskExecutionPrompt(req TaskExecutionRequest) string {
	prompt := fmt.Sprintf("Mission: %s\nMandate: %s\n", req.Mission, req.MandatePath)
	if req.ExecutionPlan != "" {
		prompt += fmt.Sprintf("Plan:\n%s\n", req.ExecutionPlan)
	}
	if req.LastExecutionReport != "" {
		prompt += fmt.Sprintf("Last execution report:\n%s\n", req.LastExecutionReport)
	}
	return prompt + "\n" + taskExecutionInstructions
}

// ExecuteScheduledTask implements spec.md §4.7: bind active_task_data
// to a dedicated-thread brain, compose the additive task-execution
// prompt, run the unified workflow, and, for persisted executions,
// derive and write the final report.
func (m *Manager) ExecuteScheduledTask(ctx context.Context, req TaskExecutionRequest) (*ExecutionReport, error) {
	sess, ok := m.registry.Get(req.UserID, req.TenantID)
	if !ok {
		return nil, fmt.Errorf("execute_scheduled_task: session not initialized for %s/%s", req.UserID, req.TenantID)
	}

	b, _, err := sess.EnsureBrain(req.ThreadKey, func() (*brain.Brain, error) {
		return brain.New(req.UserID, req.TenantID, req.ThreadKey, brain.ModeTaskExecution, sess.UserContext(), sess.JobsData(), m.brainDeps()), nil
	})
	if err != nil {
		return nil, err
	}

	b.SetActiveTaskData(&brain.TaskExecutionContext{
		TaskID: req.TaskID, ExecutionID: req.ExecutionID, Mission: req.Mission,
		MandatePath: req.MandatePath, ExecutionPlan: req.ExecutionPlan,
		LastExecutionReport: req.LastExecutionReport, PersistOnComplete: req.Persist,
	})

	enableStreaming := req.UserConnected && sess.IsUserOnSpecificThread(req.ThreadKey)
	assistantMessageID := brain.NewAssistantMessageID()
	started := time.Now()

	runCtx, done := m.controller.Register(context.Background(), req.UserID, req.TenantID, req.ThreadKey)
	defer done()

	result := b.RunWorkflow(runCtx, brain.Request{
		InitialContent:     buildTaskExecutionPrompt(req),
		AssistantMessageID: assistantMessageID,
		EnableStreaming:    enableStreaming,
	})

	if !req.Persist {
		return nil, result.Err
	}

	report := deriveExecutionReport(req, b.Checklist().Snapshot(), result, time.Since(started))

	if err := m.writeExecutionReport(ctx, req, report); err != nil {
		logger.WarnCF("manager", "failed to write final execution report", map[string]interface{}{"error": err.Error()})
	}
	if err := m.deps.Store.Delete(ctx, fmt.Sprintf("%s/running_executions/%s", req.TenantID, req.ExecutionID)); err != nil {
		logger.WarnCF("manager", "failed to remove running execution record", map[string]interface{}{"error": err.Error()})
	}

	return report, result.Err
}

// deriveExecutionReport classifies the outcome from the final
// checklist snapshot: a workflow error → failed; every step done, none
// failed and the mission marked complete → completed; otherwise at
// least one step done (even alongside failed steps) → partial; no step
// done → failed.
func deriveExecutionReport(req TaskExecutionRequest, steps []tools.ChecklistStep, result *brain.Result, duration time.Duration) *ExecutionReport {
	completed, failed := 0, 0
	var errs []string
	for _, s := range steps {
		switch s.Status {
		case tools.StepDone:
			completed++
		case tools.StepFailed:
			failed++
			errs = append(errs, fmt.Sprintf("%s: %s", s.Title, s.Detail))
		}
	}

	status := "failed"
	switch {
	case result.Err != nil:
		status = "failed"
	case failed == 0 && completed == len(steps) && result.MissionCompleted:
		status = "completed"
	case completed > 0:
		status = "partial"
	}

	conclusion := result.FinalText
	if result.Err != nil {
		conclusion = result.Err.Error()
	}

	return &ExecutionReport{
		TaskID: req.TaskID, ExecutionID: req.ExecutionID, Status: status,
		StepsCompleted: completed, StepsTotal: len(steps), Errors: errs,
		Duration: duration, Conclusion: conclusion,
	}
}

func (m *Manager) writeExecutionReport(ctx context.Context, req TaskExecutionRequest, report *ExecutionReport) error {
	path := fmt.Sprintf("%s/task_execution_reports/%s/%s", req.TenantID, req.TaskID, req.ExecutionID)
	return m.deps.Store.Set(ctx, path, map[string]interface{}{
		"task_id": report.TaskID, "execution_id": report.ExecutionID, "status": report.Status,
		"steps_completed": report.StepsCompleted, "steps_total": report.StepsTotal,
		"errors": report.Errors, "duration_seconds": report.Duration.Seconds(),
		"conclusion": report.Conclusion, "completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}
