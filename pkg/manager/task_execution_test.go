package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/tools"
)

func TestExecuteScheduledTask_PersistedWritesReportAndRemovesRunningExecution(t *testing.T) {
	m, _, store := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeTaskExecution)
	require.NoError(t, err)

	err = store.Set(context.Background(), "t1/running_executions/exec1", map[string]interface{}{"task_id": "task1"})
	require.NoError(t, err)

	report, err := m.ExecuteScheduledTask(context.Background(), TaskExecutionRequest{
		UserID: "u1", TenantID: "t1", ThreadKey: "task-thread1",
		TaskID: "task1", ExecutionID: "exec1", Mission: "Reconcile March invoices",
		MandatePath: "mandates/m1", Persist: true,
	})
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Equal(t, "task1", report.TaskID)

	node, err := store.Get(context.Background(), "t1/task_execution_reports/task1/exec1")
	require.NoError(t, err)
	require.NotNil(t, node)

	runningNode, err := store.Get(context.Background(), "t1/running_executions/exec1")
	require.NoError(t, err)
	require.Nil(t, runningNode)
}

func TestExecuteScheduledTask_AdHocDoesNotPersist(t *testing.T) {
	m, _, store := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeTaskExecution)
	require.NoError(t, err)

	report, err := m.ExecuteScheduledTask(context.Background(), TaskExecutionRequest{
		UserID: "u1", TenantID: "t1", ThreadKey: "task-thread2",
		TaskID: "task2", ExecutionID: "exec2", Mission: "Quick lookup", Persist: false,
	})
	require.NoError(t, err)
	require.Nil(t, report)

	node, err := store.Get(context.Background(), "t1/task_execution_reports/task2/exec2")
	require.NoError(t, err)
	require.Nil(t, node)
}

func TestDeriveExecutionReport_AllStepsDoneAndMissionCompleted_IsCompleted(t *testing.T) {
	steps := []tools.ChecklistStep{
		{StepID: "s1", Status: tools.StepDone},
		{StepID: "s2", Status: tools.StepDone},
	}
	report := deriveExecutionReport(TaskExecutionRequest{TaskID: "t", ExecutionID: "e"}, steps, &brain.Result{MissionCompleted: true}, 0)
	require.Equal(t, "completed", report.Status)
	require.Equal(t, 2, report.StepsCompleted)
	require.Equal(t, 2, report.StepsTotal)
}

func TestDeriveExecutionReport_AnyFailedStep_IsPartialOrFailed(t *testing.T) {
	steps := []tools.ChecklistStep{
		{StepID: "s1", Status: tools.StepDone},
		{StepID: "s2", Status: tools.StepFailed, Title: "reconcile", Detail: "bank API timeout"},
	}
	report := deriveExecutionReport(TaskExecutionRequest{}, steps, &brain.Result{MissionCompleted: true}, 0)
	require.Equal(t, "partial", report.Status)
	require.Len(t, report.Errors, 1)
	require.Contains(t, report.Errors[0], "bank API timeout")
}

func TestDeriveExecutionReport_WorkflowError_IsFailed(t *testing.T) {
	report := deriveExecutionReport(TaskExecutionRequest{}, nil, &brain.Result{Err: require.AnError}, 0)
	require.Equal(t, "failed", report.Status)
}
