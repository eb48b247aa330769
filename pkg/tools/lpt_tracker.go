package tools

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// LPTStatus is the lifecycle a dispatched long-process-tool task
// moves through.
type LPTStatus string

const (
	LPTQueued     LPTStatus = "queued"
	LPTProcessing LPTStatus = "processing"
	LPTCompleted  LPTStatus = "completed"
	LPTFailed     LPTStatus = "failed"
)

// LPTTask is the bookkeeping record for one dispatched long-running
// tool call, shaped after the original task tracker's record.
type LPTTask struct {
	TaskID     string
	Type       string // "lpt"
	AgentType  string
	Action     string
	Params     map[string]interface{}
	Status     LPTStatus
	Progress   float64
	StepName   string
	ResultData map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LPTTracker holds every in-flight LPT dispatched from a given
// thread, so the resume path (spec.md §4.6) can look one up by task
// ID when the worker's completion callback arrives.
type LPTTracker struct {
	mu    sync.Mutex
	tasks map[string]*LPTTask
}

func NewLPTTracker() *LPTTracker {
	return &LPTTracker{tasks: make(map[string]*LPTTask)}
}

// CreateTask registers a new dispatched LPT and returns its
// generated task ID.
func (t *LPTTracker) CreateTask(agentType, action string, params map[string]interface{}) *LPTTask {
	now := time.Now()
	task := &LPTTask{
		TaskID:    newLPTTaskID(),
		Type:      "lpt",
		AgentType: agentType,
		Action:    action,
		Params:    params,
		Status:    LPTQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.tasks[task.TaskID] = task
	t.mu.Unlock()

	return task
}

// UpdateProgress patches a tracked task's status/progress/step.
func (t *LPTTracker) UpdateProgress(taskID string, status LPTStatus, progress float64, stepName string, resultData map[string]interface{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return false
	}
	task.Status = status
	task.Progress = progress
	task.StepName = stepName
	if resultData != nil {
		task.ResultData = resultData
	}
	task.UpdatedAt = time.Now()
	return true
}

// Get returns the tracked task, if any.
func (t *LPTTracker) Get(taskID string) (*LPTTask, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	return task, ok
}

// Remove drops a task from tracking, once its completion has been
// folded into the resumed conversation.
func (t *LPTTracker) Remove(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}

func newLPTTaskID() string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("lpt_%s", hex.EncodeToString(buf[:]))
}
