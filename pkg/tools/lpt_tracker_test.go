package tools

import (
	"strings"
	"testing"
)

func TestLPTTracker_CreateTaskGeneratesPrefixedID(t *testing.T) {
	tr := NewLPTTracker()
	task := tr.CreateTask("research_agent", "gather_docs", map[string]interface{}{"q": "x"})

	if !strings.HasPrefix(task.TaskID, "lpt_") {
		t.Fatalf("expected task ID prefixed with lpt_, got %q", task.TaskID)
	}
	if task.Status != LPTQueued {
		t.Fatalf("expected new task to start queued")
	}
}

func TestLPTTracker_UpdateProgressUnknownTaskReturnsFalse(t *testing.T) {
	tr := NewLPTTracker()
	if tr.UpdateProgress("lpt_doesnotexist", LPTProcessing, 0.5, "step", nil) {
		t.Fatalf("expected update of unknown task to fail")
	}
}

func TestLPTTracker_UpdateProgressAppliesFields(t *testing.T) {
	tr := NewLPTTracker()
	task := tr.CreateTask("research_agent", "gather_docs", nil)

	ok := tr.UpdateProgress(task.TaskID, LPTCompleted, 1.0, "final", map[string]interface{}{"result": "ok"})
	if !ok {
		t.Fatalf("expected update to succeed")
	}

	got, found := tr.Get(task.TaskID)
	if !found {
		t.Fatalf("expected task to be found")
	}
	if got.Status != LPTCompleted || got.Progress != 1.0 || got.ResultData["result"] != "ok" {
		t.Fatalf("unexpected task state: %+v", got)
	}
}

func TestLPTTracker_RemoveDropsTask(t *testing.T) {
	tr := NewLPTTracker()
	task := tr.CreateTask("a", "b", nil)
	tr.Remove(task.TaskID)

	if _, found := tr.Get(task.TaskID); found {
		t.Fatalf("expected task to be removed")
	}
}
