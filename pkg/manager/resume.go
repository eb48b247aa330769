package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
)

// LPTCallback is the payload a worker delivers when a long-running
// tool call finishes (spec.md §4.6).
type LPTCallback struct {
	UserID        string
	TenantID      string
	ThreadKey     string
	Mode          brain.ChatMode
	TaskResponse  string
	OriginalTool  string
	OriginalArgs  map[string]interface{}
	UserConnected bool

	// Planned set when the LPT belongs to a tracked checklist step;
	// nil for a simple, unchecklisted LPT.
	Planned *PlannedContinuation
}

// PlannedContinuation carries the checklist step an LPT callback must
// drive UPDATE_STEP for before continuing (spec.md §4.6 step 3).
type PlannedContinuation struct {
	StepID string
}

// ResumeResult is the outcome of resuming a workflow after an LPT
// callback.
type ResumeResult struct {
	Success            bool
	AssistantMessageID string
}

// ResumeAfterLPT implements spec.md §4.6: ensure session and brain,
// build the continuation prompt, allocate a placeholder, and re-enter
// the unified workflow with streaming gated on presence.
func (m *Manager) ResumeAfterLPT(ctx context.Context, cb LPTCallback) (ResumeResult, error) {
	sess, ok := m.registry.Get(cb.UserID, cb.TenantID)
	if !ok {
		return ResumeResult{}, fmt.Errorf("resume_after_lpt: session not initialized for %s/%s", cb.UserID, cb.TenantID)
	}

	b, _, err := sess.EnsureBrain(cb.ThreadKey, func() (*brain.Brain, error) {
		return m.newBrainFromHistory(ctx, sess, cb.UserID, cb.TenantID, cb.ThreadKey, cb.Mode)
	})
	if err != nil {
		return ResumeResult{}, err
	}

	continuation := buildContinuationPrompt(cb)

	userOnThread := sess.IsUserOnSpecificThread(cb.ThreadKey) && cb.UserConnected
	assistantMessageID := brain.NewAssistantMessageID()
	path := assistantMessagesPath(cb.TenantID, cb.Mode, cb.ThreadKey) + "/" + assistantMessageID

	if userOnThread {
		if err := m.deps.Broadcaster.Broadcast(ctx, cb.UserID, threadChannel(cb.UserID, cb.TenantID, cb.ThreadKey), "assistant_message_placeholder", map[string]interface{}{
			"message_id": assistantMessageID,
		}); err != nil {
			logger.WarnCF("manager", "failed to broadcast assistant_message_placeholder", map[string]interface{}{"error": err.Error()})
		}
	}

	status := "thinking"
	if userOnThread {
		status = "streaming"
	}
	if err := m.deps.Store.Set(ctx, path, map[string]interface{}{
		"id": assistantMessageID, "status": status, "sender_id": "assistant",
		"message_type": "MESSAGE", "timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return ResumeResult{}, fmt.Errorf("resume_after_lpt: write placeholder: %w", err)
	}

	runCtx, done := m.controller.Register(context.Background(), cb.UserID, cb.TenantID, cb.ThreadKey)
	go func() {
		defer done()
		result := b.RunWorkflow(runCtx, brain.Request{
			InitialContent:     continuation,
			AssistantMessageID: assistantMessageID,
			EnableStreaming:    userOnThread,
		})
		if result.Err != nil {
			if err := m.deps.Store.Update(context.Background(), path, map[string]interface{}{"status": "error"}); err != nil {
				logger.WarnCF("manager", "failed to patch RTDB status=error after resume failure", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	return ResumeResult{Success: true, AssistantMessageID: assistantMessageID}, nil
}

// buildContinuationPrompt renders the worker's task response into a
// continuation instruction, prepending checklist-step guidance for
// planned LPTs (spec.md §4.6 step 3).
func buildContinuationPrompt(cb LPTCallback) string {
	if cb.Planned != nil {
		return fmt.Sprintf(
			"The long-running tool %q has completed. Call UPDATE_STEP for step %q reflecting this result, then continue:\n\n%s",
			cb.OriginalTool, cb.Planned.StepID, cb.TaskResponse,
		)
	}
	return fmt.Sprintf("The long-running tool %q has completed:\n\n%s", cb.OriginalTool, cb.TaskResponse)
}
