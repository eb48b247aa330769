package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/providers"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/tools"
)

// Request is the unified workflow's input, identical in shape whether
// the caller is send_message, the LPT resume path, or a scheduled task
// execution — only EnableStreaming and the initial content differ
// across those three callers (spec.md §4.2).
type Request struct {
	InitialContent       string
	AssistantMessageID   string
	EnableStreaming      bool
	SystemPromptOverride string
}

// Result is what RunWorkflow returns once the conversation turn is
// finished, cancelled, or errored.
type Result struct {
	FinalText        string
	Turns            int
	MissionCompleted bool
	Cancelled        bool
	Err              error
}

// RunWorkflow drives the single agentic loop: model calls, SPT/LPT
// dispatch, streaming delta fan-out, token-budget summarization, and
// cancellation (spec.md §4.2). It is safe to call concurrently for
// different brains, but the Brain itself enforces no concurrency
// control of its own — that invariant ("at most one streaming workflow
// active per thread") is the StreamingController's job, and callers
// must register with it before invoking RunWorkflow.
func (b *Brain) RunWorkflow(ctx context.Context, req Request) *Result {
	if b.isClosed() {
		return &Result{Err: fmt.Errorf("brain: workflow invoked on closed brain for thread %q", b.threadKey)}
	}

	if req.SystemPromptOverride != "" {
		b.SetSystemPromptOverride(req.SystemPromptOverride)
	}

	if req.EnableStreaming {
		b.broadcast(ctx, "llm.stream_start", map[string]interface{}{"message_id": req.AssistantMessageID})
	}

	if req.InitialContent != "" {
		b.appendHistory(providers.Message{Role: "user", Text: req.InitialContent})
	}

	var accumulator string
	var missionCompleted bool
	turns := 0

	maxIterations := 20
	if b.deps != nil && b.deps.MaxIterations > 0 {
		maxIterations = b.deps.MaxIterations
	}

	for turns < maxIterations {
		if err := ctx.Err(); err != nil {
			return b.finalizeCancelled(context.Background(), req, accumulator, turns)
		}

		if b.deps != nil && b.deps.TokenBudget > 0 && b.TotalContextTokens() >= b.deps.TokenBudget {
			b.summarize(ctx)
		}

		turns++

		text, usedTools, missionFlag, err := b.runTurn(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return b.finalizeCancelled(context.Background(), req, accumulator, turns)
			}
			return b.finalizeError(context.Background(), req, err)
		}

		accumulator += text
		if missionFlag {
			missionCompleted = true
		}

		if !usedTools || missionCompleted {
			break
		}
	}

	return b.finalizeComplete(context.Background(), req, accumulator, turns, missionCompleted)
}

// runTurn runs one model call + tool-dispatch round, returning the
// text produced this turn, whether the model requested any tool use,
// and whether TERMINATE_TASK was called.
func (b *Brain) runTurn(ctx context.Context, req Request) (text string, usedTools bool, missionCompleted bool, err error) {
	messages := append([]providers.Message{{Role: "system", Text: b.SystemPrompt()}}, b.History()...)
	toolDefs := b.Tools().ToProviderDefs()
	b.Tools().SetContext(b.userID, b.tenantID, b.threadKey)

	var turnText string
	var pendingCalls []providers.ToolCall

	handler := func(hctx context.Context, ev providers.StreamEvent) error {
		switch ev.Type {
		case providers.EventTextChunk:
			turnText += ev.Chunk
			if req.EnableStreaming {
				b.broadcast(hctx, "llm.stream_delta", map[string]interface{}{"chunk": ev.Chunk, "message_id": req.AssistantMessageID})
			}
		case providers.EventToolUseStart:
			b.broadcast(hctx, "llm.tool_use_start", map[string]interface{}{"tool": ev.ToolCall.Name, "message_id": req.AssistantMessageID})
		case providers.EventToolUse:
			pendingCalls = append(pendingCalls, ev.ToolCall)
		}
		return nil
	}

	model := ""
	if b.deps != nil {
		model = b.deps.Model
	}

	var resp *providers.LLMResponse
	if b.deps != nil && b.deps.Provider != nil {
		resp, err = b.deps.Provider.ChatStream(ctx, messages, toolDefs, model, providers.Options{}, handler)
	}
	if err != nil {
		return "", false, false, fmt.Errorf("workflow: provider call failed: %w", err)
	}
	if resp == nil {
		return "", false, false, fmt.Errorf("workflow: no provider configured")
	}

	assistantMsg := providers.Message{Role: "assistant"}
	if turnText != "" {
		assistantMsg.Blocks = append(assistantMsg.Blocks, providers.ContentBlock{Type: providers.BlockText, Text: turnText})
	}
	for _, call := range pendingCalls {
		assistantMsg.Blocks = append(assistantMsg.Blocks, providers.ContentBlock{
			Type: providers.BlockToolUse, ToolUseID: call.ID, ToolName: call.Name, Input: call.Arguments,
		})
	}
	if len(assistantMsg.Blocks) > 0 {
		b.appendHistory(assistantMsg)
	}

	if len(pendingCalls) == 0 {
		return turnText, false, false, nil
	}

	var toolResultMsg providers.Message
	toolResultMsg.Role = "user"
	var notices string
	for _, call := range pendingCalls {
		result := b.Tools().Execute(ctx, call.Name, call.Arguments)

		toolResultMsg.Blocks = append(toolResultMsg.Blocks, providers.ContentBlock{
			Type: providers.BlockToolResult, ToolUseID: call.ID, Result: result.ForLLM, IsError: result.IsError,
		})

		if t, ok := b.Tools().Get(call.Name); ok {
			if lrt, ok := t.(tools.LongRunningTool); ok && lrt.IsLongRunning() {
				notices += fmt.Sprintf("\n[%s is running in the background; you'll be notified when it completes.]", call.Name)
			}
		}

		b.broadcast(ctx, "llm.tool_use_complete", map[string]interface{}{
			"tool": call.Name, "message_id": req.AssistantMessageID, "is_error": result.IsError,
		})
	}
	b.appendHistory(toolResultMsg)

	called, conclusion, missionFlag := b.terminationSignal.Consume()
	if called {
		turnText += "\n" + conclusion
		missionCompleted = missionFlag
	}

	return turnText + notices, true, missionCompleted, nil
}

func (b *Brain) broadcast(ctx context.Context, eventType string, payload interface{}) {
	if b.deps == nil || b.deps.Broadcaster == nil {
		return
	}
	channel := threadChannel(b.userID, b.tenantID, b.threadKey)
	if err := b.deps.Broadcaster.Broadcast(ctx, b.userID, channel, eventType, payload); err != nil {
		logger.WarnCF("brain", "broadcast failed", map[string]interface{}{"error": err.Error(), "event": eventType})
	}
}

func (b *Brain) assistantMessagePath(req Request) string {
	return fmt.Sprintf("%s/%s/%s/messages/%s", b.tenantID, assistantContainer(b.Mode()), b.threadKey, req.AssistantMessageID)
}

func messageContentJSON(text string) string {
	raw, _ := json.Marshal(map[string]interface{}{
		"message": map[string]interface{}{"argumentText": text},
	})
	return string(raw)
}

func (b *Brain) finalizeComplete(ctx context.Context, req Request, text string, turns int, missionCompleted bool) *Result {
	if b.deps != nil && b.deps.Store != nil {
		fields := map[string]interface{}{
			"id":                req.AssistantMessageID,
			"content":           messageContentJSON(text),
			"sender_id":         "assistant",
			"timestamp":         time.Now().UTC().Format(time.RFC3339),
			"message_type":      "MESSAGE",
			"read":              false,
			"local_processed":   false,
			"status":            "complete",
			"streaming_progress": 1,
			"turns":             turns,
			"mission_completed": missionCompleted,
			"completed_at":      time.Now().UTC().Format(time.RFC3339),
		}
		if err := b.deps.Store.Update(ctx, b.assistantMessagePath(req), fields); err != nil {
			logger.ErrorCF("brain", "failed to persist final assistant message", map[string]interface{}{"error": err.Error()})
		}
	}

	if req.EnableStreaming {
		b.broadcast(ctx, "llm.stream_end", map[string]interface{}{"message_id": req.AssistantMessageID})
	}

	return &Result{FinalText: text, Turns: turns, MissionCompleted: missionCompleted}
}

func (b *Brain) finalizeCancelled(ctx context.Context, req Request, partial string, turns int) *Result {
	if b.deps != nil && b.deps.Store != nil {
		fields := map[string]interface{}{
			"content":   messageContentJSON(partial),
			"status":    "cancelled",
			"turns":     turns,
		}
		if err := b.deps.Store.Update(ctx, b.assistantMessagePath(req), fields); err != nil {
			logger.ErrorCF("brain", "failed to persist cancelled assistant message", map[string]interface{}{"error": err.Error()})
		}
	}
	if req.EnableStreaming {
		b.broadcast(ctx, "llm_stream_interrupted", map[string]interface{}{"message_id": req.AssistantMessageID})
	}
	return &Result{FinalText: partial, Turns: turns, Cancelled: true}
}

func (b *Brain) finalizeError(ctx context.Context, req Request, runErr error) *Result {
	if b.deps != nil && b.deps.Store != nil {
		fields := map[string]interface{}{
			"status":   "error",
			"error":    runErr.Error(),
			"error_at": time.Now().UTC().Format(time.RFC3339),
		}
		if err := b.deps.Store.Update(ctx, b.assistantMessagePath(req), fields); err != nil {
			logger.ErrorCF("brain", "failed to persist errored assistant message", map[string]interface{}{"error": err.Error()})
		}
	}
	if req.EnableStreaming {
		b.broadcast(ctx, "llm.error", map[string]interface{}{"message_id": req.AssistantMessageID, "error": runErr.Error()})
	}
	return &Result{Err: runErr}
}

// NewAssistantMessageID generates a message ID for send_message/resume
// paths that need to allocate one before invoking RunWorkflow.
func NewAssistantMessageID() string {
	return uuid.New().String()
}
