package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/approval"
)

// ContextTextStore is the narrow surface UPDATE_CONTEXT needs to read
// and persist the working text it edits — a job's onboarding note, a
// document draft, whatever the active chat mode binds it to.
type ContextTextStore interface {
	GetText(ctx context.Context, tenantID, threadKey string) (string, error)
	SetText(ctx context.Context, tenantID, threadKey, text string) error
}

// UpdateContextTool is the UPDATE_CONTEXT meta tool: it runs the pure
// text updater over the requested operations, then suspends the turn
// behind an approval card showing the diff before persisting anything.
type UpdateContextTool struct {
	mu        sync.Mutex
	userID    string
	tenantID  string
	threadKey string

	store    ContextTextStore
	protocol *approval.Protocol
	cardTitle string
}

func NewUpdateContextTool(store ContextTextStore, protocol *approval.Protocol) *UpdateContextTool {
	return &UpdateContextTool{store: store, protocol: protocol, cardTitle: "Update working context"}
}

func (t *UpdateContextTool) Name() string { return "UPDATE_CONTEXT" }

func (t *UpdateContextTool) Description() string {
	return "Propose edits to the working context text (beginning, middle, or end) and request user approval before saving."
}

func (t *UpdateContextTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operations": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"section_type": map[string]interface{}{"type": "string", "enum": []string{"beg", "mid", "end"}},
						"operation":    map[string]interface{}{"type": "string", "enum": []string{"add", "replace", "delete"}},
						"new_content":  map[string]interface{}{"type": "string"},
						"context":      map[string]interface{}{"type": "string"},
					},
					"required": []string{"section_type", "operation"},
				},
			},
		},
		"required": []string{"operations"},
	}
}

func (t *UpdateContextTool) SetContext(userID, tenantID, threadKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userID, t.tenantID, t.threadKey = userID, tenantID, threadKey
}

func (t *UpdateContextTool) current() (userID, tenantID, threadKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID, t.tenantID, t.threadKey
}

func (t *UpdateContextTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	userID, tenantID, threadKey := t.current()
	if threadKey == "" {
		return ErrorResult("UPDATE_CONTEXT has no active thread context")
	}

	ops, err := parseOperations(args["operations"])
	if err != nil {
		return ErrorResult(err.Error())
	}

	text, err := t.store.GetText(ctx, tenantID, threadKey)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to load working context: %v", err))
	}

	result := approval.ApplyOperations(text, ops)
	card := approval.BuildTextDiffCard(t.cardTitle, result)

	outcome, err := t.protocol.RequestApprovalWithCard(ctx, userID, tenantID, threadKey, card, 0)
	if err != nil {
		return ErrorResult(fmt.Sprintf("approval request failed: %v", err))
	}

	if outcome.TimedOut {
		return SilentResult("The user did not respond to the context update request in time; no changes were saved.")
	}
	if !outcome.Approved {
		return SilentResult(fmt.Sprintf("The user rejected the proposed context update. %s", outcome.UserMessage))
	}

	if err := t.store.SetText(ctx, tenantID, threadKey, result.UpdatedText); err != nil {
		return ErrorResult(fmt.Sprintf("approved update failed to save: %v", err))
	}

	return SilentResult("The user approved the context update; it has been saved.")
}

func parseOperations(raw interface{}) ([]approval.Operation, error) {
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("operations is required and must be a non-empty array")
	}

	ops := make([]approval.Operation, 0, len(list))
	for i, v := range list {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("operations[%d] must be an object", i)
		}
		section, _ := m["section_type"].(string)
		kind, _ := m["operation"].(string)
		newContent, _ := m["new_content"].(string)
		opContext, _ := m["context"].(string)
		if section == "" || kind == "" {
			return nil, fmt.Errorf("operations[%d] requires section_type and operation", i)
		}
		ops = append(ops, approval.Operation{
			SectionType: approval.SectionLocator(section),
			Operation:   approval.OperationKind(kind),
			NewContent:  newContent,
			Context:     opContext,
		})
	}
	return ops, nil
}
