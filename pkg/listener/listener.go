// Package listener implements the per-thread RTDB follow-up listener
// and the intermediation state machine (spec.md §4.3): it subscribes
// to a worker job's message channel, classifies and dispatches each
// record by message_type, and drives the session's intermediation
// flag for the chat modes that allow card-driven dialog.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/rtdb"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/session"
)

// MessageType is the worker RTDB message discriminator (spec.md §3).
type MessageType string

const (
	TypeMessage          MessageType = "MESSAGE"
	TypeFollowMessage    MessageType = "FOLLOW_MESSAGE"
	TypeCard             MessageType = "CARD"
	TypeWaitingMessage   MessageType = "WAITING_MESSAGE"
	TypeTool             MessageType = "TOOL"
	TypeCardClicked      MessageType = "CARD_CLICKED_PINNOKIO"
	TypeCloseIntermed    MessageType = "CLOSE_INTERMEDIATION"
	TypeWorkflow         MessageType = "WORKFLOW"
	TypeCMMD             MessageType = "CMMD"
)

// reactivateStatuses are the job statuses under which load-time
// reactivation applies; an empty status is treated as eligible too
// (spec.md §4.3 "running or in queue (or unspecified)").
var reactivateStatuses = map[string]bool{
	"running":  true,
	"in queue": true,
	"":         true,
}

// RawMessage is one record read from
// "<tenant>/job_chats/<job_id>/messages" (spec.md §3/§6).
type RawMessage struct {
	ID          string
	MessageType MessageType
	Content     interface{} // string or object, as stored
	Timestamp   time.Time
	SenderID    string
}

// Broadcaster is the narrow WS surface this package needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, uid, channel, eventType string, payload interface{}) error
}

// Engine drives follow-up listeners for a single tenant's worker
// channels, shared process-wide (it is stateless beyond its deps; all
// per-thread state lives on the session/brain it is given).
type Engine struct {
	store       rtdb.Store
	broadcaster Broadcaster
}

func New(store rtdb.Store, broadcaster Broadcaster) *Engine {
	return &Engine{store: store, broadcaster: broadcaster}
}

func threadChannel(userID, tenantID, threadKey string) string {
	return fmt.Sprintf("chat:%s:%s:%s", userID, tenantID, threadKey)
}

func workerMessagesPath(tenantID, jobID string) string {
	return fmt.Sprintf("%s/job_chats/%s/messages", tenantID, jobID)
}

// Install subscribes the follow-up listener for threadKey/jobID if one
// isn't already installed for this session (spec.md §3 "installed at
// most once per thread_key per session"), replaying existing messages
// first. Called from enter_chat when the chat mode is onboarding-like
// and a job ID is known, and from start_onboarding_chat;
// load_chat_history does not install a listener.
func (e *Engine) Install(ctx context.Context, sess *session.Session, b *brain.Brain, userID, tenantID, threadKey, jobID string) (*session.ListenerHandle, error) {
	handle, created := sess.EnsureListener(threadKey, jobID)
	if !created {
		return handle, nil
	}

	if err := e.replayExisting(ctx, handle, b, tenantID, jobID); err != nil {
		logger.WarnCF("listener", "replay existing messages failed", map[string]interface{}{
			"tenant": tenantID, "job": jobID, "error": err.Error(),
		})
	}

	path := workerMessagesPath(tenantID, jobID)
	sub, err := e.store.Listen(ctx, path, func(ev rtdb.Event) {
		msg := decodeRawMessage(lastPathSegment(ev.Path), ev.Data)
		if handle.Seen(msg.ID) {
			return
		}
		handle.MarkSeen(msg.ID)
		e.dispatch(ctx, sess, b, userID, tenantID, threadKey, msg)
	})
	if err != nil {
		return handle, fmt.Errorf("subscribe to %s: %w", path, err)
	}
	handle.Unsubscribe = sub.Close

	e.CheckIntermediationOnLoad(ctx, sess, b, userID, tenantID, threadKey, jobID, "")
	return handle, nil
}

func lastPathSegment(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func decodeRawMessage(id string, data map[string]interface{}) RawMessage {
	msg := RawMessage{ID: id}
	if mt, ok := data["message_type"].(string); ok {
		msg.MessageType = MessageType(mt)
	}
	msg.Content = data["content"]
	if sid, ok := data["sender_id"].(string); ok {
		msg.SenderID = sid
	}
	if ts, ok := data["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			msg.Timestamp = parsed
		}
	}
	return msg
}

// replayExisting implements "on subscription, initialization replays
// existing messages (sorted by timestamp), records their IDs..., and
// injects a single concatenated, timestamped log entry" (spec.md §4.3).
func (e *Engine) replayExisting(ctx context.Context, handle *session.ListenerHandle, b *brain.Brain, tenantID, jobID string) error {
	node, err := e.store.Get(ctx, workerMessagesPath(tenantID, jobID))
	if err != nil || node == nil {
		return err
	}

	messages := make([]RawMessage, 0, len(node))
	for id, raw := range node {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		messages = append(messages, decodeRawMessage(id, m))
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].Timestamp.Before(messages[j].Timestamp) })

	var lines []string
	for _, m := range messages {
		handle.MarkSeen(m.ID)
		if m.MessageType != TypeMessage {
			continue
		}
		text := extractMessageText(m.Content)
		line := fmt.Sprintf("%s | %s", m.Timestamp.UTC().Format("2006-01-02 15:04:05"), text)
		lines = append(lines, line)
	}
	if len(lines) > 0 {
		handle.LogEntries = append(handle.LogEntries, lines...)
		b.ReplaceSystemLog(jobID, handle.LogEntries)
	}
	return nil
}

// extractMessageText applies the duck-typed extraction rule: "if
// content parses as JSON and has message.argumentText, use that; else
// use raw" (spec.md §4.3).
func extractMessageText(content interface{}) string {
	s, ok := content.(string)
	if !ok {
		if b, err := json.Marshal(content); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", content)
	}
	if gjson.Valid(s) {
		if v := gjson.Get(s, "message.argumentText"); v.Exists() {
			return v.String()
		}
	}
	return s
}

// dispatch routes one incoming worker message by type (spec.md §4.3's
// per-event dispatch table).
func (e *Engine) dispatch(ctx context.Context, sess *session.Session, b *brain.Brain, userID, tenantID, threadKey string, msg RawMessage) {
	switch msg.MessageType {
	case TypeMessage:
		e.handleMessage(ctx, sess, b, userID, tenantID, threadKey, msg)
	case TypeFollowMessage:
		e.forward(ctx, userID, tenantID, threadKey, msg)
		e.StartIntermediation(ctx, sess, b, userID, tenantID, threadKey, msg)
	case TypeCard, TypeWaitingMessage:
		e.forward(ctx, userID, tenantID, threadKey, msg)
		b.SetPendingWaitingEvent(&brain.WaitingEvent{JobID: handleJobID(sess, threadKey), EventType: string(msg.MessageType), Summary: extractMessageText(msg.Content)})
		b.AppendSystemLog(handleJobID(sess, threadKey), time.Now(), fmt.Sprintf("[%s] %s", msg.MessageType, extractMessageText(msg.Content)))
		if b.Mode().CardIntermediationAllowed() {
			e.StartIntermediation(ctx, sess, b, userID, tenantID, threadKey, msg)
		}
	case TypeTool:
		e.forward(ctx, userID, tenantID, threadKey, msg)
		if b.Mode().CardIntermediationAllowed() {
			e.StartIntermediation(ctx, sess, b, userID, tenantID, threadKey, msg)
		}
	case TypeCardClicked:
		e.forward(ctx, userID, tenantID, threadKey, msg)
		if sess.Intermediating(threadKey) {
			e.StopIntermediation(ctx, sess, userID, tenantID, threadKey, "card_click")
		}
	case TypeCloseIntermed:
		e.forward(ctx, userID, tenantID, threadKey, msg)
		e.StopIntermediation(ctx, sess, userID, tenantID, threadKey, closeReasonFromPayload(msg.Content))
	default:
		e.forward(ctx, userID, tenantID, threadKey, msg)
	}
}

func handleJobID(sess *session.Session, threadKey string) string {
	if h, ok := sess.Listener(threadKey); ok {
		return h.JobID
	}
	return ""
}

func closeReasonFromPayload(content interface{}) string {
	s, ok := content.(string)
	if !ok {
		if b, err := json.Marshal(content); err == nil {
			s = string(b)
		}
	}
	if gjson.Valid(s) {
		if reason := gjson.Get(s, "reason").String(); reason != "" {
			return reason
		}
	}
	return "user_action"
}

// handleMessage is TypeMessage's own dispatch branch: direct-forward
// when intermediating, otherwise dedup+append into the bounded system
// log (spec.md §4.3).
func (e *Engine) handleMessage(ctx context.Context, sess *session.Session, b *brain.Brain, userID, tenantID, threadKey string, msg RawMessage) {
	if sess.Intermediating(threadKey) {
		e.broadcast(ctx, userID, tenantID, threadKey, "llm_message_direct", map[string]interface{}{
			"id": msg.ID, "text": extractMessageText(msg.Content),
		})
		return
	}

	handle, _ := sess.Listener(threadKey)
	jobID := ""
	if handle != nil {
		jobID = handle.JobID
	}

	text := extractMessageText(msg.Content)
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("%s | %s", ts.UTC().Format("2006-01-02 15:04:05"), text)
	if handle != nil {
		handle.LogEntries = append(handle.LogEntries, line)
	}
	b.AppendSystemLog(jobID, ts, text)
}

// forward relays a worker record to the UI verbatim, preserving its
// type and fields (spec.md §4.3's default/most dispatch branches).
func (e *Engine) forward(ctx context.Context, userID, tenantID, threadKey string, msg RawMessage) {
	e.broadcast(ctx, userID, tenantID, threadKey, string(msg.MessageType), map[string]interface{}{
		"id": msg.ID, "content": msg.Content, "sender_id": msg.SenderID,
	})
}

func (e *Engine) broadcast(ctx context.Context, userID, tenantID, threadKey, eventType string, payload interface{}) {
	if e.broadcaster == nil {
		return
	}
	if err := e.broadcaster.Broadcast(ctx, userID, threadChannel(userID, tenantID, threadKey), eventType, payload); err != nil {
		logger.WarnCF("listener", "broadcast failed", map[string]interface{}{"error": err.Error(), "event": eventType})
	}
}

// StartIntermediation is idempotent: setting the flag when already
// active is a no-op (spec.md §4.3).
func (e *Engine) StartIntermediation(ctx context.Context, sess *session.Session, b *brain.Brain, userID, tenantID, threadKey string, msg RawMessage) {
	if changed := sess.SetIntermediation(threadKey, true); !changed {
		return
	}
	e.broadcast(ctx, userID, tenantID, threadKey, "SYSTEM_MESSAGE_INTERMEDIATION", map[string]interface{}{
		"text": "Intermediation mode activated.",
	})
	e.broadcast(ctx, userID, tenantID, threadKey, "RPC_INTERMEDIATION_STATE", map[string]interface{}{
		"action": "start", "tools": extractToolNames(msg.Content),
	})
}

// StopIntermediation sets the flag false unconditionally and
// broadcasts the termination notices (spec.md §4.3).
func (e *Engine) StopIntermediation(ctx context.Context, sess *session.Session, userID, tenantID, threadKey, reason string) {
	sess.SetIntermediation(threadKey, false)
	e.broadcast(ctx, userID, tenantID, threadKey, "SYSTEM_MESSAGE_INTERMEDIATION", map[string]interface{}{
		"text": "Intermediation mode terminated.", "reason": reason,
	})
	e.broadcast(ctx, userID, tenantID, threadKey, "RPC_INTERMEDIATION_STATE", map[string]interface{}{
		"action": "stop", "reason": reason,
	})
}

// extractToolNames supports both a flat list of tool names and the
// Anthropic-style [{name, description, ...}] shape (spec.md §4.3).
func extractToolNames(content interface{}) []string {
	s, ok := content.(string)
	if !ok {
		if b, err := json.Marshal(content); err == nil {
			s = string(b)
		}
	}
	if !gjson.Valid(s) {
		return nil
	}

	tools := gjson.Get(s, "tools")
	if !tools.Exists() {
		tools = gjson.Parse(s)
	}
	if !tools.IsArray() {
		return nil
	}

	var names []string
	tools.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			names = append(names, v.String())
		} else if name := v.Get("name"); name.Exists() {
			names = append(names, name.String())
		}
		return true
	})
	return names
}

// SendIntermediationResponse is send_message's delegation target when
// intermediation_mode[thread] is true (spec.md §4.1 step 2 / §4.3
// "Intermediation response path").
func (e *Engine) SendIntermediationResponse(ctx context.Context, sess *session.Session, userID, tenantID, threadKey, jobID, text string) error {
	path := workerMessagesPath(tenantID, jobID)
	if _, err := e.store.Push(ctx, path, map[string]interface{}{
		"message_type": "MESSAGE_PINNOKIO",
		"content":      text,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"sender_id":    userID,
		"read":         false,
	}); err != nil {
		return fmt.Errorf("write MESSAGE_PINNOKIO: %w", err)
	}

	trimmed := strings.ToUpper(strings.TrimSpace(text))
	if strings.HasSuffix(trimmed, "TERMINATE") || strings.HasSuffix(trimmed, "PENDING") || strings.HasSuffix(trimmed, "NEXT") {
		if _, err := e.store.Push(ctx, path, map[string]interface{}{
			"message_type": string(TypeCloseIntermed),
			"content":      map[string]interface{}{"reason": "termination_word"},
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"sender_id":    userID,
			"read":         false,
		}); err != nil {
			logger.WarnCF("listener", "write CLOSE_INTERMEDIATION failed", map[string]interface{}{"error": err.Error()})
		}
		e.StopIntermediation(ctx, sess, userID, tenantID, threadKey, "termination_word")
	}
	return nil
}

// ReactivationResult is CheckIntermediationOnLoad's outcome.
type ReactivationResult struct {
	Reactivated     bool
	Trigger         *RawMessage
	UnackedCard     *RawMessage
}

// CheckIntermediationOnLoad implements the load-time reactivation
// algorithm (spec.md §4.3 `_check_intermediation_on_load`): fetch the
// last ~50 worker messages sorted newest-first, find the most recent
// CARD|TOOL|FOLLOW_MESSAGE trigger and the most recent
// CLOSE_INTERMEDIATION, and reactivate iff a trigger exists, no closer
// close exists, and the job status allows it.
func (e *Engine) CheckIntermediationOnLoad(ctx context.Context, sess *session.Session, b *brain.Brain, userID, tenantID, threadKey, jobID, jobStatus string) ReactivationResult {
	node, err := e.store.Get(ctx, workerMessagesPath(tenantID, jobID))
	if err != nil || node == nil {
		return ReactivationResult{}
	}

	messages := make([]RawMessage, 0, len(node))
	for id, raw := range node {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		messages = append(messages, decodeRawMessage(id, m))
	}
	// Newest-first.
	sort.Slice(messages, func(i, j int) bool { return messages[i].Timestamp.After(messages[j].Timestamp) })
	if len(messages) > 50 {
		messages = messages[:50]
	}

	triggerIdx, closeIdx, cardIdx, clickIdx := -1, -1, -1, -1
	for i, m := range messages {
		switch m.MessageType {
		case TypeCard, TypeTool, TypeFollowMessage:
			if triggerIdx == -1 {
				triggerIdx = i
			}
		case TypeCloseIntermed:
			if closeIdx == -1 {
				closeIdx = i
			}
		case TypeCardClicked:
			if clickIdx == -1 {
				clickIdx = i
			}
		}
		if m.MessageType == TypeCard && cardIdx == -1 {
			cardIdx = i
		}
	}

	if triggerIdx == -1 {
		return ReactivationResult{}
	}
	if closeIdx != -1 && closeIdx <= triggerIdx {
		return ReactivationResult{}
	}
	if !reactivateStatuses[jobStatus] {
		return ReactivationResult{}
	}

	result := ReactivationResult{Reactivated: true, Trigger: &messages[triggerIdx]}
	if cardIdx != -1 && (clickIdx == -1 || clickIdx >= cardIdx) {
		result.UnackedCard = &messages[cardIdx]
	}

	e.StartIntermediation(ctx, sess, b, userID, tenantID, threadKey, messages[triggerIdx])

	if result.UnackedCard != nil {
		// Forwarded whether or not the user is on the thread: the hub
		// delivers it to the uid's live connections, or buffers it for
		// replay when the uid has none.
		e.forward(ctx, userID, tenantID, threadKey, *result.UnackedCard)
	}
	return result
}
