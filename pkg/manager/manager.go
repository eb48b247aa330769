// Package manager implements the RPC facade (spec.md §4.1/§6): a set
// of idempotent, independently safe operations over the session/brain/
// listener/approval/WS subsystems, plus the resume-after-LPT path
// (§4.6) and scheduled task execution (§4.7).
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/approval"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/cache"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/listener"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/providers"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/rtdb"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/session"
)

// Broadcaster is the narrow WS surface the manager, brain, and
// listener all share; pkg/ws.Hub satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, uid, channel, eventType string, payload interface{}) error
}

// ProfileLoader reconstructs a tenant's user_context from whatever
// external store backs it (spec.md §4.4 "reconstructs the tenant
// profile... loads the function table... loads job lists and
// metrics"). Concrete tenant/company profile storage is a Non-goal;
// the manager depends only on this seam so a deployment can plug its
// own Firestore/RPC-backed implementation in.
type ProfileLoader interface {
	LoadUserContext(ctx context.Context, tenantID, clientUUID string) (*brain.UserContext, error)
	LoadJobsData(ctx context.Context, tenantID string) (*brain.JobsSnapshot, error)
}

// WorkerLauncher starts/stops backend worker jobs (spec.md §4.1
// start_onboarding_chat/stop_onboarding_chat). The worker application
// itself is an external collaborator; this seam is what the manager
// depends on to reach it.
type WorkerLauncher interface {
	LaunchOnboardingJob(ctx context.Context, userID, tenantID, threadKey string) (jobID string, err error)
}

// Deps are every external collaborator the manager is built from.
type Deps struct {
	Provider      providers.StreamingProvider
	Model         string
	SummaryModel  string
	TokenBudget   int
	MaxIterations int

	Store       rtdb.Store
	Cache       cache.Store
	Broadcaster Broadcaster
	Approval    *approval.Protocol

	Profiles ProfileLoader
	Worker   WorkerLauncher

	WorkerBaseURL     string
	WorkerHTTPTimeout time.Duration
}

// Manager owns the session registry exclusively (spec.md §3) and
// glues every subsystem an RPC needs.
type Manager struct {
	deps       *Deps
	registry   *session.Registry
	listener   *listener.Engine
	controller *brain.StreamingController
	http       *resty.Client
}

// New wires a Manager from its dependencies.
func New(deps *Deps) *Manager {
	httpClient := resty.New()
	if deps.WorkerHTTPTimeout > 0 {
		httpClient.SetTimeout(deps.WorkerHTTPTimeout)
	}
	if deps.WorkerBaseURL != "" {
		httpClient.SetBaseURL(deps.WorkerBaseURL)
	}

	return &Manager{
		deps:       deps,
		registry:   session.NewRegistry(),
		listener:   listener.New(deps.Store, deps.Broadcaster),
		controller: brain.NewStreamingController(),
		http:       httpClient,
	}
}

func (m *Manager) brainDeps() *brain.Deps {
	return &brain.Deps{
		Provider:      m.deps.Provider,
		Model:         m.deps.Model,
		SummaryModel:  m.deps.SummaryModel,
		TokenBudget:   m.deps.TokenBudget,
		MaxIterations: m.deps.MaxIterations,
		Broadcaster:   m.deps.Broadcaster,
		Store:         m.deps.Store,
		Approval:      m.deps.Approval,
		Controller:    m.controller,
	}
}

// loadProfile fetches user_context and jobs_data concurrently via
// errgroup — the two loads are independent, so initialize_session's
// latency is bounded by the slower of the two rather than their sum.
func (m *Manager) loadProfile(ctx context.Context, tenantID, clientUUID string) (*brain.UserContext, *brain.JobsSnapshot, error) {
	var uc *brain.UserContext
	var jobs *brain.JobsSnapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		uc, err = m.deps.Profiles.LoadUserContext(gctx, tenantID, clientUUID)
		return err
	})
	g.Go(func() error {
		var err error
		jobs, err = m.deps.Profiles.LoadJobsData(gctx, tenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return uc, jobs, nil
}

func threadChannel(userID, tenantID, threadKey string) string {
	return fmt.Sprintf("chat:%s:%s:%s", userID, tenantID, threadKey)
}

func assistantMessagesPath(tenantID string, mode brain.ChatMode, threadKey string) string {
	container := "chats"
	if mode.ActiveChatsContainer() {
		container = "active_chats"
	}
	return fmt.Sprintf("%s/%s/%s/messages", tenantID, container, threadKey)
}

// --- initialize_session ------------------------------------------------

// InitializeSessionResult is initialize_session's response shape
// (spec.md §6).
type InitializeSessionResult struct {
	Success   bool
	SessionID string
	Status    string // "created" | "refreshed"
}

// InitializeSession ensures a Session exists with user_context loaded,
// reloading/refreshing and propagating chat mode on divergence (spec.md
// §4.1/§4.4).
func (m *Manager) InitializeSession(ctx context.Context, userID, tenantID, clientUUID string, mode brain.ChatMode) (InitializeSessionResult, error) {
	if clientUUID == "" {
		if existing, ok := m.registry.Get(userID, tenantID); !ok || existing.ClientUUID() == "" {
			return InitializeSessionResult{}, fmt.Errorf("initialize_session: client_uuid is empty and no prior value exists")
		}
	}

	sessionID := fmt.Sprintf("%s:%s", userID, tenantID)

	sess, justInitialized, err := m.registry.EnsureSessionInitialized(userID, tenantID, func(s *session.Session) error {
		uc, jobs, err := m.loadProfile(ctx, tenantID, clientUUID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		s.SetInitialized(clientUUID, uc, jobs)
		return nil
	})
	if err != nil {
		return InitializeSessionResult{}, err
	}

	if justInitialized {
		return InitializeSessionResult{Success: true, SessionID: sessionID, Status: "created"}, nil
	}

	// Existing, already-initialized session: refresh on divergence.
	if sess.ClientUUID() != clientUUID && clientUUID != "" {
		uc, jobs, err := m.loadProfile(ctx, tenantID, clientUUID)
		if err != nil {
			return InitializeSessionResult{}, fmt.Errorf("refresh profile: %w", err)
		}
		sess.SetInitialized(clientUUID, uc, jobs)
		sess.RefreshUserContext(uc)
		sess.RefreshJobsData(jobs)
	}
	if mode != "" {
		sess.PropagateChatMode(mode)
	}

	return InitializeSessionResult{Success: true, SessionID: sessionID, Status: "refreshed"}, nil
}

// --- enter_chat ----------------------------------------------------------

type EnterChatResult struct {
	Success    bool
	BrainReady bool
}

// EnterChat sets presence, lazily creates a brain for threadKey by
// loading its history from RTDB, and, when the caller knows the
// thread's backing worker job, installs the follow-up listener and
// runs the load-time reactivation check (spec.md §4.1/§4.3). jobID is
// empty for threads with no associated worker job.
func (m *Manager) EnterChat(ctx context.Context, userID, tenantID, threadKey string, mode brain.ChatMode, jobID, jobStatus string) (EnterChatResult, error) {
	sess, ok := m.registry.Get(userID, tenantID)
	if !ok {
		return EnterChatResult{}, fmt.Errorf("enter_chat: session not initialized for %s/%s", userID, tenantID)
	}

	sess.EnterChat(threadKey)

	b, _, err := sess.EnsureBrain(threadKey, func() (*brain.Brain, error) {
		return m.newBrainFromHistory(ctx, sess, userID, tenantID, threadKey, mode)
	})
	if err != nil {
		return EnterChatResult{}, err
	}

	if mode.OnboardingLike() && jobID != "" {
		if _, alreadyInstalled := sess.Listener(threadKey); !alreadyInstalled {
			m.listener.CheckIntermediationOnLoad(ctx, sess, b, userID, tenantID, threadKey, jobID, jobStatus)
		}
		if _, err := m.listener.Install(ctx, sess, b, userID, tenantID, threadKey, jobID); err != nil {
			logger.WarnCF("manager", "failed to install follow-up listener on enter_chat", map[string]interface{}{"error": err.Error()})
		}
	}

	return EnterChatResult{Success: true, BrainReady: b != nil}, nil
}

func (m *Manager) newBrainFromHistory(ctx context.Context, sess *session.Session, userID, tenantID, threadKey string, mode brain.ChatMode) (*brain.Brain, error) {
	b := brain.New(userID, tenantID, threadKey, mode, sess.UserContext(), sess.JobsData(), m.brainDeps())

	node, err := m.deps.Store.Get(ctx, assistantMessagesPath(tenantID, mode, threadKey))
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	if len(node) > 0 {
		b.LoadHistory(decodeHistory(node))
	}
	return b, nil
}

// decodeHistory reconstructs chat turns from the raw RTDB message
// nodes at a thread's messages path, in arrival order. Only the plain
// user/assistant text shorthand is reconstructed here — typed
// tool_use/tool_result blocks from a prior process's in-flight turn
// are not durable across a process restart, matching spec.md §3's
// silence on replaying mid-turn tool state.
func decodeHistory(node map[string]interface{}) []providers.Message {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	timestamp := func(k string) string {
		rec, _ := node[k].(map[string]interface{})
		ts, _ := rec["timestamp"].(string)
		return ts
	}
	sort.Slice(keys, func(i, j int) bool {
		if ti, tj := timestamp(keys[i]), timestamp(keys[j]); ti != tj {
			return ti < tj
		}
		return keys[i] < keys[j]
	})

	var out []providers.Message
	for _, k := range keys {
		rec, ok := node[k].(map[string]interface{})
		if !ok {
			continue
		}
		sender, _ := rec["sender_id"].(string)
		role := "user"
		if sender == "assistant" {
			role = "assistant"
		}
		text := extractArgumentText(rec["content"])
		if text == "" {
			continue
		}
		out = append(out, providers.Message{Role: role, Text: text})
	}
	return out
}

func extractArgumentText(content interface{}) string {
	s, ok := content.(string)
	if !ok {
		return ""
	}
	// content is the JSON-stringified {"message":{"argumentText":...}}
	// shape spec.md §6 specifies for stored assistant messages.
	var decoded struct {
		Message struct {
			ArgumentText string `json:"argumentText"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(s), &decoded); err == nil && decoded.Message.ArgumentText != "" {
		return decoded.Message.ArgumentText
	}
	return s
}

// --- leave_chat ----------------------------------------------------------

type LeaveChatResult struct {
	Success      bool
	WasOnChatPage bool
	WasOnThread   string
}

// LeaveChat clears presence but keeps brains intact (spec.md §4.1).
func (m *Manager) LeaveChat(userID, tenantID string) LeaveChatResult {
	sess, ok := m.registry.Get(userID, tenantID)
	if !ok {
		return LeaveChatResult{Success: true}
	}
	prev := sess.LeaveChat()
	return LeaveChatResult{Success: true, WasOnChatPage: prev.OnChatPage, WasOnThread: prev.CurrentActiveThread}
}

// --- send_message --------------------------------------------------------

type SendMessageResult struct {
	Success            bool
	AssistantMessageID string
	WSChannel          string
	Error              string
}

// SendMessage writes a streaming placeholder, registers with the
// streaming controller, and invokes the unified workflow asynchronously
// (spec.md §4.1). If intermediation is active for the thread, it
// delegates to the intermediation response path instead and returns
// without starting a workflow.
func (m *Manager) SendMessage(ctx context.Context, userID, tenantID, threadKey, message string, mode brain.ChatMode, systemPromptOverride string) (SendMessageResult, error) {
	sess, ok := m.registry.Get(userID, tenantID)
	if !ok {
		return SendMessageResult{}, fmt.Errorf("send_message: session not initialized")
	}
	b, ok := sess.Brain(threadKey)
	if !ok {
		return SendMessageResult{Success: false, Error: "Brain not initialized"}, nil
	}

	if sess.Intermediating(threadKey) {
		handle, _ := sess.Listener(threadKey)
		jobID := ""
		if handle != nil {
			jobID = handle.JobID
		}
		if err := m.listener.SendIntermediationResponse(ctx, sess, userID, tenantID, threadKey, jobID, message); err != nil {
			return SendMessageResult{}, err
		}
		return SendMessageResult{Success: true, WSChannel: threadChannel(userID, tenantID, threadKey)}, nil
	}

	assistantMessageID := brain.NewAssistantMessageID()
	path := assistantMessagesPath(tenantID, mode, threadKey) + "/" + assistantMessageID
	if err := m.deps.Store.Set(ctx, path, map[string]interface{}{
		"id": assistantMessageID, "status": "streaming", "sender_id": "assistant",
		"message_type": "MESSAGE", "timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return SendMessageResult{}, fmt.Errorf("send_message: write placeholder: %w", err)
	}

	runCtx, done := m.controller.Register(context.Background(), userID, tenantID, threadKey)
	go func() {
		defer done()
		b.RunWorkflow(runCtx, brain.Request{
			InitialContent:       message,
			AssistantMessageID:   assistantMessageID,
			EnableStreaming:      true,
			SystemPromptOverride: systemPromptOverride,
		})
	}()

	return SendMessageResult{Success: true, AssistantMessageID: assistantMessageID, WSChannel: threadChannel(userID, tenantID, threadKey)}, nil
}

// --- load_chat_history ----------------------------------------------------

type LoadChatHistoryResult struct {
	Success           bool
	Status            string // "created" | "updated"
	LoadedMessages    int
	ActiveBrainsCount int
}

// LoadChatHistory reconstructs or refreshes a brain from a
// caller-supplied history list (spec.md §4.1/§6).
func (m *Manager) LoadChatHistory(userID, tenantID, threadKey string, mode brain.ChatMode, history []providers.Message) (LoadChatHistoryResult, error) {
	sess, ok := m.registry.Get(userID, tenantID)
	if !ok {
		return LoadChatHistoryResult{}, fmt.Errorf("load_chat_history: session not initialized")
	}

	status := "updated"
	b, created, err := sess.EnsureBrain(threadKey, func() (*brain.Brain, error) {
		status = "created"
		return brain.New(userID, tenantID, threadKey, mode, sess.UserContext(), sess.JobsData(), m.brainDeps()), nil
	})
	if err != nil {
		return LoadChatHistoryResult{}, err
	}
	_ = created

	b.LoadHistory(history)

	return LoadChatHistoryResult{
		Success: true, Status: status, LoadedMessages: len(history), ActiveBrainsCount: sess.ActiveBrainsCount(),
	}, nil
}

// --- flush_chat_history ----------------------------------------------------

type FlushChatHistoryResult struct {
	Success        bool
	ThreadsCleared []string
}

// FlushChatHistory closes brain(s), removes listeners, clears
// intermediation; non-blocking with respect to worker tasks (spec.md
// §4.1/§5). threadKey == "" flushes the whole session.
func (m *Manager) FlushChatHistory(userID, tenantID, threadKey string) FlushChatHistoryResult {
	sess, ok := m.registry.Get(userID, tenantID)
	if !ok {
		return FlushChatHistoryResult{Success: true}
	}

	if threadKey == "" {
		m.controller.StopAllForUserTenant(userID, tenantID)
		return FlushChatHistoryResult{Success: true, ThreadsCleared: sess.CloseAllBrains()}
	}
	m.controller.Stop(userID, tenantID, threadKey)
	if sess.CloseBrain(threadKey) {
		return FlushChatHistoryResult{Success: true, ThreadsCleared: []string{threadKey}}
	}
	return FlushChatHistoryResult{Success: true}
}

// --- stop_streaming ----------------------------------------------------------

type StopStreamingResult struct {
	Success      bool
	StoppedCount int
}

// StopStreaming cancels the registered streaming task(s) for the
// session/thread (spec.md §4.1/§5). threadKey == "" stops every thread
// in the session.
func (m *Manager) StopStreaming(userID, tenantID, threadKey string) StopStreamingResult {
	if threadKey == "" {
		return StopStreamingResult{Success: true, StoppedCount: m.controller.StopAllForUserTenant(userID, tenantID)}
	}
	stopped := m.controller.Stop(userID, tenantID, threadKey)
	count := 0
	if stopped {
		count = 1
	}
	return StopStreamingResult{Success: true, StoppedCount: count}
}

// --- start_onboarding_chat / stop_onboarding_chat --------------------------

type StartOnboardingResult struct {
	Success           bool
	JobID             string
	LPTStatus         string
	JobAlreadyLaunched bool
}

// StartOnboardingChat enters the thread, launches the worker job via
// the external RPC if no history exists yet, writes an informational
// assistant message, and installs the follow-up listener (spec.md §4.1).
func (m *Manager) StartOnboardingChat(ctx context.Context, userID, tenantID, threadKey string) (StartOnboardingResult, error) {
	sess, ok := m.registry.Get(userID, tenantID)
	if !ok {
		return StartOnboardingResult{}, fmt.Errorf("start_onboarding_chat: session not initialized")
	}

	sess.EnterChat(threadKey)

	existingHistoryLen := 0
	b, created, err := sess.EnsureBrain(threadKey, func() (*brain.Brain, error) {
		return m.newBrainFromHistory(ctx, sess, userID, tenantID, threadKey, brain.ModeOnboarding)
	})
	if err != nil {
		return StartOnboardingResult{}, err
	}
	if !created {
		existingHistoryLen = b.HistoryLen()
	}

	jobAlreadyLaunched := existingHistoryLen > 0
	jobID := ""
	if !jobAlreadyLaunched {
		jobID, err = m.deps.Worker.LaunchOnboardingJob(ctx, userID, tenantID, threadKey)
		if err != nil {
			return StartOnboardingResult{}, fmt.Errorf("start_onboarding_chat: launch worker job: %w", err)
		}

		informational := "Onboarding started. I'll keep you posted as the process runs."
		if sess.IsUserOnSpecificThread(threadKey) {
			assistantMessageID := brain.NewAssistantMessageID()
			go func() {
				runCtx, done := m.controller.Register(context.Background(), userID, tenantID, threadKey)
				defer done()
				b.RunWorkflow(runCtx, brain.Request{InitialContent: "", AssistantMessageID: assistantMessageID, EnableStreaming: true, SystemPromptOverride: informational})
			}()
		} else if _, err := m.deps.Store.Push(ctx, assistantMessagesPath(tenantID, brain.ModeOnboarding, threadKey), map[string]interface{}{
			"content": informational, "sender_id": "assistant", "message_type": "MESSAGE",
			"timestamp": time.Now().UTC().Format(time.RFC3339), "read": false,
		}); err != nil {
			logger.WarnCF("manager", "failed to write onboarding start message", map[string]interface{}{"error": err.Error()})
		}
	}

	if _, err := m.listener.Install(ctx, sess, b, userID, tenantID, threadKey, jobID); err != nil {
		logger.WarnCF("manager", "failed to install follow-up listener", map[string]interface{}{"error": err.Error()})
	}

	return StartOnboardingResult{Success: true, JobID: jobID, LPTStatus: "queued", JobAlreadyLaunched: jobAlreadyLaunched}, nil
}

type StopOnboardingResult struct {
	Success            bool
	HTTPStatus         int
	AssistantMessageID string
}

// StopOnboardingChat sends an HTTP stop request to the worker and
// writes a final assistant message regardless of the HTTP outcome
// (spec.md §4.1/§6).
func (m *Manager) StopOnboardingChat(ctx context.Context, userID, tenantID, threadKey string, jobIDs []string, mandatePath string) (StopOnboardingResult, error) {
	httpStatus := 0
	if len(jobIDs) > 0 {
		resp, err := m.http.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{"job_ids": jobIDs, "mandates_path": mandatePath}).
			Post(fmt.Sprintf("/stop-onboarding/%s", jobIDs[0]))
		if err != nil {
			logger.WarnCF("manager", "worker stop HTTP call failed", map[string]interface{}{"error": err.Error()})
		} else {
			httpStatus = resp.StatusCode()
		}
	}

	outcome := "stopped"
	if httpStatus != 0 && httpStatus != 200 && httpStatus != 202 {
		outcome = fmt.Sprintf("stop request returned unexpected status %d", httpStatus)
	}

	assistantMessageID := brain.NewAssistantMessageID()
	path := assistantMessagesPath(tenantID, brain.ModeOnboarding, threadKey) + "/" + assistantMessageID
	if err := m.deps.Store.Set(ctx, path, map[string]interface{}{
		"id": assistantMessageID, "content": fmt.Sprintf("Onboarding %s.", outcome),
		"sender_id": "assistant", "message_type": "MESSAGE", "status": "complete",
		"timestamp": time.Now().UTC().Format(time.RFC3339), "read": false,
	}); err != nil {
		logger.WarnCF("manager", "failed to persist onboarding stop message", map[string]interface{}{"error": err.Error()})
	}

	return StopOnboardingResult{Success: true, HTTPStatus: httpStatus, AssistantMessageID: assistantMessageID}, nil
}

// --- send_card_response / handle_approval_response -------------------------

type SendCardResponseResult struct {
	Success bool
	Mode    string
}

// SendCardResponse forwards a CARD_CLICKED_PINNOKIO record to the
// worker when the thread is in onboarding-like listener mode,
// otherwise resolves the pending approval future (spec.md §4.1).
func (m *Manager) SendCardResponse(ctx context.Context, userID, tenantID, threadKey, cardMessageID, action, userMessage string) (SendCardResponseResult, error) {
	sess, ok := m.registry.Get(userID, tenantID)
	if !ok {
		return SendCardResponseResult{}, fmt.Errorf("send_card_response: session not initialized")
	}

	if handle, ok := sess.Listener(threadKey); ok {
		path := fmt.Sprintf("%s/job_chats/%s/messages", tenantID, handle.JobID)
		if _, err := m.deps.Store.Push(ctx, path, map[string]interface{}{
			"message_type": "CARD_CLICKED_PINNOKIO",
			"content":      map[string]interface{}{"card_message_id": cardMessageID, "action": action, "user_message": userMessage},
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"sender_id":    userID,
			"read":         false,
		}); err != nil {
			return SendCardResponseResult{}, fmt.Errorf("send_card_response: forward to worker: %w", err)
		}
		return SendCardResponseResult{Success: true, Mode: "onboarding"}, nil
	}

	resolved := m.deps.Approval.SendCardResponse(userID, threadKey, cardMessageID, action, userMessage)
	return SendCardResponseResult{Success: resolved, Mode: "approval"}, nil
}

// HandleApprovalResponse resolves a plan-level pending approval
// future, keyed the same way a card response is (spec.md §4.1).
func (m *Manager) HandleApprovalResponse(userID, threadKey, planID string, approved bool, userComment string) error {
	action := "reject"
	if approved {
		action = "approve"
	}
	m.deps.Approval.SendCardResponse(userID, threadKey, planID, action, userComment)
	return nil
}

// --- invalidate_user_context -------------------------------------------------

type InvalidateUserContextResult struct {
	Success          bool
	Status           string
	BrainsInvalidated int
	RedisDeleted     bool
}

// InvalidateUserContext drops the in-memory context and cache entry,
// and clears the user context held by every live brain (spec.md §4.1).
// Nothing here or in the brains reloads the context afterwards; it
// stays empty until the session's context is set again.
func (m *Manager) InvalidateUserContext(ctx context.Context, userID, tenantID string) (InvalidateUserContextResult, error) {
	sess, ok := m.registry.Get(userID, tenantID)
	if !ok {
		return InvalidateUserContextResult{Success: true, Status: "no_session"}, nil
	}

	sess.RefreshUserContext(nil)
	invalidated := sess.ActiveBrainsCount()

	redisDeleted := false
	if m.deps.Cache != nil {
		key := fmt.Sprintf("userctx:%s:%s", tenantID, sess.ClientUUID())
		if err := m.deps.Cache.Delete(ctx, key); err == nil {
			redisDeleted = true
		}
	}

	return InvalidateUserContextResult{Success: true, Status: "invalidated", BrainsInvalidated: invalidated, RedisDeleted: redisDeleted}, nil
}
