package brain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/approval"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/providers"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/rtdb"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/tools"
)

// maxSystemLogEntriesPerJob bounds append_system_log's per-job_id
// buffer so a long-running worker job can't grow the system prompt
// without limit (spec.md §4.3: "a bounded per-message section").
const maxSystemLogEntriesPerJob = 50

// Broadcaster is the narrow WS surface the workflow loop needs to emit
// stream/tool-use events. pkg/ws.Hub satisfies this.
type Broadcaster interface {
	Broadcast(ctx context.Context, uid, channel, eventType string, payload interface{}) error
}

// threadChannel builds the canonical channel name for thread-scoped
// events, per spec.md §6: "chat:<user>:<tenant>:<thread>" — duplicated
// from pkg/ws.ThreadChannel's literal rather than imported, so pkg/brain
// depends only on the Broadcaster interface, not the hub package.
func threadChannel(userID, tenantID, threadKey string) string {
	return fmt.Sprintf("chat:%s:%s:%s", userID, tenantID, threadKey)
}

// Deps are the shared, cross-brain dependencies a Session wires once
// and passes to every Brain it creates (spec.md design note §9: no
// per-brain ownership of the provider/store/hub).
type Deps struct {
	Provider      providers.StreamingProvider
	Model         string
	SummaryModel  string
	TokenBudget   int // spec.md §4.2/§5: 80,000
	MaxIterations int // spec.md §4.2/§5: 20
	Broadcaster   Broadcaster
	Store         rtdb.Store
	Approval      *approval.Protocol
	Controller    *StreamingController
}

// Brain is the per-thread LLM context holder (spec.md §3). A Brain is
// created lazily by enter_chat/load_chat_history and destroyed by
// flush_chat_history; it never owns its Session — only a copy of the
// (user, tenant, thread) key tuple — so Session and Brain never form a
// reference cycle (design note §9).
type Brain struct {
	mu sync.Mutex

	userID    string
	tenantID  string
	threadKey string
	chatMode  ChatMode

	history []providers.Message

	userCtx *UserContext
	jobs    *JobsSnapshot

	systemLogEntries map[string][]string // job_id -> bounded log lines
	pendingWaiting   *WaitingEvent
	activeTask       *TaskExecutionContext
	onboardingData   string
	jobData          string
	summary          string

	systemPromptOverride string

	toolSet           *tools.ToolRegistry
	terminationSignal *tools.TerminationSignal
	lptTracker        *tools.LPTTracker
	checklist         *tools.Checklist

	deps   *Deps
	closed bool
}

// New creates a Brain for (userID, tenantID, threadKey) in the given
// chat mode. userCtx and jobs are non-owning references into the
// owning Session's data; RefreshUserContext/RefreshJobsData are called
// by the session when they change.
func New(userID, tenantID, threadKey string, mode ChatMode, userCtx *UserContext, jobs *JobsSnapshot, deps *Deps) *Brain {
	b := &Brain{
		userID:            userID,
		tenantID:          tenantID,
		threadKey:         threadKey,
		chatMode:          mode,
		userCtx:           userCtx,
		jobs:              jobs,
		systemLogEntries:  make(map[string][]string),
		terminationSignal: tools.NewTerminationSignal(),
		lptTracker:        tools.NewLPTTracker(),
		checklist:         tools.NewChecklist(),
		deps:              deps,
	}
	b.toolSet = b.buildToolSet(mode)
	return b
}

// ThreadKey, UserID, TenantID, ChatMode are read-only accessors used by
// the listener and manager to route without reaching into internals.
func (b *Brain) ThreadKey() string { return b.threadKey }
func (b *Brain) UserID() string    { return b.userID }
func (b *Brain) TenantID() string  { return b.tenantID }

func (b *Brain) Mode() ChatMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chatMode
}

// SetChatMode re-resolves the tool set and rebuilds the system prompt
// for a mode change, per initialize_session's "propagate new chat mode
// to every live brain" contract (spec.md §4.1).
func (b *Brain) SetChatMode(mode ChatMode) {
	b.mu.Lock()
	b.chatMode = mode
	b.toolSet = b.buildToolSet(mode)
	b.mu.Unlock()
}

// LoadHistory replaces the chat history wholesale, used by
// load_chat_history when reconstructing a brain from RTDB-persisted
// messages.
func (b *Brain) LoadHistory(messages []providers.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append([]providers.Message(nil), messages...)
}

// History returns a copy of the current chat history.
func (b *Brain) History() []providers.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]providers.Message, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryLen reports the number of turns currently held, used by the
// token-budget-round-trip testable property (spec.md §8).
func (b *Brain) HistoryLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}

func (b *Brain) appendHistory(msg providers.Message) {
	b.mu.Lock()
	b.history = append(b.history, msg)
	b.mu.Unlock()
}

// RefreshUserContext swaps in a new non-owning UserContext reference,
// called by the session after initialize_session reloads it.
func (b *Brain) RefreshUserContext(userCtx *UserContext) {
	b.mu.Lock()
	b.userCtx = userCtx
	b.mu.Unlock()
}

// RefreshJobsData swaps in a new non-owning JobsSnapshot reference,
// e.g. after initialize_session refreshes jobs metrics.
func (b *Brain) RefreshJobsData(jobs *JobsSnapshot) {
	b.mu.Lock()
	b.jobs = jobs
	b.mu.Unlock()
}

// SetOnboardingData / SetJobData set the per-mode side-channel records
// (spec.md §3: onboarding_data / job_data), folded into the system
// prompt verbatim — their content is a Non-goal (domain tool content).
func (b *Brain) SetOnboardingData(text string) {
	b.mu.Lock()
	b.onboardingData = text
	b.mu.Unlock()
}

func (b *Brain) SetJobData(text string) {
	b.mu.Lock()
	b.jobData = text
	b.mu.Unlock()
}

// SetActiveTaskData binds the brain to a scheduled-task execution
// record (spec.md §4.7). Passing nil clears it.
func (b *Brain) SetActiveTaskData(t *TaskExecutionContext) {
	b.mu.Lock()
	b.activeTask = t
	b.mu.Unlock()
}

func (b *Brain) ActiveTaskData() *TaskExecutionContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeTask
}

// SetPendingWaitingEvent stashes the structured waiting-context block a
// CARD/WAITING_MESSAGE listener event produces (spec.md §4.3).
func (b *Brain) SetPendingWaitingEvent(ev *WaitingEvent) {
	b.mu.Lock()
	b.pendingWaiting = ev
	b.mu.Unlock()
}

// AppendSystemLog extends the bounded per-job_id log section with a
// new timestamped entry and returns the rebuilt concatenated buffer for
// that job_id, per spec.md §4.3 ("append a single concatenated,
// timestamped log entry" / "re-inject the concatenated buffer").
func (b *Brain) AppendSystemLog(jobID string, ts time.Time, text string) string {
	line := fmt.Sprintf("%s | %s", ts.UTC().Format("2006-01-02 15:04:05"), text)

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := append(b.systemLogEntries[jobID], line)
	if len(entries) > maxSystemLogEntriesPerJob {
		entries = entries[len(entries)-maxSystemLogEntriesPerJob:]
	}
	b.systemLogEntries[jobID] = entries
	return strings.Join(entries, "\n")
}

// ReplaceSystemLog overwrites a job_id's log buffer wholesale, used by
// the listener's subscribe-time replay (spec.md §4.3 "injects a single
// concatenated... log entry" built from every existing message).
func (b *Brain) ReplaceSystemLog(jobID string, lines []string) {
	if len(lines) > maxSystemLogEntriesPerJob {
		lines = lines[len(lines)-maxSystemLogEntriesPerJob:]
	}
	b.mu.Lock()
	b.systemLogEntries[jobID] = append([]string(nil), lines...)
	b.mu.Unlock()
}

// SystemPrompt composes the full system prompt: mode base prompt, jobs
// metrics, system log sections, active task data, side-channel data,
// and summarization digest, rebuilt on every mode change and after
// summarization (spec.md §3 system_prompt invariant).
func (b *Brain) SystemPrompt() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buildSystemPromptLocked()
}

func (b *Brain) buildSystemPromptLocked() string {
	if b.systemPromptOverride != "" {
		return b.systemPromptOverride
	}

	var sb strings.Builder
	sb.WriteString(basePrompt(b.chatMode, b.userCtx))

	if b.jobs != nil {
		sb.WriteString("\n\n")
		sb.WriteString(jobsMetricsSection(b.jobs))
	}

	if b.summary != "" {
		sb.WriteString("\n\nConversation summary so far:\n")
		sb.WriteString(b.summary)
	}

	if b.onboardingData != "" {
		sb.WriteString("\n\nOnboarding context:\n")
		sb.WriteString(b.onboardingData)
	}
	if b.jobData != "" {
		sb.WriteString("\n\nJob context:\n")
		sb.WriteString(b.jobData)
	}

	if b.activeTask != nil {
		sb.WriteString("\n\n")
		sb.WriteString(taskExecutionSection(b.activeTask))
	}

	if len(b.systemLogEntries) > 0 {
		sb.WriteString("\n\nWorker activity log:\n")
		sb.WriteString(systemLogSection(b.systemLogEntries))
	}

	if b.pendingWaiting != nil {
		sb.WriteString(fmt.Sprintf("\n\nThe worker job %q is waiting on: %s\n", b.pendingWaiting.JobID, b.pendingWaiting.Summary))
	}

	return sb.String()
}

// SetSystemPromptOverride forces the system prompt to a fixed string,
// used by send_message's optional system_prompt override (spec.md §6).
// Passing "" restores normal composition.
func (b *Brain) SetSystemPromptOverride(prompt string) {
	b.mu.Lock()
	b.systemPromptOverride = prompt
	b.mu.Unlock()
}

func basePrompt(mode ChatMode, uc *UserContext) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are the assistant for chat mode %q.", mode))
	if uc == nil {
		return sb.String()
	}
	if uc.CompanyName != "" {
		sb.WriteString(fmt.Sprintf(" You are working on behalf of %s.", uc.CompanyName))
	}
	if uc.Language != "" {
		sb.WriteString(fmt.Sprintf(" Respond in %s.", uc.Language))
	}
	if uc.Timezone != "" {
		sb.WriteString(fmt.Sprintf(" The user's timezone is %s.", uc.Timezone))
	}
	if uc.DMSKind != "" {
		sb.WriteString(fmt.Sprintf(" Documents are managed in %s.", uc.DMSKind))
	}
	return sb.String()
}

func jobsMetricsSection(jobs *JobsSnapshot) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("There are %d jobs on file.", len(jobs.Jobs)))
	if len(jobs.DepartmentCounts) == 0 {
		return sb.String()
	}

	depts := make([]string, 0, len(jobs.DepartmentCounts))
	for d := range jobs.DepartmentCounts {
		depts = append(depts, d)
	}
	sort.Strings(depts)

	sb.WriteString(" By department: ")
	for i, d := range depts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%s=%d", d, jobs.DepartmentCounts[d]))
	}
	return sb.String()
}

func taskExecutionSection(t *TaskExecutionContext) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Active task execution %q: %s\n", t.TaskID, t.Mission))
	if t.ExecutionPlan != "" {
		sb.WriteString("Plan:\n" + t.ExecutionPlan + "\n")
	}
	if t.LastExecutionReport != "" {
		sb.WriteString("Last execution report:\n" + t.LastExecutionReport + "\n")
	}
	sb.WriteString("Workflow: call CREATE_CHECKLIST first, then UPDATE_STEP for each step as you complete it, then TERMINATE_TASK when done.")
	return sb.String()
}

func systemLogSection(entries map[string][]string) string {
	jobIDs := make([]string, 0, len(entries))
	for id := range entries {
		jobIDs = append(jobIDs, id)
	}
	sort.Strings(jobIDs)

	var sb strings.Builder
	for i, id := range jobIDs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("[job %s]\n", id))
		sb.WriteString(strings.Join(entries[id], "\n"))
	}
	return sb.String()
}

// buildToolSet assembles the registry a chat mode exposes to the
// model: TERMINATE_TASK always; UPDATE_CONTEXT outside task-execution
// mode when the brain has both an RTDB store and an approval protocol;
// CREATE_CHECKLIST/UPDATE_STEP in task-execution mode. Individual domain SPT/LPT tool
// content (job queries, invoice lookup, bank reconciliation, ...) is an
// explicit Non-goal (spec.md §1) — callers register those into the
// returned registry via Tools() before a workflow run if a deployment
// wires them.
func (b *Brain) buildToolSet(mode ChatMode) *tools.ToolRegistry {
	reg := tools.NewToolRegistry()
	reg.Register(tools.NewTerminateTaskTool(b.terminationSignal))

	if mode != ModeTaskExecution && b.deps != nil && b.deps.Store != nil && b.deps.Approval != nil {
		store := newRTDBContextStore(b.deps.Store)
		reg.Register(tools.NewUpdateContextTool(store, b.deps.Approval))
	}

	if mode == ModeTaskExecution {
		notifier := b.workflowNotifier()
		reg.Register(tools.NewCreateChecklistTool(b.checklist, notifier))
		reg.Register(tools.NewUpdateStepTool(b.checklist, notifier))
	}

	return reg
}

// brainWorkflowNotifier adapts a Brain's broadcaster/store to
// tools.WorkflowNotifier, so CREATE_CHECKLIST/UPDATE_STEP can emit
// WORKFLOW_CHECKLIST/WORKFLOW_STEP_UPDATE over WS and append a
// replayable CMMD record to RTDB (spec.md §4.7).
type brainWorkflowNotifier struct {
	b *Brain
}

func (b *Brain) workflowNotifier() tools.WorkflowNotifier {
	return &brainWorkflowNotifier{b: b}
}

func (n *brainWorkflowNotifier) BroadcastWorkflow(ctx context.Context, eventType string, payload interface{}) error {
	if n.b.deps == nil || n.b.deps.Broadcaster == nil {
		return nil
	}
	channel := threadChannel(n.b.userID, n.b.tenantID, n.b.threadKey)
	return n.b.deps.Broadcaster.Broadcast(ctx, n.b.userID, channel, eventType, payload)
}

func (n *brainWorkflowNotifier) AppendReplayRecord(ctx context.Context, payload map[string]interface{}) error {
	if n.b.deps == nil || n.b.deps.Store == nil {
		return nil
	}
	path := fmt.Sprintf("%s/%s/%s/messages", n.b.tenantID, assistantContainer(n.b.Mode()), n.b.threadKey)
	_, err := n.b.deps.Store.Push(ctx, path, payload)
	return err
}

// assistantContainer picks the RTDB container an assistant/CMMD message
// is written under (spec.md §6: "active_chats" for the three
// card-driven modes, "chats" otherwise).
func assistantContainer(mode ChatMode) string {
	if mode.ActiveChatsContainer() {
		return "active_chats"
	}
	return "chats"
}

// Tools exposes the registry so a deployment can register domain SPT/
// LPT tools for this brain's mode before a workflow run.
func (b *Brain) Tools() *tools.ToolRegistry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.toolSet
}

// LPTTracker exposes the brain's in-flight long-running-tool
// bookkeeping to the manager's resume-after-LPT path (spec.md §4.6).
func (b *Brain) LPTTracker() *tools.LPTTracker { return b.lptTracker }

// Checklist exposes the task-execution checklist to the manager's
// task-completion derivation (spec.md §4.7).
func (b *Brain) Checklist() *tools.Checklist { return b.checklist }

// Close marks the brain closed. flush_chat_history calls this before
// dropping the brain from the session's active_brains map; a closed
// brain's workflow must not be invoked again.
func (b *Brain) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *Brain) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// TotalContextTokens estimates the combined history + system prompt
// token count driving the budget trigger (spec.md §4.2: "compute total
// context tokens (history + system prompt)"). Uses rune count / 3 as
// the teacher's own estimator does (pkg/agent/loop.go's estimateTokens).
func (b *Brain) TotalContextTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := utf8.RuneCountInString(b.buildSystemPromptLocked()) / 3
	for _, m := range b.history {
		total += utf8.RuneCountInString(m.Text) / 3
		for _, blk := range m.Blocks {
			total += utf8.RuneCountInString(blk.Text) / 3
			total += utf8.RuneCountInString(blk.Result) / 3
		}
	}
	return total
}
