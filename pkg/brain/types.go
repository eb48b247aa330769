// Package brain implements the per-thread LLM context holder (spec.md
// §3/§4.2 component F): chat history, system prompt composition,
// chat-mode tool-set resolution, budget-triggered summarization, and
// the unified streaming workflow loop that drives model calls, tool
// invocation, and streaming delta fan-out identically for user
// messages, worker-callback resumes, and scheduled task executions.
package brain

// ChatMode selects a system-prompt builder and a tool set (spec.md
// GLOSSARY, §4.2).
type ChatMode string

const (
	ModeGeneral       ChatMode = "general_chat"
	ModeOnboarding    ChatMode = "onboarding_chat"
	ModeAPBookkeeper  ChatMode = "apbookeeper_chat"
	ModeRouter        ChatMode = "router_chat"
	ModeBanker        ChatMode = "banker_chat"
	ModeTaskExecution ChatMode = "task_execution_chat"
)

// OnboardingLike reports whether this mode installs the RTDB follow-up
// listener on enter_chat (when a job ID is supplied); start_onboarding_chat
// installs it for the onboarding mode. load_chat_history installs no
// listener.
func (m ChatMode) OnboardingLike() bool {
	switch m {
	case ModeOnboarding, ModeAPBookkeeper, ModeRouter, ModeBanker:
		return true
	}
	return false
}

// CardIntermediationAllowed reports whether CARD/TOOL worker events may
// start intermediation for this mode. spec.md §4.3 restricts this to
// three modes (resolved Open Question (a), SPEC_FULL.md §D).
func (m ChatMode) CardIntermediationAllowed() bool {
	switch m {
	case ModeAPBookkeeper, ModeRouter, ModeBanker:
		return true
	}
	return false
}

// ActiveChatsContainer reports whether assistant messages for this mode
// are written under "active_chats" rather than "chats" (spec.md §4.1
// step 3 / §6). The container set coincides with CardIntermediationAllowed.
func (m ChatMode) ActiveChatsContainer() bool {
	return m.CardIntermediationAllowed()
}

// UserContext is the tenant metadata loaded once per Session and held
// non-owning by every Brain in that session (spec.md §3). Session owns
// the value; Brain only ever reads through a pointer swapped in by
// RefreshUserContext.
type UserContext struct {
	MandatePath   string
	CompanyName   string
	Language      string
	Timezone      string
	DMSKind       string
	ERPConfigs    map[string]interface{}
	ApprovalRules map[string]bool // department -> requires four-eyes approval
}

// JobRecord is one domain job in a tenant's job list snapshot.
type JobRecord struct {
	ID         string
	Department string
	Status     string
}

// JobsSnapshot is the per-tenant job list plus department counters
// composed into the system prompt (spec.md §3 jobs_data/jobs_metrics).
type JobsSnapshot struct {
	Jobs             []JobRecord
	DepartmentCounts map[string]int
}

// TaskExecutionContext binds a Brain to an active scheduled-task
// execution (spec.md §4.7).
type TaskExecutionContext struct {
	TaskID            string
	ExecutionID       string
	Mission           string
	MandatePath       string
	ExecutionPlan     string
	LastExecutionReport string
	PersistOnComplete bool // false for "NOW" (ad-hoc, not persisted) executions
}

// WaitingEvent is the structured "waiting context" block stashed by the
// listener when a CARD/WAITING_MESSAGE arrives, per spec.md §4.3.
type WaitingEvent struct {
	JobID     string
	EventType string
	Summary   string
}
