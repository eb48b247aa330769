// Package session implements the per-(user, tenant) Session aggregate:
// user context, jobs metrics, the active_brains map, presence, the
// intermediation flag map, onboarding listener handles, and a
// dedicated callback loop for RTDB-driven work (spec.md §3/§4.4).
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
)

// Presence mirrors spec.md §3: {on_chat_page, current_active_thread}.
type Presence struct {
	OnChatPage         bool
	CurrentActiveThread string
}

// ListenerHandle is the bookkeeping a session keeps per onboarding-like
// thread's follow-up listener: the worker job it is subscribed to, the
// accumulated system-log entries replayed into the brain, and the set
// of already-processed worker message IDs (spec.md §3).
type ListenerHandle struct {
	JobID               string
	LogEntries          []string
	ProcessedMessageIDs map[string]struct{}

	// Unsubscribe stops the underlying rtdb.Subscription; installed by
	// pkg/listener when it subscribes, nil before that.
	Unsubscribe func() error
}

func newListenerHandle(jobID string) *ListenerHandle {
	return &ListenerHandle{JobID: jobID, ProcessedMessageIDs: make(map[string]struct{})}
}

// Seen reports whether messageID has already been processed for this
// listener, per spec.md's "processed-ID sets prevent the same worker
// message from being re-injected... across reconnects/reloads".
func (h *ListenerHandle) Seen(messageID string) bool {
	_, ok := h.ProcessedMessageIDs[messageID]
	return ok
}

func (h *ListenerHandle) MarkSeen(messageID string) {
	h.ProcessedMessageIDs[messageID] = struct{}{}
}

// Session is the per-(user_id, tenant_id) aggregate. Manager owns
// Sessions exclusively; a Session owns its Brains, callback loop, and
// listener handles exclusively (spec.md §3 "Ownership and lifecycle").
type Session struct {
	mu sync.Mutex

	userID   string
	tenantID string

	clientUUID string
	initialized bool

	userCtx *brain.UserContext
	jobs    *brain.JobsSnapshot

	brains map[string]*brain.Brain // thread_key -> Brain

	presence Presence

	intermediation map[string]bool // thread_key -> active

	listeners map[string]*ListenerHandle // thread_key -> handle

	threadLocks map[string]*sync.Mutex // per-thread creation locks

	loop *callbackLoop
}

// New creates an empty, uninitialized Session for (userID, tenantID).
// initialize_session (pkg/manager) completes initialization by calling
// SetInitialized once user_context/jobs_data are loaded.
func New(userID, tenantID string) *Session {
	return &Session{
		userID:         userID,
		tenantID:       tenantID,
		brains:         make(map[string]*brain.Brain),
		intermediation: make(map[string]bool),
		listeners:      make(map[string]*ListenerHandle),
		threadLocks:    make(map[string]*sync.Mutex),
	}
}

func (s *Session) UserID() string   { return s.userID }
func (s *Session) TenantID() string { return s.tenantID }

// Initialized reports whether user_context has been loaded, per
// spec.md §3's invariant "user_context != nil iff session is fully
// initialized".
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Session) ClientUUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientUUID
}

// SetInitialized records the loaded user context/jobs snapshot and the
// client_uuid that produced them, completing initialize_session_data.
func (s *Session) SetInitialized(clientUUID string, userCtx *brain.UserContext, jobs *brain.JobsSnapshot) {
	s.mu.Lock()
	s.clientUUID = clientUUID
	s.userCtx = userCtx
	s.jobs = jobs
	s.initialized = true
	s.mu.Unlock()
}

// RefreshUserContext swaps the session's user context and propagates
// the new reference into every live brain, per initialize_session's
// "reload user_context... propagate... to every live brain".
func (s *Session) RefreshUserContext(userCtx *brain.UserContext) {
	s.mu.Lock()
	s.userCtx = userCtx
	brains := s.brainsLocked()
	s.mu.Unlock()

	for _, b := range brains {
		b.RefreshUserContext(userCtx)
	}
}

// RefreshJobsData swaps the session's jobs snapshot and propagates it
// into every live brain's system prompt.
func (s *Session) RefreshJobsData(jobs *brain.JobsSnapshot) {
	s.mu.Lock()
	s.jobs = jobs
	brains := s.brainsLocked()
	s.mu.Unlock()

	for _, b := range brains {
		b.RefreshJobsData(jobs)
	}
}

func (s *Session) UserContext() *brain.UserContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userCtx
}

func (s *Session) JobsData() *brain.JobsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs
}

func (s *Session) brainsLocked() []*brain.Brain {
	out := make([]*brain.Brain, 0, len(s.brains))
	for _, b := range s.brains {
		out = append(out, b)
	}
	return out
}

// PropagateChatMode sets mode on every currently live brain, used by
// initialize_session's "propagate the new chat mode to every live
// brain's system prompt".
func (s *Session) PropagateChatMode(mode brain.ChatMode) {
	s.mu.Lock()
	brains := s.brainsLocked()
	s.mu.Unlock()

	for _, b := range brains {
		b.SetChatMode(mode)
	}
}

// threadLock returns (creating if absent) the per-thread mutex that
// makes enter_chat idempotent under concurrent callers (spec.md §4.4).
func (s *Session) threadLock(threadKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.threadLocks[threadKey]
	if !ok {
		lock = &sync.Mutex{}
		s.threadLocks[threadKey] = lock
	}
	return lock
}

// Brain returns the brain for threadKey, if one exists.
func (s *Session) Brain(threadKey string) (*brain.Brain, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brains[threadKey]
	return b, ok
}

// EnsureBrain returns the existing brain for threadKey, or creates one
// via factory under the thread's creation lock — the idempotent
// enter_chat/load_chat_history path (spec.md §4.4). factory is called
// at most once per thread even under concurrent callers; created
// reports whether factory ran.
func (s *Session) EnsureBrain(threadKey string, factory func() (*brain.Brain, error)) (b *brain.Brain, created bool, err error) {
	lock := s.threadLock(threadKey)
	lock.Lock()
	defer lock.Unlock()

	if existing, ok := s.Brain(threadKey); ok {
		return existing, false, nil
	}

	b, err = factory()
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.brains[threadKey] = b
	s.mu.Unlock()
	return b, true, nil
}

// ActiveBrainsCount reports how many brains are currently live, used by
// load_chat_history's response payload (spec.md §6).
func (s *Session) ActiveBrainsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.brains)
}

// CloseBrain closes and removes the brain for threadKey, if any, and
// clears its intermediation flag and listener handle — the per-thread
// half of flush_chat_history (spec.md §4.1/§3 destruction rules).
func (s *Session) CloseBrain(threadKey string) (hadBrain bool) {
	s.mu.Lock()
	b, ok := s.brains[threadKey]
	if ok {
		delete(s.brains, threadKey)
	}
	delete(s.intermediation, threadKey)
	handle := s.listeners[threadKey]
	delete(s.listeners, threadKey)
	delete(s.threadLocks, threadKey)
	s.mu.Unlock()

	if ok {
		b.Close()
	}
	if handle != nil && handle.Unsubscribe != nil {
		if err := handle.Unsubscribe(); err != nil {
			logger.WarnCF("session", "listener unsubscribe failed", map[string]interface{}{
				"user": s.userID, "tenant": s.tenantID, "thread": threadKey, "error": err.Error(),
			})
		}
	}
	return ok
}

// CloseAllBrains tears down every brain/listener in the session, the
// whole-session form of flush_chat_history. Returns the thread keys
// that were cleared.
func (s *Session) CloseAllBrains() []string {
	s.mu.Lock()
	threads := make([]string, 0, len(s.brains))
	for t := range s.brains {
		threads = append(threads, t)
	}
	s.mu.Unlock()

	for _, t := range threads {
		s.CloseBrain(t)
	}
	return threads
}

// EnterChat sets on_chat_page=true and current_active_thread=threadKey
// (spec.md §4.4).
func (s *Session) EnterChat(threadKey string) {
	s.mu.Lock()
	s.presence = Presence{OnChatPage: true, CurrentActiveThread: threadKey}
	s.mu.Unlock()
}

// SwitchThread updates current_active_thread only, leaving on_chat_page
// untouched (spec.md §4.4).
func (s *Session) SwitchThread(threadKey string) {
	s.mu.Lock()
	s.presence.CurrentActiveThread = threadKey
	s.mu.Unlock()
}

// LeaveChat sets on_chat_page=false but preserves current_active_thread
// for diagnostics (spec.md §4.4).
func (s *Session) LeaveChat() Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.presence
	s.presence.OnChatPage = false
	return prev
}

func (s *Session) PresenceSnapshot() Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence
}

// IsUserOnSpecificThread is the single authority the resume-after-LPT
// path (§4.6) uses to decide UI vs BACKEND mode: on_chat_page AND
// current_active_thread == thread.
func (s *Session) IsUserOnSpecificThread(threadKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.OnChatPage && s.presence.CurrentActiveThread == threadKey
}

// Intermediating reports whether thread_key is currently in
// intermediation mode.
func (s *Session) Intermediating(threadKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intermediation[threadKey]
}

// SetIntermediation sets the intermediation flag for threadKey,
// returning whether this call changed it (used for idempotent
// start/already-active reporting in pkg/listener).
func (s *Session) SetIntermediation(threadKey string, active bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intermediation[threadKey] == active {
		return false
	}
	s.intermediation[threadKey] = active
	return true
}

// ClearIntermediation removes the flag entirely; only flush_chat_history
// does this per spec.md's Open Question (b) resolution — leave_chat
// must not call it.
func (s *Session) ClearIntermediation(threadKey string) {
	s.mu.Lock()
	delete(s.intermediation, threadKey)
	s.mu.Unlock()
}

// Listener returns the onboarding listener handle for threadKey, if
// installed.
func (s *Session) Listener(threadKey string) (*ListenerHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.listeners[threadKey]
	return h, ok
}

// EnsureListener returns the existing handle for threadKey or installs
// a new one bound to jobID — "a follow-up listener is installed at
// most once per thread_key per session" (spec.md §3 invariant).
func (s *Session) EnsureListener(threadKey, jobID string) (handle *ListenerHandle, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.listeners[threadKey]; ok {
		return h, false
	}
	h := newListenerHandle(jobID)
	s.listeners[threadKey] = h
	return h, true
}

// CallbackLoop lazily creates and returns the session's dedicated
// cooperative loop used for all RTDB-callback dispatch (spec.md §4.4).
func (s *Session) CallbackLoop() *callbackLoop {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		s.loop = newCallbackLoop(fmt.Sprintf("%s:%s", s.userID, s.tenantID))
	}
	return s.loop
}

// Teardown stops the callback loop (if started) and tears down every
// brain/listener, for use when a session is fully discarded. Manager
// does not call it.
func (s *Session) Teardown(ctx context.Context) {
	s.CloseAllBrains()

	s.mu.Lock()
	loop := s.loop
	s.loop = nil
	s.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
}
