package session

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry is the process-wide session table Manager owns exclusively
// (spec.md §3 "Manager exclusively owns Sessions"). Lookup-and-create
// is guarded by a singleflight.Group so concurrent callers for the same
// (user_id, tenant_id) collapse into one initializer invocation — the
// "coarse session-registry lock" spec.md §4.4 calls for.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	group singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func registryKey(userID, tenantID string) string {
	return fmt.Sprintf("%s:%s", userID, tenantID)
}

// Get returns the existing session for (userID, tenantID), if any.
func (r *Registry) Get(userID, tenantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[registryKey(userID, tenantID)]
	return s, ok
}

// EnsureSessionInitialized implements spec.md §4.4's
// _ensure_session_initialized: (a) reuses an existing fully-initialized
// session, or (b) allocates one and runs init (which must call
// SetInitialized) exactly once even under concurrent callers for the
// same key. Returns the session and whether init actually ran this
// call (the caller uses this to decide "created" vs "refreshed" for
// initialize_session's response).
func (r *Registry) EnsureSessionInitialized(userID, tenantID string, init func(*Session) error) (s *Session, initialized bool, err error) {
	key := registryKey(userID, tenantID)

	if existing, ok := r.Get(userID, tenantID); ok && existing.Initialized() {
		return existing, false, nil
	}

	ran := false
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		r.mu.Lock()
		existing, ok := r.sessions[key]
		if !ok {
			existing = New(userID, tenantID)
			r.sessions[key] = existing
		}
		r.mu.Unlock()

		if existing.Initialized() {
			return existing, nil
		}
		if ierr := init(existing); ierr != nil {
			return nil, ierr
		}
		ran = true
		return existing, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Session), ran, nil
}

// Remove drops a session from the registry entirely. The caller is
// responsible for calling Session.Teardown first. Manager's
// flush_chat_history closes brains but does not remove the session.
func (r *Registry) Remove(userID, tenantID string) {
	r.mu.Lock()
	delete(r.sessions, registryKey(userID, tenantID))
	r.mu.Unlock()
}

// Count reports how many sessions are currently registered, used for
// diagnostics/tests.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
