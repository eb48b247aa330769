package brain

import (
	"context"
	"sync"
)

// registration identifies one Register call's entry in the task map so
// its unregister func only clears the slot if it still owns it — a
// later Register for the same thread must not be clobbered by an
// earlier caller's deferred cleanup.
type registration struct {
	cancel context.CancelFunc
}

// StreamingController tracks, per thread, the cancellable workflow task
// currently registered. stop_streaming cancels the registered task(s);
// a cancelled task stays registered until its own unregister func runs,
// so Active keeps reporting it until the workflow has exited. Register
// does not refuse or cancel an existing entry: a later Register for the
// same key replaces it, and the earlier task runs on until it ends.
type StreamingController struct {
	mu    sync.Mutex
	tasks map[string]*registration // keyed by "user:tenant:thread"
}

// NewStreamingController creates an empty controller.
func NewStreamingController() *StreamingController {
	return &StreamingController{tasks: make(map[string]*registration)}
}

func controllerKey(userID, tenantID, threadKey string) string {
	return userID + ":" + tenantID + ":" + threadKey
}

// Register derives a cancellable context from parent and records its
// cancel func for (userID, tenantID, threadKey). The returned cancel
// must be deferred by the caller so the registration is always dropped
// on exit; it only clears the map slot if a later Register for the
// same key hasn't already replaced it.
func (c *StreamingController) Register(parent context.Context, userID, tenantID, threadKey string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	reg := &registration{cancel: cancel}

	key := controllerKey(userID, tenantID, threadKey)
	c.mu.Lock()
	c.tasks[key] = reg
	c.mu.Unlock()

	return ctx, func() {
		cancel()
		c.mu.Lock()
		if c.tasks[key] == reg {
			delete(c.tasks, key)
		}
		c.mu.Unlock()
	}
}

// Stop cancels the registered task for (userID, tenantID, threadKey), if
// any, and reports whether one was found. The entry itself is removed
// only by the task's unregister func.
func (c *StreamingController) Stop(userID, tenantID, threadKey string) bool {
	key := controllerKey(userID, tenantID, threadKey)

	c.mu.Lock()
	reg, ok := c.tasks[key]
	c.mu.Unlock()

	if !ok {
		return false
	}
	reg.cancel()
	return true
}

// StopAllForUserTenant cancels every registered task belonging to
// (userID, tenantID) regardless of thread, used by flush_chat_history
// with no thread_key (whole-session flush). Returns the count stopped.
func (c *StreamingController) StopAllForUserTenant(userID, tenantID string) int {
	prefix := userID + ":" + tenantID + ":"

	c.mu.Lock()
	var regs []*registration
	for key, reg := range c.tasks {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			regs = append(regs, reg)
		}
	}
	c.mu.Unlock()

	for _, reg := range regs {
		reg.cancel()
	}
	return len(regs)
}

// Active reports whether a task is currently registered for the
// (userID, tenantID, threadKey), used by tests asserting the
// at-most-one-streaming-workflow-per-thread invariant.
func (c *StreamingController) Active(userID, tenantID, threadKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[controllerKey(userID, tenantID, threadKey)]
	return ok
}
