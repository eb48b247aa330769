// Package rtdb defines the realtime-database port the rest of the
// service depends on: a hierarchical tree of string-keyed nodes,
// addressed by slash-separated paths, that can be read, written, and
// subscribed to for new children. The real transport (Firebase Admin
// SDK over a cloud-hosted RTDB instance) is an explicit external
// collaborator; this package only specifies the shape callers get and
// ships an in-memory adapter that implements it for tests and local
// running.
package rtdb

import "context"

// Event is delivered to a Listen subscriber when a child is created or
// updated under the watched path. EventType mirrors the Firebase
// Admin SDK's own vocabulary ("put" for a full node replace at Path);
// only "put" is modeled since that's the only event type the
// follow-up listener (spec.md §4.3) acts on.
type Event struct {
	Path      string
	Data      map[string]interface{}
	EventType string
}

// Handler processes one Event. Where a handler runs depends on the
// store: MemoryStore calls it synchronously on the goroutine performing
// the write, so a slow handler blocks that write. Slow handlers should
// hand off work, the constraint the per-session callback loop exists
// to satisfy.
type Handler func(Event)

// Subscription is returned by Listen; Close stops delivery.
type Subscription interface {
	Close() error
}

// Store is the RTDB port. All paths are slash-separated, relative to
// the store's root (e.g. "tenant42/chats/t1/messages").
type Store interface {
	// Get reads the full subtree rooted at path. Returns a nil map and
	// nil error if the path has no data.
	Get(ctx context.Context, path string) (map[string]interface{}, error)

	// Set overwrites the node at path with value.
	Set(ctx context.Context, path string, value map[string]interface{}) error

	// Update merges fields into the node at path without touching
	// siblings of the merged keys.
	Update(ctx context.Context, path string, fields map[string]interface{}) error

	// Push creates a new uniquely-keyed child under path and returns
	// its generated key, mirroring Firebase's push-ID semantics.
	Push(ctx context.Context, path string, value map[string]interface{}) (string, error)

	// Delete removes the node at path and everything under it.
	Delete(ctx context.Context, path string) error

	// Listen subscribes to "put" events for children created or
	// replaced under path. The initial snapshot at subscribe time is
	// NOT replayed; callers that need existing data call Get first.
	Listen(ctx context.Context, path string, handler Handler) (Subscription, error)
}
