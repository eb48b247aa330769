package rtdb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store backed by a nested map guarded by
// a single mutex. It is the reference implementation used by tests and
// by any deployment that hasn't wired a real Firebase Admin SDK
// client behind the Store interface.
type MemoryStore struct {
	mu        sync.Mutex
	root      map[string]interface{}
	listeners map[string][]*memorySubscription
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root:      make(map[string]interface{}),
		listeners: make(map[string][]*memorySubscription),
	}
}

type memorySubscription struct {
	store   *MemoryStore
	path    string
	handler Handler
	closed  bool
}

func (s *memorySubscription) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.closed = true

	subs := s.store.listeners[s.path]
	for i, sub := range subs {
		if sub == s {
			s.store.listeners[s.path] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// navigate walks root to the node at segs, creating intermediate maps
// along the way when create is true. Must be called with mu held.
func navigate(root map[string]interface{}, segs []string, create bool) (map[string]interface{}, bool) {
	cur := root
	for _, seg := range segs {
		next, ok := cur[seg]
		if !ok {
			if !create {
				return nil, false
			}
			child := make(map[string]interface{})
			cur[seg] = child
			cur = child
			continue
		}
		childMap, ok := next.(map[string]interface{})
		if !ok {
			if !create {
				return nil, false
			}
			childMap = make(map[string]interface{})
			cur[seg] = childMap
		}
		cur = childMap
	}
	return cur, true
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if child, ok := v.(map[string]interface{}); ok {
			out[k] = deepCopy(child)
		} else {
			out[k] = v
		}
	}
	return out
}

func (s *MemoryStore) Get(_ context.Context, path string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := navigate(s.root, splitPath(path), false)
	if !ok {
		return nil, nil
	}
	return deepCopy(node), nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value map[string]interface{}) error {
	s.mu.Lock()
	segs := splitPath(path)
	if len(segs) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("rtdb: cannot set root path")
	}
	parentSegs, key := segs[:len(segs)-1], segs[len(segs)-1]
	parent, _ := navigate(s.root, parentSegs, true)
	parent[key] = deepCopy(value)
	s.mu.Unlock()

	s.notify(path, value)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	s.mu.Lock()
	node, _ := navigate(s.root, splitPath(path), true)
	for k, v := range fields {
		node[k] = v
	}
	merged := deepCopy(node)
	s.mu.Unlock()

	s.notify(path, merged)
	return nil
}

func (s *MemoryStore) Push(ctx context.Context, path string, value map[string]interface{}) (string, error) {
	key := pushID()
	childPath := path + "/" + key
	if err := s.Set(ctx, childPath, value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs := splitPath(path)
	if len(segs) == 0 {
		s.root = make(map[string]interface{})
		return nil
	}
	parent, ok := navigate(s.root, segs[:len(segs)-1], false)
	if !ok {
		return nil
	}
	delete(parent, segs[len(segs)-1])
	return nil
}

func (s *MemoryStore) Listen(_ context.Context, path string, handler Handler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &memorySubscription{store: s, path: path, handler: handler}
	s.listeners[path] = append(s.listeners[path], sub)
	return sub, nil
}

// notify fires "put" events to every listener watching path or an
// ancestor of path, mirroring Firebase's bubbling of child writes up
// to parent listeners.
func (s *MemoryStore) notify(path string, data map[string]interface{}) {
	s.mu.Lock()
	var targets []*memorySubscription
	for watched, subs := range s.listeners {
		if watched == path || strings.HasPrefix(path, watched+"/") {
			targets = append(targets, subs...)
		}
	}
	s.mu.Unlock()

	ev := Event{Path: path, Data: data, EventType: "put"}
	for _, sub := range targets {
		if !sub.closed {
			sub.handler(ev)
		}
	}
}

// pushID generates a unique, lexically-orderable-enough key. Firebase
// derives its real push IDs from a millisecond timestamp plus random
// bits; a UUID is sufficient here since nothing in this codebase
// depends on push-ID ordering (messages carry their own timestamp).
func pushID() string {
	return uuid.New().String()
}
