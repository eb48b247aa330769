// Package ws hosts the WebSocket hub: one process-wide fan-out point
// keyed by uid, the legacy→canonical event-name table, and the
// disconnected-user message buffer backed by the cache port.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/cache"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
)

// legacyEventNames maps event names emitted by older client/tool code
// onto the canonical names this service broadcasts. Carried verbatim
// from the original hub's normalization table.
var legacyEventNames = map[string]string{
	"llm_stream_chunk":    "llm.stream_delta",
	"llm_stream_complete": "llm.stream_end",
	"llm_stream_error":    "llm.error",
	"tool_use_start":      "llm.tool_use_start",
	"tool_use_progress":      "llm.tool_use_progress",
	"tool_use_complete":      "llm.tool_use_complete",
	"tool_use_error":         "llm.tool_use_error",
}

func normalizeEventType(t string) string {
	if canonical, ok := legacyEventNames[t]; ok {
		return canonical
	}
	return t
}

// Event is the envelope every broadcast carries on the wire.
type Event struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload"`
}

// ThreadChannel builds the canonical channel name for thread-scoped
// events, per spec.md §6: "chat:<user>:<tenant>:<thread>".
func ThreadChannel(userID, tenantID, threadKey string) string {
	return fmt.Sprintf("chat:%s:%s:%s", userID, tenantID, threadKey)
}

// bufferTTL is how long an undelivered message waits in the cache
// port for its uid to reconnect.
const bufferTTL = 10 * time.Minute

// bufferCap bounds how many buffered messages are kept per (uid,
// thread) pair before the oldest is dropped.
const bufferCap = 50

// Hub tracks live connections keyed by uid and broadcasts normalized
// events to them, buffering into the cache port when a uid has no
// live connection and the channel addresses a specific chat thread.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
	cache cache.Store
}

// NewHub creates a hub backed by the given cache port for buffering.
func NewHub(store cache.Store) *Hub {
	return &Hub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
		cache: store,
	}
}

// Register attaches a live connection for uid. Call Unregister when
// the connection closes.
func (h *Hub) Register(uid string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[uid]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.conns[uid] = set
	}
	set[conn] = struct{}{}
}

// Unregister detaches a connection. If it was the uid's last
// connection, the uid has no more live sockets.
func (h *Hub) Unregister(uid string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[uid]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.conns, uid)
	}
}

func (h *Hub) connectionsFor(uid string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.conns[uid]
	out := make([]*websocket.Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Broadcast normalizes eventType and sends it to every live
// connection for uid on channel. If uid has no live connection and
// channel addresses a specific thread ("chat:<uid>:<tenant>:<thread>"),
// the event is buffered in the cache port instead of being dropped.
func (h *Hub) Broadcast(ctx context.Context, uid, channel, eventType string, payload interface{}) error {
	ev := Event{Type: normalizeEventType(eventType), Channel: channel, Payload: payload}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conns := h.connectionsFor(uid)
	if len(conns) == 0 {
		if threadKey, ok := parseThreadChannel(channel); ok {
			return h.bufferMessage(ctx, uid, threadKey, raw)
		}
		return nil
	}

	for _, conn := range conns {
		if werr := conn.WriteMessage(websocket.TextMessage, raw); werr != nil {
			logger.WarnCF("ws", "write to connection failed", map[string]interface{}{
				"uid": uid, "error": werr.Error(),
			})
		}
	}
	return nil
}

// BroadcastThreadsafe is Broadcast's fire-and-forget form for callers
// running off a background goroutine (RTDB callback handlers, the
// per-session callback loop) that must not block on delivery.
func (h *Hub) BroadcastThreadsafe(uid, channel, eventType string, payload interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Broadcast(ctx, uid, channel, eventType, payload); err != nil {
			logger.WarnCF("ws", "threadsafe broadcast failed", map[string]interface{}{
				"uid": uid, "channel": channel, "error": err.Error(),
			})
		}
	}()
}

// parseThreadChannel extracts the thread key from a
// "chat:<user>:<tenant>:<thread>" channel name.
func parseThreadChannel(channel string) (threadKey string, ok bool) {
	const prefix = "chat:"
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return "", false
	}

	parts := strings.Split(channel[len(prefix):], ":")
	if len(parts) != 3 {
		return "", false
	}
	return parts[2], true
}

func (h *Hub) bufferKey(uid, threadKey string) string {
	return fmt.Sprintf("wsbuf:%s:%s", uid, threadKey)
}

func (h *Hub) bufferMessage(ctx context.Context, uid, threadKey string, raw []byte) error {
	key := h.bufferKey(uid, threadKey)

	var buffered [][]byte
	if existing, err := h.cache.Get(ctx, key); err == nil {
		_ = json.Unmarshal(existing, &buffered)
	}

	buffered = append(buffered, raw)
	if len(buffered) > bufferCap {
		buffered = buffered[len(buffered)-bufferCap:]
	}

	encoded, err := json.Marshal(buffered)
	if err != nil {
		return fmt.Errorf("marshal buffered messages: %w", err)
	}
	return h.cache.Set(ctx, key, encoded, bufferTTL)
}

// DrainBuffered returns and clears any events buffered for (uid,
// threadKey) while the user was disconnected, for replay once they
// reconnect.
func (h *Hub) DrainBuffered(ctx context.Context, uid, threadKey string) ([]Event, error) {
	key := h.bufferKey(uid, threadKey)

	raw, err := h.cache.Get(ctx, key)
	if err != nil {
		return nil, nil
	}

	var buffered [][]byte
	if err := json.Unmarshal(raw, &buffered); err != nil {
		return nil, fmt.Errorf("decode buffered messages: %w", err)
	}

	events := make([]Event, 0, len(buffered))
	for _, b := range buffered {
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}

	_ = h.cache.Delete(ctx, key)
	return events, nil
}
