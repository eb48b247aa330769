package ws

import (
	"context"
	"testing"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/cache"
)

func TestNormalizeEventType_LegacyNamesMapToCanonical(t *testing.T) {
	cases := map[string]string{
		"llm_stream_chunk":    "llm.stream_delta",
		"llm_stream_complete": "llm.stream_end",
		"llm_stream_error":    "llm.error",
		"tool_use_start":      "llm.tool_use_start",
		"tool_use_progress":   "llm.tool_use_progress",
		"tool_use_complete":   "llm.tool_use_complete",
		"tool_use_error":      "llm.tool_use_error",
	}
	for legacy, canonical := range cases {
		if got := normalizeEventType(legacy); got != canonical {
			t.Errorf("normalizeEventType(%q) = %q, want %q", legacy, got, canonical)
		}
	}
}

func TestNormalizeEventType_AlreadyCanonicalPassesThrough(t *testing.T) {
	if got := normalizeEventType("CARD"); got != "CARD" {
		t.Errorf("expected CARD to pass through unchanged, got %q", got)
	}
}

func TestNormalizeEventType_StreamInterruptedIsAlreadyCanonical(t *testing.T) {
	if got := normalizeEventType("llm_stream_interrupted"); got != "llm_stream_interrupted" {
		t.Errorf("expected llm_stream_interrupted to pass through unchanged, got %q", got)
	}
}

func TestThreadChannel_Format(t *testing.T) {
	got := ThreadChannel("u1", "ten1", "t1")
	want := "chat:u1:ten1:t1"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestParseThreadChannel(t *testing.T) {
	thread, ok := parseThreadChannel("chat:u1:ten1:t1")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if thread != "t1" {
		t.Errorf("expected thread 't1', got %q", thread)
	}

	if _, ok := parseThreadChannel("not-a-chat-channel"); ok {
		t.Error("expected ok=false for non-chat channel")
	}
}

func TestHub_Broadcast_BuffersWhenNoConnection(t *testing.T) {
	store := cache.NewMemoryStore()
	hub := NewHub(store)
	ctx := context.Background()

	channel := ThreadChannel("u1", "ten1", "t1")
	if err := hub.Broadcast(ctx, "u1", channel, "llm_stream_chunk", map[string]string{"chunk": "Hel"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := hub.Broadcast(ctx, "u1", channel, "llm_stream_chunk", map[string]string{"chunk": "lo"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := hub.DrainBuffered(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(events))
	}
	if events[0].Type != "llm.stream_delta" {
		t.Errorf("expected normalized type 'llm.stream_delta', got %q", events[0].Type)
	}
}

func TestHub_DrainBuffered_ClearsAfterDrain(t *testing.T) {
	store := cache.NewMemoryStore()
	hub := NewHub(store)
	ctx := context.Background()

	channel := ThreadChannel("u1", "ten1", "t1")
	_ = hub.Broadcast(ctx, "u1", channel, "CARD", map[string]string{"card": "x"})

	first, _ := hub.DrainBuffered(ctx, "u1", "t1")
	if len(first) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(first))
	}

	second, _ := hub.DrainBuffered(ctx, "u1", "t1")
	if len(second) != 0 {
		t.Errorf("expected buffer to be empty after drain, got %d", len(second))
	}
}

func TestHub_Broadcast_NoConnectionNonThreadChannelIsDropped(t *testing.T) {
	store := cache.NewMemoryStore()
	hub := NewHub(store)
	ctx := context.Background()

	if err := hub.Broadcast(ctx, "u1", "global", "CARD", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := hub.DrainBuffered(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected nothing buffered for non-thread channel, got %d", len(events))
	}
}
