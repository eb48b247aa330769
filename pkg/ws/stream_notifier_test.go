package ws

import (
	"sync"
	"testing"
	"time"
)

func TestStreamNotifier_FlushConcatenatesToOriginal(t *testing.T) {
	var mu sync.Mutex
	var received string

	sn := NewStreamNotifier(10*time.Millisecond, func(chunk string) {
		mu.Lock()
		received += chunk
		mu.Unlock()
	})

	sn.Append("Hel")
	sn.Append("lo")
	time.Sleep(30 * time.Millisecond)
	sn.Flush()

	mu.Lock()
	defer mu.Unlock()
	if received != "Hello" {
		t.Errorf("expected concatenated chunks to equal 'Hello', got %q", received)
	}
}

func TestStreamNotifier_FlushIsNoOpWhenNothingPending(t *testing.T) {
	calls := 0
	sn := NewStreamNotifier(5*time.Millisecond, func(chunk string) {
		calls++
	})
	time.Sleep(20 * time.Millisecond)
	sn.Flush()

	if calls != 0 {
		t.Errorf("expected no flush callbacks with nothing appended, got %d", calls)
	}
}
