package ws

import (
	"sync"
	"time"
)

// StreamNotifier coalesces the text deltas a model emits mid-turn into
// throttled `llm.stream_delta` broadcasts, so that a model producing
// many small chunks doesn't produce one WS frame per token. Unlike a
// full-text-resend notifier, it flushes only the delta accumulated
// since the last flush: spec.md's streaming invariant requires that
// the concatenation of every broadcast `chunk` equal the final
// message content, which a repeated full-text resend would violate.
type StreamNotifier struct {
	mu      sync.Mutex
	pending string
	onFlush func(chunk string)
	ticker  *time.Ticker
	done    chan struct{}
	dirty   bool
}

// NewStreamNotifier creates a notifier that calls onFlush with the
// accumulated-since-last-flush text every interval.
func NewStreamNotifier(interval time.Duration, onFlush func(chunk string)) *StreamNotifier {
	sn := &StreamNotifier{
		onFlush: onFlush,
		ticker:  time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go sn.loop()
	return sn
}

func (sn *StreamNotifier) loop() {
	for {
		select {
		case <-sn.ticker.C:
			sn.flush()
		case <-sn.done:
			return
		}
	}
}

func (sn *StreamNotifier) flush() {
	sn.mu.Lock()
	if !sn.dirty {
		sn.mu.Unlock()
		return
	}
	chunk := sn.pending
	sn.pending = ""
	sn.dirty = false
	sn.mu.Unlock()

	if chunk != "" {
		sn.onFlush(chunk)
	}
}

// Append adds a text delta to the pending, not-yet-flushed buffer.
func (sn *StreamNotifier) Append(delta string) {
	if delta == "" {
		return
	}
	sn.mu.Lock()
	sn.pending += delta
	sn.dirty = true
	sn.mu.Unlock()
}

// Flush stops the ticker and pushes out anything still pending.
func (sn *StreamNotifier) Flush() {
	sn.ticker.Stop()
	close(sn.done)
	sn.flush()
}
