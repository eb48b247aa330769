package session

import (
	"context"
	"time"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
)

// callbackLoop stands in for the teacher's cooperative-loop/owning-thread
// idiom (design note §9): a single goroutine drains a work channel so
// that RTDB SDK callback goroutines never run session/brain mutation
// directly. schedule submits work and blocks the caller for at most
// timeout, "preserving SDK thread liveness" (spec.md §4.4) even if the
// loop is saturated.
type callbackLoop struct {
	name string
	work chan func(context.Context)
	done chan struct{}
}

func newCallbackLoop(name string) *callbackLoop {
	l := &callbackLoop{
		name: name,
		work: make(chan func(context.Context), 64),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *callbackLoop) run() {
	ctx := context.Background()
	for {
		select {
		case fn, ok := <-l.work:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.ErrorCF("session", "callback loop task panicked", map[string]interface{}{
							"loop": l.name, "panic": r,
						})
					}
				}()
				fn(ctx)
			}()
		case <-l.done:
			return
		}
	}
}

// Schedule submits fn to the loop, blocking the calling goroutine (an
// RTDB SDK callback thread, in production) for at most timeout. If the
// loop accepts the work within timeout, Schedule returns true
// immediately without waiting for fn to finish — fn still runs
// asynchronously on the loop's own goroutine, exactly as
// "schedule_coroutine(coro, timeout)... blocks the SDK thread for at
// most timeout... and then returns" describes (spec.md §4.4).
func (l *callbackLoop) Schedule(fn func(context.Context), timeout time.Duration) (accepted bool) {
	if timeout <= 0 {
		timeout = time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.work <- fn:
		return true
	case <-timer.C:
		logger.WarnCF("session", "callback loop saturated, dropping scheduled task", map[string]interface{}{
			"loop": l.name, "timeout": timeout.String(),
		})
		return false
	}
}

// Stop terminates the loop's goroutine. Idempotent.
func (l *callbackLoop) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
