package brain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamingController_LaterRegistrationSurvivesEarlierUnregister(t *testing.T) {
	c := NewStreamingController()

	_, done1 := c.Register(context.Background(), "u1", "t1", "thread1")
	require.True(t, c.Active("u1", "t1", "thread1"))

	// Registering again for the same thread replaces the active
	// registration — the caller is responsible for observing
	// cancellation of the previous one before starting a new one.
	ctx2, done2 := c.Register(context.Background(), "u1", "t1", "thread1")
	require.True(t, c.Active("u1", "t1", "thread1"))

	done1() // must not clobber reg2's slot, since done1 no longer owns it
	require.True(t, c.Active("u1", "t1", "thread1"))

	select {
	case <-ctx2.Done():
		t.Fatal("second registration's context must not be cancelled by the first unregister")
	default:
	}

	done2()
	require.False(t, c.Active("u1", "t1", "thread1"))
}

func TestStreamingController_StopCancelsContext(t *testing.T) {
	c := NewStreamingController()
	ctx, done := c.Register(context.Background(), "u1", "tenantA", "t1")
	defer done()

	stopped := c.Stop("u1", "tenantA", "t1")
	require.True(t, stopped)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled after Stop")
	}

	// The cancelled task stays registered until it unregisters itself,
	// as the workflow's deferred cleanup does on exit.
	done()
	require.False(t, c.Stop("u1", "tenantA", "t1"))
}

func TestStreamingController_StopAllForUserTenant(t *testing.T) {
	c := NewStreamingController()
	ctx1, done1 := c.Register(context.Background(), "u1", "tenantA", "t1")
	ctx2, done2 := c.Register(context.Background(), "u1", "tenantA", "t2")
	_, done3 := c.Register(context.Background(), "u1", "tenantB", "t1")
	defer done1()
	defer done2()
	defer done3()

	n := c.StopAllForUserTenant("u1", "tenantA")
	require.Equal(t, 2, n)
	require.Error(t, ctx1.Err())
	require.Error(t, ctx2.Err())
	require.True(t, c.Active("u1", "tenantB", "t1"))
}
