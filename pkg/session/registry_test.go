package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
)

var errInitFailed = errors.New("init failed")

func TestRegistry_EnsureSessionInitialized_CollapsesConcurrentInit(t *testing.T) {
	r := NewRegistry()

	var initCalls int32
	init := func(s *Session) error {
		atomic.AddInt32(&initCalls, 1)
		time.Sleep(10 * time.Millisecond)
		s.SetInitialized("client-1", &brain.UserContext{CompanyName: "Acme"}, nil)
		return nil
	}

	var wg sync.WaitGroup
	results := make([]*Session, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := r.EnsureSessionInitialized("u1", "t1", init)
			require.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&initCalls))
	for _, s := range results {
		require.Same(t, results[0], s)
	}
	require.Equal(t, 1, r.Count())
}

func TestRegistry_EnsureSessionInitialized_ReusesInitializedSession(t *testing.T) {
	r := NewRegistry()
	init := func(s *Session) error {
		s.SetInitialized("client-1", &brain.UserContext{}, nil)
		return nil
	}

	s1, initialized1, err := r.EnsureSessionInitialized("u1", "t1", init)
	require.NoError(t, err)
	require.True(t, initialized1)

	calledAgain := false
	s2, initialized2, err := r.EnsureSessionInitialized("u1", "t1", func(s *Session) error {
		calledAgain = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, initialized2)
	require.False(t, calledAgain)
	require.Same(t, s1, s2)
}

func TestRegistry_EnsureSessionInitialized_PropagatesInitError(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.EnsureSessionInitialized("u1", "t1", func(s *Session) error {
		return errInitFailed
	})
	require.ErrorIs(t, err, errInitFailed)
	require.Equal(t, 1, r.Count()) // left registered but uninitialized, so a retry reuses it
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.EnsureSessionInitialized("u1", "t1", func(s *Session) error {
		s.SetInitialized("c1", nil, nil)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, r.Count())

	r.Remove("u1", "t1")
	require.Equal(t, 0, r.Count())
	_, ok := r.Get("u1", "t1")
	require.False(t, ok)
}
