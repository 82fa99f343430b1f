package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_RejectsOverLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(3, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("user-1")
		require.True(t, ok)
	}
	ok, retry := l.Allow("user-1")
	require.False(t, ok)
	require.Equal(t, time.Minute, retry)

	// Another user has their own window.
	ok, _ = l.Allow("user-2")
	require.True(t, ok)

	now = now.Add(20 * time.Second)
	ok, retry = l.Allow("user-1")
	require.False(t, ok)
	require.Equal(t, 40*time.Second, retry)

	now = now.Add(40 * time.Second)
	ok, _ = l.Allow("user-1")
	require.True(t, ok)
}

func TestRateLimiter_ConcurrentAllowIsAtomic(t *testing.T) {
	l := NewRateLimiter(10, time.Hour)

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("user-1"); ok {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 10, allowed)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("user-1")
	now = now.Add(30 * time.Second)
	l.Allow("user-2")

	now = now.Add(45 * time.Second)
	require.Equal(t, 1, l.Cleanup())
	require.Len(t, l.windows, 1)
}

func TestRateLimiter_RunStopsOnCancel(t *testing.T) {
	l := NewRateLimiter(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
