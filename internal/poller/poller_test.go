package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-inbox/pkg/logger"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)
	s := New(log)
	t.Cleanup(s.Stop)
	return s
}

func TestScheduleFetchesImmediately(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "conversations"}

	var changes atomic.Int32
	err := s.Schedule(key, Options{
		OnChange: func(Key, any) { changes.Add(1) },
	}, func(context.Context) (any, error) {
		return []string{"c1"}, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := s.Snapshot(key)
		return ok && snap.HasValue
	}, time.Second, 5*time.Millisecond)

	snap, _ := s.Snapshot(key)
	assert.Equal(t, []string{"c1"}, snap.Value)
	assert.NoError(t, snap.Err)
	assert.Equal(t, int32(1), changes.Load())
}

func TestChangeDetection(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "messages", ID: "c1"}

	var calls atomic.Int32
	var changes atomic.Int32
	err := s.Schedule(key, Options{
		Interval: 10 * time.Millisecond,
		OnChange: func(Key, any) { changes.Add(1) },
	}, func(context.Context) (any, error) {
		n := calls.Add(1)
		if n < 4 {
			return []string{"m1"}, nil
		}
		return []string{"m1", "m2"}, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 6 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), changes.Load(), "equal results must not count as changes")
}

func TestCustomEqual(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "conversation-meta", ID: "c1"}

	type meta struct {
		Status    string
		FetchedAt time.Time
	}

	var calls atomic.Int32
	var changes atomic.Int32
	err := s.Schedule(key, Options{
		Interval: 10 * time.Millisecond,
		Equal: func(a, b any) bool {
			return a.(meta).Status == b.(meta).Status
		},
		OnChange: func(Key, any) { changes.Add(1) },
	}, func(context.Context) (any, error) {
		calls.Add(1)
		return meta{Status: "UNRESOLVED", FetchedAt: time.Now()}, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), changes.Load())
}

func TestStickyErrorKeepsLastGoodValue(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "messages", ID: "c1"}

	var fail atomic.Bool
	var errs atomic.Int32
	err := s.Schedule(key, Options{
		OnError: func(Key, error) { errs.Add(1) },
	}, func(context.Context) (any, error) {
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		return "good", nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot(key)
		return snap.HasValue
	}, time.Second, 5*time.Millisecond)

	fail.Store(true)
	require.Eventually(t, func() bool { return s.Invalidate(key) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return errs.Load() == 1 }, time.Second, 5*time.Millisecond)

	snap, _ := s.Snapshot(key)
	assert.Equal(t, "good", snap.Value)
	assert.EqualError(t, snap.Err, "connection refused")

	fail.Store(false)
	require.Eventually(t, func() bool { return s.Invalidate(key) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot(key)
		return snap.Err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestInFlightSuppression(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "feed"}

	release := make(chan struct{})
	var calls atomic.Int32
	var concurrent, maxConcurrent atomic.Int32
	err := s.Schedule(key, Options{}, func(ctx context.Context) (any, error) {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return calls.Load(), nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot(key)
		return snap.Fetching
	}, time.Second, 5*time.Millisecond)

	assert.False(t, s.Refresh(key), "refresh during a fetch must be dropped")
	for i := 0; i < 5; i++ {
		assert.True(t, s.Invalidate(key), "invalidate during a fetch must be queued")
	}
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond,
		"invalidations during one fetch fold into a single follow-up")
	assert.Equal(t, int32(1), maxConcurrent.Load())

	snap, _ := s.Snapshot(key)
	assert.Equal(t, int32(2), snap.Value)
}

func TestRecoveryAfterErrorCountsAsChange(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "conversation", ID: "c1"}

	var fail atomic.Bool
	var changes atomic.Int32
	err := s.Schedule(key, Options{
		OnChange: func(Key, any) { changes.Add(1) },
	}, func(context.Context) (any, error) {
		if fail.Load() {
			return nil, errors.New("timeout")
		}
		return "same", nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return changes.Load() == 1 }, time.Second, 5*time.Millisecond)

	fail.Store(true)
	require.Eventually(t, func() bool {
		s.Invalidate(key)
		snap, _ := s.Snapshot(key)
		return snap.Err != nil
	}, time.Second, 5*time.Millisecond)

	fail.Store(false)
	s.Invalidate(key)
	require.Eventually(t, func() bool { return changes.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestRefreshRespectsStaleWindow(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "variables", ID: "c1"}

	var calls atomic.Int32
	err := s.Schedule(key, Options{Stale: time.Hour}, func(context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot(key)
		return snap.HasValue && !snap.Fetching
	}, time.Second, 5*time.Millisecond)

	assert.False(t, s.Refresh(key), "fresh data must not be refetched")
	assert.Equal(t, int32(1), calls.Load())

	assert.True(t, s.Invalidate(key))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCancelDiscardsLateResult(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "messages", ID: "c1"}

	started := make(chan struct{})
	var once sync.Once
	var changes atomic.Int32
	err := s.Schedule(key, Options{
		OnChange: func(Key, any) { changes.Add(1) },
	}, func(ctx context.Context) (any, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "late", nil
	})
	require.NoError(t, err)

	<-started
	assert.True(t, s.Cancel(key))
	assert.False(t, s.Cancel(key))
	assert.Equal(t, 0, s.Active())

	s.Stop()
	assert.Equal(t, int32(0), changes.Load())
}

func TestReplaceCancelsPreviousTask(t *testing.T) {
	s := newTestScheduler(t)
	key := Key{Kind: "messages", ID: "c1"}

	var first atomic.Int32
	require.NoError(t, s.Schedule(key, Options{Interval: 5 * time.Millisecond}, func(context.Context) (any, error) {
		first.Add(1)
		return "a", nil
	}))
	require.Eventually(t, func() bool { return first.Load() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Schedule(key, Options{}, func(context.Context) (any, error) {
		return "b", nil
	}))
	assert.Equal(t, 1, s.Active())

	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot(key)
		return snap.Value == "b"
	}, time.Second, 5*time.Millisecond)

	stopped := first.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, first.Load(), stopped+1, "replaced task keeps polling")
}

func TestStopLeavesNoTasks(t *testing.T) {
	s := newTestScheduler(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Schedule(Key{Kind: "messages", ID: id}, Options{Interval: time.Millisecond}, func(context.Context) (any, error) {
			return nil, nil
		}))
	}
	assert.Equal(t, 3, s.Active())
	assert.Equal(t, 3, s.CancelKind("messages"))
	assert.Equal(t, 0, s.Active())

	s.Stop()
	assert.ErrorIs(t, s.Schedule(Key{Kind: "feed"}, Options{}, func(context.Context) (any, error) { return nil, nil }), ErrStopped)
}
