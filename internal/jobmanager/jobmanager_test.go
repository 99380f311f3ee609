package jobmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := New(zap.NewNop(), 2, 1, 10*time.Millisecond, "hub-worker")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestDeferToThreadRunsAndAwaits(t *testing.T) {
	m := newTestManager(t)

	future := m.DeferToThread(context.Background(), JobInfo{Category: "dump", Source: "gene", Step: "data"},
		func(ctx context.Context) (any, error) {
			return 42, nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := future.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestDeferToThreadPropagatesError(t *testing.T) {
	m := newTestManager(t)

	future := m.DeferToThread(context.Background(), JobInfo{Category: "dump", Source: "gene", Step: "data"},
		func(ctx context.Context) (any, error) {
			return nil, assert.AnError
		})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := future.Await(ctx)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDeferredTaskWaitsForPredicate(t *testing.T) {
	m := newTestManager(t)

	var ready bool
	predicate := func(ctx context.Context, table JobTable) (bool, error) {
		return ready, nil
	}

	future := m.DeferToThread(context.Background(), JobInfo{
		Category:   "build",
		Source:     "mygene",
		Step:       "merge",
		Predicates: []Predicate{predicate},
	}, func(ctx context.Context) (any, error) {
		return "built", nil
	})

	select {
	case <-future.done:
		t.Fatal("task ran before predicate was satisfied")
	case <-time.After(30 * time.Millisecond):
	}

	ready = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := future.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "built", result)
}

func TestSubmitRunsOnce(t *testing.T) {
	m := newTestManager(t)

	done := make(chan struct{})
	_, err := m.Submit(context.Background(), func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submitted task never ran")
	}
}

func TestSubmitScheduledRunsRepeatedly(t *testing.T) {
	m := newTestManager(t)

	count := make(chan struct{}, 8)
	handle, err := m.Submit(context.Background(), func(ctx context.Context) error {
		select {
		case count <- struct{}{}:
		default:
		}
		return nil
	}, WithSchedule("@every 10ms"))
	require.NoError(t, err)
	defer handle.Cancel()

	select {
	case <-count:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
	select {
	case <-count:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task did not recur")
	}
}

func TestFutureCancel(t *testing.T) {
	m := newTestManager(t)

	started := make(chan struct{})
	future := m.DeferToThread(context.Background(), JobInfo{}, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	<-started
	future.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := future.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
