package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *recordingNotifier) Notify(_, msg string) {
	n.mu.Lock()
	n.notices = append(n.notices, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...)
}

func TestTasksRunInOrder(t *testing.T) {
	q := New(16, time.Second, zap.NewNop(), nil)
	q.Start()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		ok := q.Enqueue("step", func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
		require.True(t, ok)
	}
	wg.Wait()
	require.NoError(t, q.Close(time.Second))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	// Worker not started: the buffer fills and stays full.
	q := New(2, time.Second, zap.NewNop(), nil)
	assert.True(t, q.Enqueue("a", func(context.Context) error { return nil }))
	assert.True(t, q.Enqueue("b", func(context.Context) error { return nil }))
	assert.False(t, q.Enqueue("c", func(context.Context) error { return nil }), "full queue must drop, not block")
}

func TestFailingTaskNotifies(t *testing.T) {
	n := &recordingNotifier{}
	q := New(16, time.Second, zap.NewNop(), n)
	q.Start()

	done := make(chan struct{})
	q.Enqueue("supply update", func(context.Context) error {
		defer close(done)
		return errors.New("boom")
	})
	<-done
	require.NoError(t, q.Close(time.Second))

	notices := n.all()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "supply update")
	assert.Contains(t, notices[0], "boom")
}

func TestPanicIsContained(t *testing.T) {
	n := &recordingNotifier{}
	q := New(16, time.Second, zap.NewNop(), n)
	q.Start()

	q.Enqueue("bad", func(context.Context) error { panic("kaboom") })

	ran := make(chan struct{})
	q.Enqueue("good", func(context.Context) error { close(ran); return nil })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	require.NoError(t, q.Close(time.Second))
	require.Len(t, n.all(), 1)
	assert.Contains(t, n.all()[0], "kaboom")
}

func TestCloseRejectsNewTasks(t *testing.T) {
	q := New(16, time.Second, zap.NewNop(), nil)
	q.Start()
	require.NoError(t, q.Close(time.Second))
	assert.False(t, q.Enqueue("late", func(context.Context) error { return nil }))
	// Double close is safe.
	require.NoError(t, q.Close(time.Second))
}

func TestTaskContextHasDeadline(t *testing.T) {
	q := New(16, 50*time.Millisecond, zap.NewNop(), nil)
	q.Start()

	done := make(chan error, 1)
	q.Enqueue("slow", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("task context never expired")
	}
	require.NoError(t, q.Close(time.Second))
}
