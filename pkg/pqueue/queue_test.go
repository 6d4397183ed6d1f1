package pqueue

import (
	"sync"
	"testing"
	"time"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrdering(t *testing.T) {
	q := New(0)
	now := time.Now()

	require.NoError(t, q.Enqueue("a", "a", Normal, now))
	require.NoError(t, q.Enqueue("b", "b", Urgent, now))
	require.NoError(t, q.Enqueue("c", "c", Low, now))

	first, ok := q.DequeueWait()
	require.True(t, ok)
	assert.Equal(t, "b", first.ID)

	second, ok := q.DequeueWait()
	require.True(t, ok)
	assert.Equal(t, "a", second.ID)

	third, ok := q.DequeueWait()
	require.True(t, ok)
	assert.Equal(t, "c", third.ID)
}

func TestFIFOWithinSamePriority(t *testing.T) {
	q := New(0)
	now := time.Now()

	require.NoError(t, q.Enqueue("t1", "t1", Normal, now))
	require.NoError(t, q.Enqueue("t2", "t2", Normal, now))

	first, _ := q.DequeueWait()
	second, _ := q.DequeueWait()
	assert.Equal(t, "t1", first.ID)
	assert.Equal(t, "t2", second.ID)
}

func TestQueueOverflow(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue("first", "first", Normal, time.Now()))

	err := q.Enqueue("second", "second", Normal, time.Now())
	require.Error(t, err)

	var cerr *cairnerrors.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "QUEUE_FULL", cerr.Code)
	assert.Equal(t, 1, cerr.Context["current_size"])
	assert.Equal(t, 1, cerr.Context["max_size"])
}

func TestDequeueNonBlockingOnEmpty(t *testing.T) {
	q := New(0)
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestDequeueWaitWakesOnEnqueue(t *testing.T) {
	q := New(0)

	var wg sync.WaitGroup
	wg.Add(1)
	var got Task
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = q.DequeueWait()
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue("late", "late", Normal, time.Now()))
	wg.Wait()

	require.True(t, ok)
	assert.Equal(t, "late", got.ID)
}

func TestDequeueWaitReturnsFalseOnClose(t *testing.T) {
	q := New(0)

	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = q.DequeueWait()
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()

	assert.False(t, ok)
}

func TestListAllIsPriorityOrderedSnapshot(t *testing.T) {
	q := New(0)
	now := time.Now()
	require.NoError(t, q.Enqueue("a", "a", Normal, now))
	require.NoError(t, q.Enqueue("b", "b", Urgent, now))

	all := q.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, 2, q.Size(), "ListAll must not mutate the queue")
}
