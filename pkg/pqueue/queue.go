// Package pqueue implements the in-process, bounded priority queue that
// feeds the orchestrator's worker loop: a min-heap keyed by
// (-priority, created_at) with condition-variable dequeue_wait
// semantics, generalized from the teacher's poll-and-backoff worker
// loop shape (pkg/queue/worker.go) onto an in-memory heap, since this
// runtime — unlike the teacher — queues in-process rather than polling
// a database row lock.
package pqueue

import (
	"container/heap"
	"sync"
	"time"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
)

// Priority mirrors spec §3's TaskPriority enum: higher dequeues first.
type Priority int

const (
	Low    Priority = 1
	Normal Priority = 2
	High   Priority = 3
	Urgent Priority = 4
)

// Task is a queued unit of work: task text, priority, and the time it
// was enqueued (used to break ties FIFO within a priority band).
type Task struct {
	ID        string
	Text      string
	Priority  Priority
	CreatedAt time.Time

	seq int // insertion order, breaks ties when CreatedAt collides
}

// item is the heap element; index is maintained by container/heap for
// O(log N) removal, though this queue never removes by index directly.
type item struct {
	task  Task
	index int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i].task, h[j].task
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a bounded, priority-ordered, thread-safe task queue with
// cooperative single-waiter-wakes dequeue_wait semantics.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     itemHeap
	maxSize  int
	nextSeq  int
	closed   bool
}

// New creates a Queue bounded at maxSize entries. maxSize <= 0 means
// unbounded, matching spec §6's "max_queue_size ≥ 0" allowance.
func New(maxSize int) *Queue {
	q := &Queue{maxSize: maxSize}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a task, failing with ResourceLimit{QUEUE_FULL} at
// capacity. On success it wakes exactly one waiter.
func (q *Queue) Enqueue(id, text string, priority Priority, createdAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return cairnerrors.Fatal("QUEUE_CLOSED", "queue is closed", nil)
	}
	if q.maxSize > 0 && len(q.heap) >= q.maxSize {
		return cairnerrors.ResourceLimit("QUEUE_FULL", "priority queue is at capacity", nil).
			WithContext("current_size", len(q.heap)).
			WithContext("max_size", q.maxSize)
	}

	it := &item{task: Task{ID: id, Text: text, Priority: priority, CreatedAt: createdAt, seq: q.nextSeq}}
	q.nextSeq++
	heap.Push(&q.heap, it)
	q.cond.Signal()
	return nil
}

// Dequeue is non-blocking: it returns the highest-priority task, or
// ok=false if the queue is empty.
func (q *Queue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueLocked()
}

func (q *Queue) dequeueLocked() (Task, bool) {
	if len(q.heap) == 0 {
		return Task{}, false
	}
	it := heap.Pop(&q.heap).(*item)
	return it.task, true
}

// DequeueWait suspends until a task is available or the queue is
// Close()d, then returns it. Race-free against concurrent
// Enqueue/Clear/Close: the emptiness predicate is re-checked after
// every wakeup to tolerate the spurious wakes sync.Cond permits.
func (q *Queue) DequeueWait() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed && len(q.heap) == 0 {
		return Task{}, false
	}

	return q.dequeueLocked()
}

// Peek returns the highest-priority task without removing it.
func (q *Queue) Peek() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return Task{}, false
	}
	return q.heap[0].task, true
}

// Size returns the current number of queued tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// IsEmpty reports whether the queue has no tasks.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// IsFull reports whether the queue is at its bound.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSize > 0 && len(q.heap) >= q.maxSize
}

// ListAll returns a priority-ordered snapshot copy of all queued tasks.
func (q *Queue) ListAll() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := make(itemHeap, len(q.heap))
	copy(cp, q.heap)
	out := make([]Task, 0, len(cp))
	for cp.Len() > 0 {
		it := heap.Pop(&cp).(*item)
		out = append(out, it.task)
	}
	return out
}

// Clear discards all queued tasks.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = q.heap[:0]
}

// Close marks the queue closed and wakes all waiters, which then
// return ok=false. Used during orchestrator shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
