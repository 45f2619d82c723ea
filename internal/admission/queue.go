package admission

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// ErrQueueFull rejects submissions at capacity (503-equivalent).
var ErrQueueFull = errors.New("admission queue full")

// ErrClosed rejects submissions after shutdown began.
var ErrClosed = errors.New("admission layer closed")

// queuedRequest is one unit of queued work. Ordering is strictly by
// priority, FIFO within a level via the monotonic sequence number.
type queuedRequest struct {
	id          string
	priority    models.Priority
	enqueuedAt  time.Time
	seq         uint64
	attempts    int
	maxAttempts int
	deadline    time.Duration
	handler     Handler
	result      chan outcome
}

type outcome struct {
	value any
	err   error
}

// requestHeap implements heap.Interface: higher priority first, lower
// sequence (earlier enqueue) breaks ties.
type requestHeap []*queuedRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*queuedRequest)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue is the concurrency-safe bounded queue the workers drain.
type priorityQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    requestHeap
	maxSize int
	nextSeq uint64
	closed  bool
}

func newPriorityQueue(maxSize int) *priorityQueue {
	q := &priorityQueue{maxSize: maxSize}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a request, failing fast at capacity.
func (q *priorityQueue) push(req *queuedRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if len(q.heap) >= q.maxSize {
		return ErrQueueFull
	}

	req.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, req)
	q.cond.Signal()
	return nil
}

// pop blocks until a request is available or the queue is closed.
func (q *priorityQueue) pop() (*queuedRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&q.heap).(*queuedRequest), true
}

func (q *priorityQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// close wakes all waiting workers. Queued requests drain normally.
func (q *priorityQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
