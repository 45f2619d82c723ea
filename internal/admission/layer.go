package admission

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/txguard-engine/internal/config"
	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Admission Layer
//
// Every scan passes through here before any analyzer runs:
//
//   bounded priority queue (CRITICAL > HIGH > NORMAL > LOW, FIFO within
//   a level) → fixed worker pool → concurrency-limit slot → handler
//   under the request deadline.
//
// Timeouts are retried while attempts remain; handler errors are not.
// A rolling-window circuit breaker rejects new submissions after
// repeated failures so a degraded downstream cannot pile up queued
// work.
// ──────────────────────────────────────────────────────────────────────

const defaultMaxAttempts = 2

// Handler is the unit of admitted work.
type Handler func(ctx context.Context) (any, error)

// Layer is the admission front of the scan service.
type Layer struct {
	queue   *priorityQueue
	breaker *windowBreaker
	slots   chan struct{}

	workerCount int
	maxQueue    int
	wg          sync.WaitGroup
	closeOnce   sync.Once

	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timeouts  atomic.Int64
	retries   atomic.Int64
	rejected  atomic.Int64

	waitTimes       *sampleDeque
	processingTimes *sampleDeque
}

// NewLayer starts the worker pool.
func NewLayer(cfg config.Config) *Layer {
	maxQueue := cfg.QueueMaxSize
	if maxQueue <= 0 {
		maxQueue = 1000
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 20
	}
	limit := cfg.ConcurrencyLimit
	if limit < workers {
		limit = workers
	}

	l := &Layer{
		queue:           newPriorityQueue(maxQueue),
		breaker:         newWindowBreaker(cfg.CircuitBreakerTrips, cfg.CircuitBreakerReset, cfg.CircuitBreakerReset),
		slots:           make(chan struct{}, limit),
		workerCount:     workers,
		maxQueue:        maxQueue,
		waitTimes:       newSampleDeque(1000),
		processingTimes: newSampleDeque(1000),
	}

	l.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go l.worker()
	}
	log.Printf("[Admission] Started: %d workers, queue %d, concurrency limit %d", workers, maxQueue, limit)
	return l
}

// Submit enqueues one request and blocks until its handler finishes,
// the handler's retries are exhausted, or the caller's context expires.
// deadline bounds one handler attempt.
func (l *Layer) Submit(ctx context.Context, priority models.Priority, deadline time.Duration, handler Handler) (any, error) {
	if !l.breaker.allow() {
		l.rejected.Add(1)
		return nil, ErrBreakerOpen
	}

	req := &queuedRequest{
		id:          uuid.New().String(),
		priority:    priority,
		enqueuedAt:  time.Now(),
		maxAttempts: defaultMaxAttempts,
		deadline:    deadline,
		handler:     handler,
		result:      make(chan outcome, 1),
	}

	if err := l.queue.push(req); err != nil {
		l.rejected.Add(1)
		return nil, err
	}
	l.total.Add(1)

	select {
	case out := <-req.result:
		return out.value, out.err
	case <-ctx.Done():
		// The worker will still run the request; nobody is listening.
		return nil, ctx.Err()
	}
}

func (l *Layer) worker() {
	defer l.wg.Done()
	for {
		req, ok := l.queue.pop()
		if !ok {
			return
		}

		l.waitTimes.add(time.Since(req.enqueuedAt))

		l.slots <- struct{}{}
		l.execute(req)
		<-l.slots
	}
}

// execute runs one attempt and settles or re-enqueues the request.
func (l *Layer) execute(req *queuedRequest) {
	req.attempts++

	ctx := context.Background()
	var cancel context.CancelFunc
	if req.deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := time.Now()
	value, err := runGuarded(ctx, req.handler)
	l.processingTimes.add(time.Since(start))

	switch {
	case err == nil:
		l.completed.Add(1)
		l.breaker.recordSuccess()
		req.result <- outcome{value: value}

	case errors.Is(err, context.DeadlineExceeded):
		l.timeouts.Add(1)
		if req.attempts < req.maxAttempts {
			l.retries.Add(1)
			if pushErr := l.queue.push(req); pushErr == nil {
				return
			}
			// Queue filled up while we were running; settle as failed.
		}
		l.failed.Add(1)
		l.breaker.recordFailure()
		req.result <- outcome{err: err}

	default:
		// Handler errors are terminal: no automatic retry.
		l.failed.Add(1)
		l.breaker.recordFailure()
		req.result <- outcome{err: err}
	}
}

// runGuarded converts a handler panic into an error so one bad request
// cannot take a worker down.
func runGuarded(ctx context.Context, h Handler) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Admission] PANIC in handler: %v", r)
			err = errors.New("handler panic")
		}
	}()
	return h(ctx)
}

// Stats snapshots the layer's counters.
func (l *Layer) Stats() Stats {
	total := l.total.Load()
	completed := l.completed.Load()
	successRate := 0.0
	if total > 0 {
		successRate = float64(completed) / float64(total)
	}
	return Stats{
		Total:            total,
		Completed:        completed,
		Failed:           l.failed.Load(),
		Timeouts:         l.timeouts.Load(),
		Retries:          l.retries.Load(),
		Rejected:         l.rejected.Load(),
		CurrentQueueSize: l.queue.size(),
		MaxQueueSize:     l.maxQueue,
		SuccessRate:      successRate,
		AvgWaitMs:        l.waitTimes.averageMs(),
		AvgProcessingMs:  l.processingTimes.averageMs(),
		BreakerState:     l.breaker.state(),
	}
}

// QueueSize reports the number of queued, not-yet-admitted requests.
func (l *Layer) QueueSize() int {
	return l.queue.size()
}

// BreakerState exposes the breaker for health reporting.
func (l *Layer) BreakerState() string {
	return l.breaker.state()
}

// Close stops accepting work and waits for the workers to drain.
func (l *Layer) Close() {
	l.closeOnce.Do(func() {
		l.queue.close()
	})
	l.wg.Wait()
}
