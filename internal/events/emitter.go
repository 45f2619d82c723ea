package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rawblock/txguard-engine/internal/db"
	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Scan-Event Emitter
//
// The pipeline enqueues one ScanEvent per completed scan before the
// response is returned; delivery to the sinks happens asynchronously.
// Enqueue never blocks — on a full buffer the event is dropped and
// counted. Lost events are acceptable; delayed responses are not.
// ──────────────────────────────────────────────────────────────────────

const (
	emitBuffer      = 1024
	deliveryTimeout = 5 * time.Second
)

// Sink receives emitted scan events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev models.ScanEvent) error
}

// Emitter fans scan events out to all registered sinks.
type Emitter struct {
	sinks   []Sink
	queue   chan models.ScanEvent
	dropped atomic.Int64
	emitted atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEmitter starts the delivery loop. Sinks are fixed for the life of
// the emitter.
func NewEmitter(sinks ...Sink) *Emitter {
	e := &Emitter{
		sinks: sinks,
		queue: make(chan models.ScanEvent, emitBuffer),
	}
	e.wg.Add(1)
	go e.deliveryLoop()
	return e
}

// Enqueue hands one event to the delivery loop. Non-blocking.
func (e *Emitter) Enqueue(ev models.ScanEvent) {
	select {
	case e.queue <- ev:
		e.emitted.Add(1)
	default:
		if e.dropped.Add(1)%100 == 1 {
			log.Printf("[Events] Buffer full; dropping scan events (%d dropped so far)", e.dropped.Load())
		}
	}
}

// Stats reports emitted and dropped counts.
func (e *Emitter) Stats() (emitted, dropped int64) {
	return e.emitted.Load(), e.dropped.Load()
}

// Close drains the buffer and stops the delivery loop.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.queue)
	})
	e.wg.Wait()
}

func (e *Emitter) deliveryLoop() {
	defer e.wg.Done()
	for ev := range e.queue {
		for _, sink := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			if err := sink.Deliver(ctx, ev); err != nil {
				log.Printf("[Events] Sink %s delivery error for scan %s: %v", sink.Name(), ev.ScanID, err)
			}
			cancel()
		}
	}
}

// ─── Postgres sink ───

// PostgresSink persists events into the scan_events table.
type PostgresSink struct {
	store *db.PostgresStore
}

func NewPostgresSink(store *db.PostgresStore) *PostgresSink {
	return &PostgresSink{store: store}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Deliver(ctx context.Context, ev models.ScanEvent) error {
	return s.store.SaveScanEvent(ctx, ev)
}

// ─── Broadcast sink ───

// BroadcastSink pushes events as JSON to a fan-out callback (the
// websocket hub).
type BroadcastSink struct {
	broadcast func([]byte)
}

func NewBroadcastSink(broadcast func([]byte)) *BroadcastSink {
	return &BroadcastSink{broadcast: broadcast}
}

func (s *BroadcastSink) Name() string { return "broadcast" }

func (s *BroadcastSink) Deliver(_ context.Context, ev models.ScanEvent) error {
	payload, err := json.Marshal(map[string]any{"type": "scan_event", "data": ev})
	if err != nil {
		return err
	}
	s.broadcast(payload)
	return nil
}

// ─── Func sink ───

// FuncSink adapts a plain function; used by the alert bridge and tests.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, ev models.ScanEvent) error
}

func (s *FuncSink) Name() string { return s.SinkName }

func (s *FuncSink) Deliver(ctx context.Context, ev models.ScanEvent) error {
	return s.Fn(ctx, ev)
}
