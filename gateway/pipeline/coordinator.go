// Package pipeline drives each inbound message through admission, rate
// limiting, pause and sleep checks, classification, context assembly,
// generation, and dispatch. Messages from one contact run strictly in
// order; contacts run in parallel under a global ceiling.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/gateway/admission"
	"github.com/ghostwriter-im/ghostwriter/gateway/assemble"
	"github.com/ghostwriter-im/ghostwriter/gateway/classify"
	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/gateway/generate"
	"github.com/ghostwriter-im/ghostwriter/gateway/hts"
	"github.com/ghostwriter-im/ghostwriter/gateway/pause"
	"github.com/ghostwriter-im/ghostwriter/gateway/ratelimit"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

// Terminal states reported on the message_status event.
const (
	StatusDone     = "done"
	StatusDropped  = "dropped"
	StatusPending  = "pending"
	StatusPaused   = "paused"
	StatusDeferred = "deferred"
	StatusFailed   = "failed"
)

// StyleObserver receives every owner-authored outgoing message for style
// accumulation.
type StyleObserver interface {
	Observe(contactKey, content string)
}

// MetricsObserver receives the end-to-end latency of every finished
// message.
type MetricsObserver interface {
	ObservePipeline(status string, d time.Duration)
}

// Deps wires the coordinator to the rest of the gateway. Bus, Metrics,
// and Style may be nil in tests.
type Deps struct {
	Config     gateway.Config
	KV         kv.Store
	Store      *store.Store
	Bus        *events.Bus
	Gate       *admission.Gate
	Limiter    *ratelimit.Limiter
	Pauses     *pause.Controller
	Sleep      *pause.Sleep
	Classifier *classify.Classifier
	Assembler  *assemble.Assembler
	Generator  *generate.Generator
	Dispatcher *hts.Dispatcher
	Style      StyleObserver
	Metrics    MetricsObserver
}

// task carries a message plus its entry point through the pipeline.
type task struct {
	msg *channel.NormalizedMessage
	// reinjected tasks come from the deferred scheduler and re-enter at
	// the sleep check, admission and pause already settled.
	reinjected bool
}

const workerQueueSize = 32

type worker struct {
	queue chan task
}

// Coordinator owns the per-contact worker map and the global ceiling.
type Coordinator struct {
	deps Deps
	sem  *semaphore.Weighted

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup

	idleTimeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Coordinator.
func New(deps Deps) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	maxConc := deps.Config.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 8
	}
	return &Coordinator{
		deps:        deps,
		sem:         semaphore.NewWeighted(int64(maxConc)),
		workers:     make(map[string]*worker),
		idleTimeout: workerIdleTimeout,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Submit enqueues an inbound message on its contact's FIFO. This is the
// adapter sink; it must never block the receive loop, so a full contact
// queue drops the message with an error log.
func (c *Coordinator) Submit(msg *channel.NormalizedMessage) {
	c.enqueue(task{msg: msg})
}

// Reinject re-enters a sleep-deferred message at the sleep check.
func (c *Coordinator) Reinject(msg *channel.NormalizedMessage) {
	c.enqueue(task{msg: msg, reinjected: true})
}

func (c *Coordinator) enqueue(t task) {
	if err := t.msg.Validate(); err != nil {
		slog.Warn("rejecting malformed message", "error", err)
		return
	}
	contactKey := t.msg.ContactKey()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	w, ok := c.workers[contactKey]
	if !ok {
		w = &worker{queue: make(chan task, workerQueueSize)}
		c.workers[contactKey] = w
		c.wg.Add(1)
		go c.runWorker(contactKey, w)
	}
	// The send happens under the lock so idle retirement can never
	// observe an empty queue with a send still in flight. The queue is
	// buffered and the send non-blocking, so the lock is never held
	// across a wait.
	select {
	case w.queue <- t:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		slog.Error("contact queue full, dropping message",
			"contact", contactKey, "message", t.msg.ID)
	}
}

const workerIdleTimeout = 5 * time.Minute

// runWorker drains one contact's FIFO. The worker retires itself after
// sitting idle; retirement and enqueue race under the coordinator lock.
func (c *Coordinator) runWorker(contactKey string, w *worker) {
	defer c.wg.Done()
	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case t := <-w.queue:
			c.runTask(t)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.idleTimeout)
		case <-idle.C:
			c.mu.Lock()
			if len(w.queue) > 0 {
				// Lost the race with an enqueue, keep going.
				c.mu.Unlock()
				idle.Reset(c.idleTimeout)
				continue
			}
			delete(c.workers, contactKey)
			c.mu.Unlock()
			return
		case <-c.baseCtx.Done():
			return
		}
	}
}

func (c *Coordinator) runTask(t task) {
	if err := c.sem.Acquire(c.baseCtx, 1); err != nil {
		return
	}
	defer c.sem.Release(1)

	start := time.Now()
	status := c.process(c.baseCtx, t)
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObservePipeline(status, time.Since(start))
	}
	c.publishStatus(t.msg, status)
}

func (c *Coordinator) publishStatus(msg *channel.NormalizedMessage, status string) {
	slog.Debug("message finished",
		"message", msg.ID,
		"contact", msg.ContactKey(),
		"status", status,
	)
	if c.deps.Bus != nil {
		c.deps.Bus.Publish(events.TypeMessageStatus, map[string]any{
			"messageId":  msg.ID,
			"contactKey": msg.ContactKey(),
			"status":     status,
		})
	}
}

// defer stores the message on the deferred queue scored by wake time.
func (c *Coordinator) deferUntil(ctx context.Context, msg *channel.NormalizedMessage, wakeAt time.Time) string {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal deferred message", "error", err)
		return StatusFailed
	}
	if err := c.deps.KV.ZAdd(ctx, kv.KeyDeferred, wakeAt.UnixMilli(), string(payload)); err != nil {
		slog.Error("failed to defer message", "message", msg.ID, "error", err)
		return StatusFailed
	}
	slog.Info("message deferred until wake",
		"message", msg.ID,
		"contact", msg.ContactKey(),
		"wakeAt", wakeAt,
	)
	return StatusDeferred
}

// Close stops accepting work and waits for in-flight tasks.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
