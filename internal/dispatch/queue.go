// Package dispatch serializes all outbound network calls on a single
// background worker so the journal classification path never blocks on I/O.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"colonybridge/internal/metrics"
)

// Task is one deferred call. It runs exactly once on the worker goroutine
// and is discarded afterwards whether it succeeds or not.
type Task func(ctx context.Context) error

// Notifier receives user-visible notices about task failures. Implementations
// must not block.
type Notifier interface {
	Notify(level, message string)
}

type item struct {
	id   string
	name string
	fn   Task // nil is the shutdown sentinel
}

// Queue is a first-in-first-out task queue drained by one worker. Enqueue
// never blocks: when the buffer is full the task is dropped with a logged
// notice, which the bridge prefers over stalling journal processing.
type Queue struct {
	ch       chan item
	done     chan struct{}
	log      *zap.Logger
	notifier Notifier
	taskTTL  time.Duration
	closed   atomic.Bool
}

func New(size int, taskTTL time.Duration, log *zap.Logger, n Notifier) *Queue {
	if size <= 0 {
		size = 256
	}
	if taskTTL <= 0 {
		taskTTL = 30 * time.Second
	}
	return &Queue{
		ch:       make(chan item, size),
		done:     make(chan struct{}),
		log:      log.Named("dispatch"),
		notifier: n,
		taskTTL:  taskTTL,
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start() {
	go q.run()
}

// Enqueue adds a task. Returns false when the queue is shut down or full;
// the task will never run in that case.
func (q *Queue) Enqueue(name string, fn Task) bool {
	if fn == nil || q.closed.Load() {
		return false
	}
	it := item{id: uuid.New().String(), name: name, fn: fn}
	select {
	case q.ch <- it:
		metrics.QueueDepth.Inc()
		return true
	default:
		metrics.DispatchTasks.WithLabelValues(name, "dropped").Inc()
		q.log.Error("dispatch queue full, dropping task", zap.String("task", name), zap.String("id", it.id))
		return false
	}
}

// Close stops accepting tasks, signals the worker with a sentinel and waits
// up to timeout for it to drain and exit.
func (q *Queue) Close(timeout time.Duration) error {
	if q.closed.Swap(true) {
		return nil
	}
	select {
	case q.ch <- item{}:
	case <-time.After(timeout):
		return fmt.Errorf("dispatch queue: sentinel not accepted within %s", timeout)
	}
	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("dispatch queue: worker did not drain within %s", timeout)
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for it := range q.ch {
		if it.fn == nil {
			return
		}
		metrics.QueueDepth.Dec()
		q.exec(it)
	}
}

// exec runs one task with panic containment. A failing task is logged and
// surfaced as a notice; it never reaches the producer.
func (q *Queue) exec(it item) {
	ctx, cancel := context.WithTimeout(context.Background(), q.taskTTL)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = it.fn(ctx)
	}()

	if err != nil {
		metrics.DispatchTasks.WithLabelValues(it.name, "error").Inc()
		q.log.Error("task failed", zap.String("task", it.name), zap.String("id", it.id), zap.Error(err))
		if q.notifier != nil {
			q.notifier.Notify("error", fmt.Sprintf("%s failed: %v", it.name, err))
		}
		return
	}
	metrics.DispatchTasks.WithLabelValues(it.name, "ok").Inc()
}
