package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type task struct {
	name string
	run  func(context.Context) error
}

// TaskQueue runs post-stream work off the request path. Fire-and-forget:
// task errors are logged and swallowed, a full queue drops the task. Tasks
// run on a background context, so a client that has already disconnected
// cannot cancel scheduled persistence.
type TaskQueue struct {
	tasks   chan task
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewTaskQueue(buffer int, timeout time.Duration, logger *zap.Logger) *TaskQueue {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &TaskQueue{
		tasks:   make(chan task, buffer),
		timeout: timeout,
		logger:  logger,
	}
	q.wg.Add(1)
	go q.drain()
	return q
}

// Enqueue never blocks and never panics: a full queue drops the task, and a
// stream finishing after Close does too.
func (q *TaskQueue) Enqueue(name string, run func(context.Context) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("task queue closed, dropping task", zap.String("task", name))
		return
	}
	select {
	case q.tasks <- task{name: name, run: run}:
	default:
		q.logger.Warn("task queue full, dropping task", zap.String("task", name))
	}
}

func (q *TaskQueue) drain() {
	defer q.wg.Done()
	for t := range q.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := t.run(ctx); err != nil {
			q.logger.Warn("background task failed", zap.String("task", t.name), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting tasks and waits for the drain goroutine to finish
// everything already queued.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.tasks)
	})
	q.wg.Wait()
}
