package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is one stage run against one session.
type Task struct {
	SessionID string
	Kind      string
	Run       func()
}

// Queue is a bounded pool of workers that run stage tasks in the
// background. Enqueue never blocks: a full buffer is reported to the caller.
type Queue struct {
	logger  *slog.Logger
	workers int

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type QueueOption func(*Queue)

func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}

func NewQueue(logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger:  logger,
		workers: DefaultWorkers,
		ch:      make(chan Task, DefaultQueueSize),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("Worker started.", "workerId", workerID)

				for task := range q.ch {
					q.run(workerID, task)
				}

				q.logger.Debug("Worker stopped.", "workerId", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int, task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked.", "workerId", workerID, "sessionId", task.SessionID, "kind", task.Kind, "panic", fmt.Sprint(r))
		}
	}()
	task.Run()
	q.logger.Info("Task finished.", "workerId", workerID, "sessionId", task.SessionID, "kind", task.Kind, "durationMs", time.Since(start).Milliseconds())
}

func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("Cannot enqueue: queue is shutting down.", "sessionId", task.SessionID, "kind", task.Kind)
		return ErrQueueClosed
	}
	select {
	case q.ch <- task:
		q.logger.Info("Queued task.", "sessionId", task.SessionID, "kind", task.Kind)
		return nil
	default:
		q.logger.Warn("Queue full, rejecting task.", "sessionId", task.SessionID, "kind", task.Kind)
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued tasks to drain or ctx to end.
// It reports whether the queue drained.
func (q *Queue) Shutdown(ctx context.Context) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return true
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("Shutdown interrupted by context.")
		return false
	case <-done:
		q.logger.Info("Queue drained, shutdown complete.")
		return true
	}
}
