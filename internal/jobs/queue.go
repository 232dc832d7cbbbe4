package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-repoflow/internal/port"
)

// ErrTaskInProgress is returned by Submit when a task with the same key is
// queued or running.
var ErrTaskInProgress = errors.New("task already queued or running")

// Task is a unit of background work. It must return promptly once ctx is done.
// Every accepted task is run exactly once, including tasks cancelled before a
// worker picked them up; those see an already-done ctx and can settle state.
type Task func(ctx context.Context) error

// Handle tracks one submitted task.
type Handle struct {
	ID  string
	Key string

	task   Task
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	ctx    context.Context
}

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task error once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(err error) {
	h.err = err
	h.cancel()
	close(h.done)
}

// Queue runs tasks on a fixed pool of workers with at most one task per key.
type Queue struct {
	workers int
	tasks   chan *Handle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*Handle
	closed  bool
	started bool

	logger *slog.Logger
}

// NewQueue creates a queue with the given worker count and backlog size.
func NewQueue(workers, size int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		workers: workers,
		tasks:   make(chan *Handle, size),
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[string]*Handle),
		logger:  logger,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("task queue started", "workers", q.workers, "backlog", cap(q.tasks))
}

// Submit enqueues task under key.
func (q *Queue) Submit(key string, task Task) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, port.ErrQueueClosed
	}
	if h, ok := q.active[key]; ok {
		return h, fmt.Errorf("%w: %s", ErrTaskInProgress, key)
	}

	ctx, cancel := context.WithCancel(q.ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		Key:    key,
		task:   task,
		done:   make(chan struct{}),
		cancel: cancel,
		ctx:    ctx,
	}

	select {
	case q.tasks <- h:
	default:
		cancel()
		return nil, port.ErrQueueFull
	}
	q.active[key] = h
	return h, nil
}

// Active returns the handle of the task queued or running under key.
func (q *Queue) Active(key string) (*Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.active[key]
	return h, ok
}

// Cancel cancels the task under key. It reports whether one was found.
func (q *Queue) Cancel(key string) bool {
	q.mu.Lock()
	h, ok := q.active[key]
	q.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// Shutdown stops accepting tasks and waits for queued and running ones. When
// ctx expires first, every task is cancelled, the backlog still runs against
// the cancelled ctx, and ctx.Err is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		q.cancel()
		for h := range q.tasks {
			q.execute(-1, h)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	for h := range q.tasks {
		q.execute(n, h)
	}
}

func (q *Queue) execute(n int, h *Handle) {
	if h.ctx.Err() != nil {
		q.logger.Debug("task cancelled before start", "key", h.Key, "task_id", h.ID)
	} else {
		q.logger.Debug("task started", "worker", n, "key", h.Key, "task_id", h.ID)
	}
	err := q.safeRun(h.ctx, h.task)
	if err != nil {
		q.logger.Warn("task failed", "key", h.Key, "task_id", h.ID, "error", err)
	}
	q.complete(h, err)
}

func (q *Queue) safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (q *Queue) complete(h *Handle, err error) {
	q.mu.Lock()
	if q.active[h.Key] == h {
		delete(q.active, h.Key)
	}
	q.mu.Unlock()
	h.finish(err)
}
