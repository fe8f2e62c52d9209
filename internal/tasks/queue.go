// Package tasks runs deferred work. A task is created in a room, names
// the worker that will execute it, and moves through its lifecycle one
// dispatch at a time; the worker's return value decides the next status.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"reverie/internal/logging"
	"reverie/internal/plugin"
	"reverie/internal/types"
)

var (
	// ErrWorkerNotFound reports a dispatch whose task names a worker
	// nobody registered. The task keeps its prior status.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrAlreadyTerminal reports a dispatch against a done or cancelled
	// task. Terminal states are final.
	ErrAlreadyTerminal = errors.New("task already terminal")

	// ErrDuplicateWorker reports a second registration under one name.
	ErrDuplicateWorker = errors.New("worker already registered")
)

// Persistence is the slice of the store the queue needs.
type Persistence interface {
	CreateTask(ctx context.Context, t *types.Task) error
	Task(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, t *types.Task) error
	TasksByRoom(ctx context.Context, roomID string, limit int) ([]*types.Task, error)
}

// Queue owns task lifecycle. Dispatches against the same task are
// serialized; different tasks run independently.
type Queue struct {
	store Persistence

	mu        sync.Mutex // guards workers and taskLocks
	workers   map[string]plugin.Worker
	taskLocks map[string]*sync.Mutex

	rt plugin.Runtime // bound after construction, before serving
}

var _ plugin.Tasks = (*Queue)(nil)

// NewQueue builds a queue over the given persistence.
func NewQueue(store Persistence) *Queue {
	return &Queue{
		store:     store,
		workers:   make(map[string]plugin.Worker),
		taskLocks: make(map[string]*sync.Mutex),
	}
}

// BindRuntime attaches the runtime handed to workers. Must be called
// before the first dispatch.
func (q *Queue) BindRuntime(rt plugin.Runtime) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rt = rt
}

// RegisterWorker makes a worker dispatchable under its name.
func (q *Queue) RegisterWorker(w plugin.Worker) error {
	if w == nil || w.Name() == "" {
		return fmt.Errorf("tasks: worker requires a name")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.workers[w.Name()]; exists {
		return fmt.Errorf("%s: %w", w.Name(), ErrDuplicateWorker)
	}
	q.workers[w.Name()] = w
	logging.Tasks("Registered worker %q", w.Name())
	return nil
}

// Create persists a new task. Creating a task whose worker is not yet
// registered is allowed; the gap surfaces at dispatch time.
func (q *Queue) Create(ctx context.Context, task *types.Task) (*types.Task, error) {
	if task == nil {
		return nil, fmt.Errorf("tasks: nil task")
	}
	if task.WorkerName == "" {
		return nil, fmt.Errorf("tasks: task requires a worker name")
	}
	if err := q.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

// Get returns a task by ID.
func (q *Queue) Get(ctx context.Context, id string) (*types.Task, error) {
	return q.store.Task(ctx, id)
}

// Dispatch hands the task to its worker, with the caller's input, and
// applies the returned status. Failure modes leave the task exactly as
// it was: unknown worker, worker error, worker panic, and invalid
// returned status all keep the prior status. Terminal tasks reject the
// dispatch outright.
func (q *Queue) Dispatch(ctx context.Context, id string, input map[string]any) (*types.Task, error) {
	timer := logging.StartTimer(logging.CategoryTasks, "Dispatch")
	defer timer.Stop()

	lock := q.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	task, err := q.store.Task(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, ErrAlreadyTerminal)
	}

	worker := q.worker(task.WorkerName)
	if worker == nil {
		logging.TasksWarn("Dispatch of %s failed: no worker %q", task.ID, task.WorkerName)
		return nil, fmt.Errorf("task %s needs worker %q: %w", task.ID, task.WorkerName, ErrWorkerNotFound)
	}

	prev := task.Status
	task.Status = types.TaskRunning
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to mark task running: %w", err)
	}

	next, err := q.runWorker(ctx, worker, task, input)
	if err != nil {
		task.Status = prev
		if uerr := q.store.UpdateTask(ctx, task); uerr != nil {
			logging.TasksWarn("Failed to restore task %s to %s: %v", task.ID, prev, uerr)
		}
		return nil, fmt.Errorf("worker %q failed on task %s: %w", worker.Name(), task.ID, err)
	}
	if !next.Valid() || next == types.TaskRunning {
		task.Status = prev
		if uerr := q.store.UpdateTask(ctx, task); uerr != nil {
			logging.TasksWarn("Failed to restore task %s to %s: %v", task.ID, prev, uerr)
		}
		return nil, fmt.Errorf("worker %q returned invalid status %q for task %s", worker.Name(), next, task.ID)
	}

	task.Status = next
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task %s: %w", task.ID, err)
	}

	logging.Tasks("Task %s: %s -> %s (worker=%s)", task.ID, prev, next, worker.Name())
	return task.Clone(), nil
}

// Pending lists a room's open (non-terminal) tasks.
func (q *Queue) Pending(ctx context.Context, roomID string) ([]*types.Task, error) {
	all, err := q.store.TasksByRoom(ctx, roomID, 0)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, t := range all {
		if !t.Status.Terminal() {
			open = append(open, t)
		}
	}
	return open, nil
}

// runWorker isolates worker panics so a crashing plugin cannot take the
// queue down with it.
func (q *Queue) runWorker(ctx context.Context, w plugin.Worker, task *types.Task, input map[string]any) (status types.TaskStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.TasksWarn("Worker %q panicked on task %s: %v", w.Name(), task.ID, r)
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()

	q.mu.Lock()
	rt := q.rt
	q.mu.Unlock()

	return w.Run(ctx, rt, task, input)
}

func (q *Queue) worker(name string) plugin.Worker {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.workers[name]
}

func (q *Queue) taskLock(id string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.taskLocks[id]
	if !ok {
		l = &sync.Mutex{}
		q.taskLocks[id] = l
	}
	return l
}
