package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"reverie/internal/plugin"
	"reverie/internal/types"
)

// memPersistence is an in-memory task table so queue semantics can be
// tested without a database.
type memPersistence struct {
	mu    sync.Mutex
	tasks map[string]*types.Task

	failUpdate bool
}

func newMemPersistence() *memPersistence {
	return &memPersistence{tasks: make(map[string]*types.Task)}
}

func (m *memPersistence) CreateTask(ctx context.Context, t *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memPersistence) Task(ctx context.Context, id string) (*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return t.Clone(), nil
}

func (m *memPersistence) UpdateTask(ctx context.Context, t *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate {
		return fmt.Errorf("injected update failure")
	}
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s not found", t.ID)
	}
	t.UpdatedAt = time.Now().UTC()
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memPersistence) TasksByRoom(ctx context.Context, roomID string, limit int) ([]*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Task
	for _, t := range m.tasks {
		if t.RoomID == roomID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// status reads a task's persisted status directly, bypassing the queue.
func (m *memPersistence) status(id string) types.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return t.Status
	}
	return ""
}

// MockWorker is a scriptable worker.
type MockWorker struct {
	WorkerName string
	RunFunc    func(ctx context.Context, rt plugin.Runtime, task *types.Task, input map[string]any) (types.TaskStatus, error)

	mu    sync.Mutex
	calls int
}

var _ plugin.Worker = (*MockWorker)(nil)

func (w *MockWorker) Name() string { return w.WorkerName }

func (w *MockWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *MockWorker) Run(ctx context.Context, rt plugin.Runtime, task *types.Task, input map[string]any) (types.TaskStatus, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	if w.RunFunc != nil {
		return w.RunFunc(ctx, rt, task, input)
	}
	return types.TaskDone, nil
}
