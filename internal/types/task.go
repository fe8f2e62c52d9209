package types

import (
	"time"
)

// =============================================================================
// TASK TYPES
// =============================================================================

// TaskStatus is the lifecycle state of a deferred work item.
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"        // created, not yet picked up
	TaskAwaitingInput TaskStatus = "awaiting_input" // worker needs a caller-supplied choice
	TaskRunning       TaskStatus = "running"        // a dispatch is in flight
	TaskDone          TaskStatus = "done"           // terminal: completed
	TaskCancelled     TaskStatus = "cancelled"      // terminal: abandoned
)

// Terminal reports whether the status is final. Terminal tasks reject
// further dispatches.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskCancelled
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskAwaitingInput, TaskRunning, TaskDone, TaskCancelled:
		return true
	}
	return false
}

// Task is a durable, named unit of deferred work bound to a room. Created
// by an action; mutated only through the task queue, which serializes
// dispatches per task.
type Task struct {
	ID         string         `json:"id"`
	RoomID     string         `json:"room_id"`
	Name       string         `json:"name"`
	WorkerName string         `json:"worker_name"`
	Status     TaskStatus     `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"` // e.g. options the worker accepts
	Result     map[string]any `json:"result,omitempty"`   // written by the worker on completion
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Clone returns a deep-enough copy for handing across goroutines: maps are
// copied one level deep, which covers every mutation the queue performs.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.Result != nil {
		cp.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			cp.Result[k] = v
		}
	}
	return &cp
}
