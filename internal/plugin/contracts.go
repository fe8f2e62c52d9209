// Package plugin defines the contracts capabilities implement and the
// narrow runtime surface they are handed. Everything the agent can do
// arrives through one of these interfaces; the core never switches on
// concrete types.
package plugin

import (
	"context"

	"reverie/internal/types"
)

// Kind classifies a capability.
type Kind string

const (
	KindAction    Kind = "action"    // validates and executes model-chosen behavior
	KindProvider  Kind = "provider"  // contributes a state fragment
	KindEvaluator Kind = "evaluator" // post-response reflection
	KindService   Kind = "service"   // long-running background component
	KindWorker    Kind = "worker"    // executes deferred tasks
)

// Callback delivers an action's output events to the pipeline. Actions
// never persist or send events themselves; everything they produce goes
// through the callback so the pipeline controls ordering and persistence.
type Callback func(ctx context.Context, ev *types.Event) error

// Action is a behavior the model can select by name. Validate is a
// cheap predicate; an action that fails validation is skipped without
// aborting the run. Execute receives the full decision so text-bearing
// actions can read the drafted reply.
type Action interface {
	Name() string
	Description() string
	Validate(ctx context.Context, rt Runtime, ev *types.Event) (bool, error)
	Execute(ctx context.Context, rt Runtime, ev *types.Event, dec *types.Decision, emit Callback) error
}

// Provider contributes one named fragment to the composed state. A
// provider that errors or panics contributes nothing; it cannot fail
// the composition.
type Provider interface {
	Name() string
	Get(ctx context.Context, rt Runtime, ev *types.Event) (types.Fragment, error)
}

// Prioritized is implemented by providers that need a slot other than
// declaration order. Lower values compose earlier, so later providers
// overwrite them on key collisions.
type Prioritized interface {
	Priority() int
}

// Evaluator runs after a response is delivered. Failures are logged and
// never affect the response.
type Evaluator interface {
	Name() string
	ShouldRun(ctx context.Context, rt Runtime, ev *types.Event) bool
	Run(ctx context.Context, rt Runtime, ev *types.Event) error
}

// Service is a long-running component tied to the agent's lifecycle.
type Service interface {
	Name() string
	Start(ctx context.Context, rt Runtime) error
	Stop(ctx context.Context) error
}

// Worker executes one dispatch of a deferred task. The returned status
// becomes the task's new status; returning an error leaves the task in
// its pre-dispatch state.
type Worker interface {
	Name() string
	Run(ctx context.Context, rt Runtime, task *types.Task, input map[string]any) (types.TaskStatus, error)
}
