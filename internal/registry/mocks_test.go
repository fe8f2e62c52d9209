package registry

import (
	"context"

	"reverie/internal/plugin"
	"reverie/internal/types"
)

// Minimal capability stubs. Registry tests only care about identity and
// contract satisfaction, not behavior.

type stubAction struct{ name string }

func (a *stubAction) Name() string        { return a.name }
func (a *stubAction) Description() string { return "stub" }
func (a *stubAction) Validate(ctx context.Context, rt plugin.Runtime, ev *types.Event) (bool, error) {
	return true, nil
}
func (a *stubAction) Execute(ctx context.Context, rt plugin.Runtime, ev *types.Event, dec *types.Decision, emit plugin.Callback) error {
	return nil
}

type stubProvider struct{ name string }

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) Get(ctx context.Context, rt plugin.Runtime, ev *types.Event) (types.Fragment, error) {
	return types.Fragment{p.name: "ok"}, nil
}

type stubEvaluator struct{ name string }

func (e *stubEvaluator) Name() string { return e.name }
func (e *stubEvaluator) ShouldRun(ctx context.Context, rt plugin.Runtime, ev *types.Event) bool {
	return true
}
func (e *stubEvaluator) Run(ctx context.Context, rt plugin.Runtime, ev *types.Event) error {
	return nil
}

type stubService struct{ name string }

func (s *stubService) Name() string                                    { return s.name }
func (s *stubService) Start(ctx context.Context, rt plugin.Runtime) error { return nil }
func (s *stubService) Stop(ctx context.Context) error                  { return nil }

type stubWorker struct{ name string }

func (w *stubWorker) Name() string { return w.name }
func (w *stubWorker) Run(ctx context.Context, rt plugin.Runtime, task *types.Task, input map[string]any) (types.TaskStatus, error) {
	return types.TaskDone, nil
}

var (
	_ plugin.Action    = (*stubAction)(nil)
	_ plugin.Provider  = (*stubProvider)(nil)
	_ plugin.Evaluator = (*stubEvaluator)(nil)
	_ plugin.Service   = (*stubService)(nil)
	_ plugin.Worker    = (*stubWorker)(nil)
)
