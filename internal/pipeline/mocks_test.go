package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"reverie/internal/composer"
	"reverie/internal/plugin"
	"reverie/internal/registry"
	"reverie/internal/store"
	"reverie/internal/types"
)

// testRuntime backs pipeline tests with a real store and a scripted
// model. Tasks and Settings are nil; nothing in these tests reaches
// them.
type testRuntime struct {
	card  types.AgentCard
	mem   *store.Store
	model *MockModel
}

var _ plugin.Runtime = (*testRuntime)(nil)
var _ plugin.Memory = (*store.Store)(nil)

func (r *testRuntime) Agent() types.AgentCard    { return r.card }
func (r *testRuntime) Memory() plugin.Memory     { return r.mem }
func (r *testRuntime) Tasks() plugin.Tasks       { return nil }
func (r *testRuntime) Model() plugin.Model       { return r.model }
func (r *testRuntime) Settings() plugin.Settings { return nil }

// MockModel scripts the decision call and counts concurrency per room
// so tests can assert the single-flight rule.
type MockModel struct {
	CompleteFunc func(ctx context.Context, tier types.ModelTier, system, prompt string) (string, error)

	mu       sync.Mutex
	calls    int
	inflight int
	maxSeen  int
}

var _ plugin.Model = (*MockModel)(nil)

func (m *MockModel) Complete(ctx context.Context, tier types.ModelTier, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, tier, "", prompt)
}

func (m *MockModel) CompleteWithSystem(ctx context.Context, tier types.ModelTier, system, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.inflight++
	if m.inflight > m.maxSeen {
		m.maxSeen = m.inflight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, tier, system, prompt)
	}
	return `{"thought":"ok","actions":["IGNORE"],"text":""}`, nil
}

func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockModel) MaxInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSeen
}

// testAction is a scriptable action. The zero value validates true and
// executes as a no-op.
type testAction struct {
	name     string
	validate func(ctx context.Context, rt plugin.Runtime, ev *types.Event) (bool, error)
	execute  func(ctx context.Context, rt plugin.Runtime, ev *types.Event, dec *types.Decision, emit plugin.Callback) error
}

var _ plugin.Action = (*testAction)(nil)

func (a *testAction) Name() string        { return a.name }
func (a *testAction) Description() string { return "test action" }

func (a *testAction) Validate(ctx context.Context, rt plugin.Runtime, ev *types.Event) (bool, error) {
	if a.validate == nil {
		return true, nil
	}
	return a.validate(ctx, rt, ev)
}

func (a *testAction) Execute(ctx context.Context, rt plugin.Runtime, ev *types.Event, dec *types.Decision, emit plugin.Callback) error {
	if a.execute == nil {
		return nil
	}
	return a.execute(ctx, rt, ev, dec, emit)
}

// testProvider records which events it saw and serves a fixed fragment.
type testProvider struct {
	name string
	frag types.Fragment

	mu    sync.Mutex
	calls int
}

var _ plugin.Provider = (*testProvider)(nil)

func (p *testProvider) Name() string { return p.name }

func (p *testProvider) Get(ctx context.Context, rt plugin.Runtime, ev *types.Event) (types.Fragment, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.frag == nil {
		return types.Fragment{p.name: "on"}, nil
	}
	return p.frag, nil
}

func (p *testProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// testEvaluator is a scriptable evaluator defaulting to "run, succeed".
type testEvaluator struct {
	name      string
	shouldRun func(ctx context.Context, rt plugin.Runtime, ev *types.Event) bool
	run       func(ctx context.Context, rt plugin.Runtime, ev *types.Event) error

	mu   sync.Mutex
	runs int
}

var _ plugin.Evaluator = (*testEvaluator)(nil)

func (e *testEvaluator) Name() string { return e.name }

func (e *testEvaluator) ShouldRun(ctx context.Context, rt plugin.Runtime, ev *types.Event) bool {
	if e.shouldRun == nil {
		return true
	}
	return e.shouldRun(ctx, rt, ev)
}

func (e *testEvaluator) Run(ctx context.Context, rt plugin.Runtime, ev *types.Event) error {
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	return e.run(ctx, rt, ev)
}

func (e *testEvaluator) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

// fixture wires a pipeline over a real temp-dir store.
type fixture struct {
	pipe  *Pipeline
	rt    *testRuntime
	reg   *registry.Registry
	store *store.Store
	model *MockModel
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(store.DefaultOptions(filepath.Join(dir, "test.db")))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mdl := &MockModel{}
	rt := &testRuntime{
		card:  types.AgentCard{ID: "agent-1", Name: "Reverie", Username: "reverie"},
		mem:   st,
		model: mdl,
	}
	reg := registry.New()
	pipe := New(rt, reg, composer.New(reg, nil), cfg)
	t.Cleanup(pipe.Close)

	return &fixture{pipe: pipe, rt: rt, reg: reg, store: st, model: mdl}
}

// registerAction registers an action or fails the test.
func (f *fixture) registerAction(t *testing.T, a plugin.Action) {
	t.Helper()
	err := f.reg.Register(registry.Registration{Kind: plugin.KindAction, Name: a.Name(), Impl: a})
	if err != nil {
		t.Fatalf("register action %s: %v", a.Name(), err)
	}
}

func (f *fixture) registerProvider(t *testing.T, p plugin.Provider) {
	t.Helper()
	err := f.reg.Register(registry.Registration{Kind: plugin.KindProvider, Name: p.Name(), Impl: p})
	if err != nil {
		t.Fatalf("register provider %s: %v", p.Name(), err)
	}
}

func (f *fixture) registerEvaluator(t *testing.T, e plugin.Evaluator) {
	t.Helper()
	err := f.reg.Register(registry.Registration{Kind: plugin.KindEvaluator, Name: e.Name(), Impl: e})
	if err != nil {
		t.Fatalf("register evaluator %s: %v", e.Name(), err)
	}
}

// ackAction emits "ack:" + inbound text.
func ackAction() *testAction {
	return &testAction{
		name: "ACK",
		execute: func(ctx context.Context, rt plugin.Runtime, ev *types.Event, dec *types.Decision, emit plugin.Callback) error {
			return emit(ctx, &types.Event{Content: types.Content{Text: "ack:" + ev.Content.Text}})
		},
	}
}

// replyAction emits the decision's drafted text.
func replyAction() *testAction {
	return &testAction{
		name: types.ActionReply,
		execute: func(ctx context.Context, rt plugin.Runtime, ev *types.Event, dec *types.Decision, emit plugin.Callback) error {
			return emit(ctx, &types.Event{Content: types.Content{Text: dec.Text}})
		},
	}
}

// decisionJSON scripts the model to always answer with the given actions
// and text.
func decisionJSON(text string, actions ...string) func(context.Context, types.ModelTier, string, string) (string, error) {
	return func(ctx context.Context, tier types.ModelTier, system, prompt string) (string, error) {
		quoted := make([]string, len(actions))
		for i, a := range actions {
			quoted[i] = `"` + a + `"`
		}
		return `{"thought":"scripted","actions":[` + strings.Join(quoted, ",") + `],"text":"` + text + `"}`, nil
	}
}
