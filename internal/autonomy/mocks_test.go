package autonomy

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"reverie/internal/composer"
	"reverie/internal/pipeline"
	"reverie/internal/plugin"
	"reverie/internal/registry"
	"reverie/internal/store"
	"reverie/internal/types"
)

// memSettings is an in-memory settings surface.
type memSettings struct {
	mu   sync.Mutex
	vals map[string]string
}

var _ plugin.Settings = (*memSettings)(nil)

func newMemSettings() *memSettings {
	return &memSettings{vals: make(map[string]string)}
}

func (s *memSettings) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	return v, ok, nil
}

func (s *memSettings) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	return nil
}

func (s *memSettings) All(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.vals))
	for k, v := range s.vals {
		out[k] = v
	}
	return out, nil
}

// MockModel returns scripted completions.
type MockModel struct {
	CompleteFunc func(ctx context.Context, tier types.ModelTier, system, prompt string) (string, error)

	mu    sync.Mutex
	calls int
}

func (m *MockModel) Complete(ctx context.Context, tier types.ModelTier, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, tier, "", prompt)
}

func (m *MockModel) CompleteWithSystem(ctx context.Context, tier types.ModelTier, system, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
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

// loopRuntime backs Memory with a real store so continuation queries
// exercise the same path production does.
type loopRuntime struct {
	card     types.AgentCard
	mem      *store.Store
	model    *MockModel
	settings *memSettings
}

var _ plugin.Runtime = (*loopRuntime)(nil)

func (rt *loopRuntime) Agent() types.AgentCard    { return rt.card }
func (rt *loopRuntime) Memory() plugin.Memory     { return rt.mem }
func (rt *loopRuntime) Tasks() plugin.Tasks       { return nil }
func (rt *loopRuntime) Model() plugin.Model       { return rt.model }
func (rt *loopRuntime) Settings() plugin.Settings { return rt.settings }

func newRuntime(t *testing.T) *loopRuntime {
	t.Helper()
	st, err := store.Open(store.DefaultOptions(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &loopRuntime{
		card:     types.AgentCard{ID: "agent-1", Name: "Reverie", Username: "reverie"},
		mem:      st,
		model:    &MockModel{},
		settings: newMemSettings(),
	}
}

// fakeProcessor records the events the loop hands it.
type fakeProcessor struct {
	ProcessFunc func(ctx context.Context, ev *types.Event) (*pipeline.Outcome, error)

	mu     sync.Mutex
	events []*types.Event
}

func (p *fakeProcessor) Process(ctx context.Context, ev *types.Event) (*pipeline.Outcome, error) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	if p.ProcessFunc != nil {
		return p.ProcessFunc(ctx, ev)
	}
	return &pipeline.Outcome{Event: ev}, nil
}

func (p *fakeProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *fakeProcessor) Events() []*types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Event, len(p.events))
	copy(out, p.events)
	return out
}

type fixture struct {
	loop *Loop
	rt   *loopRuntime
	proc *fakeProcessor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	rt := newRuntime(t)
	proc := &fakeProcessor{}
	loop := New(rt, proc, cfg)
	t.Cleanup(loop.Stop)
	return &fixture{loop: loop, rt: rt, proc: proc}
}

// replyAction emits the decision's drafted text.
type replyAction struct{}

func (replyAction) Name() string        { return types.ActionReply }
func (replyAction) Description() string { return "send the drafted text" }

func (replyAction) Validate(context.Context, plugin.Runtime, *types.Event) (bool, error) {
	return true, nil
}

func (replyAction) Execute(ctx context.Context, _ plugin.Runtime, _ *types.Event, dec *types.Decision, emit plugin.Callback) error {
	return emit(ctx, &types.Event{Content: types.Content{Text: dec.Text}})
}

// newPipelineFixture wires the loop to a real pipeline with REPLY
// registered, so cycles persist thoughts end to end.
func newPipelineFixture(t *testing.T, cfg Config) (*Loop, *loopRuntime, *pipeline.Pipeline) {
	t.Helper()
	rt := newRuntime(t)
	reg := registry.New()
	if err := reg.Register(registry.Registration{Kind: plugin.KindAction, Name: types.ActionReply, Impl: replyAction{}}); err != nil {
		t.Fatalf("register reply: %v", err)
	}
	pipe := pipeline.New(rt, reg, composer.New(reg, nil), pipeline.DefaultConfig())
	t.Cleanup(pipe.Close)
	loop := New(rt, pipe, cfg)
	t.Cleanup(loop.Stop)
	return loop, rt, pipe
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decisionJSON(text string, actions ...string) string {
	quoted := make([]string, len(actions))
	for i, a := range actions {
		quoted[i] = strconv.Quote(a)
	}
	return fmt.Sprintf(`{"thought":"t","actions":[%s],"text":%s}`,
		strings.Join(quoted, ","), strconv.Quote(text))
}
