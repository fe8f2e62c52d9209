package bootstrap

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"reverie/internal/embedding"
	"reverie/internal/plugin"
	"reverie/internal/store"
	"reverie/internal/tasks"
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

	mu      sync.Mutex
	prompts []string
}

func (m *MockModel) Complete(ctx context.Context, tier types.ModelTier, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, tier, "", prompt)
}

func (m *MockModel) CompleteWithSystem(ctx context.Context, tier types.ModelTier, system, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, tier, system, prompt)
	}
	return `{"thought":"ok","actions":["IGNORE"],"text":""}`, nil
}

func (m *MockModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// keywordEngine embeds keyword-matched texts onto orthogonal axes so
// similarity assertions are exact.
type keywordEngine struct{}

var _ embedding.Engine = keywordEngine{}

func (keywordEngine) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "tea"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(lower, "rain"):
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (e keywordEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (keywordEngine) Dimensions() int { return 3 }
func (keywordEngine) Name() string    { return "keyword-test" }

/// testRuntime is the capability-facing runtime for these tests: real
// store, real queue, scripted model.
type testRuntime struct {
	card     types.AgentCard
	mem      *store.Store
	queue    *tasks.Queue
	model    *MockModel
	settings *memSettings
}

var _ plugin.Runtime = (*testRuntime)(nil)

func (rt *testRuntime) Agent() types.AgentCard { return rt.card }
func (rt *testRuntime) Memory() plugin.Memory  { return rt.mem }
func (rt *testRuntime) Model() plugin.Model    { return rt.model }

func (rt *testRuntime) Tasks() plugin.Tasks {
	if rt.queue == nil {
		return nil
	}
	return rt.queue
}

func (rt *testRuntime) Settings() plugin.Settings { return rt.settings }

func newRuntime(t *testing.T) *testRuntime {
	return newRuntimeOpts(t, store.DefaultOptions(""))
}

func newRuntimeWithEngine(t *testing.T) *testRuntime {
	opts := store.DefaultOptions("")
	opts.Engine = keywordEngine{}
	return newRuntimeOpts(t, opts)
}

func newRuntimeOpts(t *testing.T, opts store.Options) *testRuntime {
	t.Helper()
	opts.DBPath = filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	rt := &testRuntime{
		card:     types.AgentCard{ID: "agent-1", Name: "Reverie", Username: "reverie"},
		mem:      st,
		queue:    tasks.NewQueue(st),
		model:    &MockModel{},
		settings: newMemSettings(),
	}
	rt.queue.BindRuntime(rt)
	return rt
}

// emitRecorder captures what an action hands back to the pipeline.
type emitRecorder struct {
	events []*types.Event
	err    error // returned to the action when set
}

func (r *emitRecorder) callback() plugin.Callback {
	return func(_ context.Context, ev *types.Event) error {
		if r.err != nil {
			return r.err
		}
		r.events = append(r.events, ev)
		return nil
	}
}

func groupRoom(t *testing.T, rt *testRuntime, id string) *types.Room {
	t.Helper()
	room, err := rt.mem.EnsureRoom(context.Background(), &types.Room{
		ID:          id,
		Name:        "lounge",
		ChannelType: types.ChannelGroup,
	})
	if err != nil {
		t.Fatalf("ensure room: %v", err)
	}
	return room
}

func appendEvent(t *testing.T, rt *testRuntime, roomID, author, text string) *types.Event {
	t.Helper()
	ev := &types.Event{
		RoomID:   roomID,
		AuthorID: author,
		Content:  types.Content{Text: text},
	}
	if err := rt.mem.Append(context.Background(), ev); err != nil {
		t.Fatalf("append %q: %v", text, err)
	}
	return ev
}
