package composer

import (
	"context"
	"fmt"
	"testing"

	"reverie/internal/plugin"
	"reverie/internal/registry"
	"reverie/internal/types"
)

// fakeProvider is a scriptable provider; withPriority wraps it when a
// test needs an explicit slot.
type fakeProvider struct {
	name  string
	frag  types.Fragment
	err   error
	boom  bool
	calls int
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Get(ctx context.Context, rt plugin.Runtime, ev *types.Event) (types.Fragment, error) {
	p.calls++
	if p.boom {
		panic("provider exploded")
	}
	return p.frag, p.err
}

type priorityProvider struct {
	fakeProvider
	priority int
}

func (p *priorityProvider) Priority() int { return p.priority }

func mustRegister(t *testing.T, reg *registry.Registry, p plugin.Provider) {
	t.Helper()
	if err := reg.Register(registry.Registration{Kind: plugin.KindProvider, Name: p.Name(), Impl: p}); err != nil {
		t.Fatal(err)
	}
}

func TestComposeMergesInDeclarationOrder(t *testing.T) {
	reg := registry.New()
	a := &fakeProvider{name: "a", frag: types.Fragment{"shared": "from-a", "only_a": "1"}}
	b := &fakeProvider{name: "b", frag: types.Fragment{"shared": "from-b"}}
	mustRegister(t, reg, a)
	mustRegister(t, reg, b)

	state := New(reg, nil).Compose(context.Background(), nil, nil, nil)

	// b registered later, so it wins the collision.
	if got, _ := state.Get("shared"); got != "from-b" {
		t.Errorf("shared = %v, want from-b", got)
	}
	if got, _ := state.Get("only_a"); got != "1" {
		t.Errorf("only_a = %v", got)
	}
}

func TestComposePriorityBeatsDeclaration(t *testing.T) {
	reg := registry.New()
	// early has a low priority slot, so it composes first even though it
	// is registered second; the default-priority provider then overwrites.
	late := &fakeProvider{name: "late", frag: types.Fragment{"k": "late-wins"}}
	early := &priorityProvider{fakeProvider: fakeProvider{name: "early", frag: types.Fragment{"k": "early"}}, priority: 10}
	mustRegister(t, reg, late)
	mustRegister(t, reg, early)

	state := New(reg, nil).Compose(context.Background(), nil, nil, nil)
	if got, _ := state.Get("k"); got != "late-wins" {
		t.Errorf("k = %v, want late-wins", got)
	}
}

func TestComposeSelectionPicksProviders(t *testing.T) {
	reg := registry.New()
	a := &fakeProvider{name: "a", frag: types.Fragment{"a": "1"}}
	b := &fakeProvider{name: "b", frag: types.Fragment{"b": "2"}}
	mustRegister(t, reg, a)
	mustRegister(t, reg, b)

	state := New(reg, nil).Compose(context.Background(), nil, nil, []string{"b"})
	if a.calls != 0 {
		t.Errorf("unselected provider ran %d times", a.calls)
	}
	if b.calls != 1 {
		t.Errorf("selected provider ran %d times, want 1", b.calls)
	}
	if _, ok := state.Get("a"); ok {
		t.Error("state contains fragment from unselected provider")
	}
}

func TestComposeSelectionOrderDoesNotMatter(t *testing.T) {
	reg := registry.New()
	a := &fakeProvider{name: "a", frag: types.Fragment{"k": "from-a"}}
	b := &fakeProvider{name: "b", frag: types.Fragment{"k": "from-b"}}
	mustRegister(t, reg, a)
	mustRegister(t, reg, b)

	// Selection lists b first, but composition order follows
	// registration, so b still wins the collision.
	state := New(reg, nil).Compose(context.Background(), nil, nil, []string{"b", "a"})
	if got, _ := state.Get("k"); got != "from-b" {
		t.Errorf("k = %v, want from-b", got)
	}
}

func TestComposeDefaultsWhenNoSelection(t *testing.T) {
	reg := registry.New()
	a := &fakeProvider{name: "a", frag: types.Fragment{"a": "1"}}
	b := &fakeProvider{name: "b", frag: types.Fragment{"b": "2"}}
	mustRegister(t, reg, a)
	mustRegister(t, reg, b)

	c := New(reg, []string{"a"})
	state := c.Compose(context.Background(), nil, nil, nil)
	if _, ok := state.Get("b"); ok {
		t.Error("default set should exclude b")
	}
	if _, ok := state.Get("a"); !ok {
		t.Error("default set should include a")
	}
}

func TestComposeUnknownProviderSkipped(t *testing.T) {
	reg := registry.New()
	a := &fakeProvider{name: "a", frag: types.Fragment{"a": "1"}}
	mustRegister(t, reg, a)

	state := New(reg, nil).Compose(context.Background(), nil, nil, []string{"a", "ghost"})
	if _, ok := state.Get("a"); !ok {
		t.Error("known provider should still contribute")
	}
}

func TestComposeProviderErrorContributesNothing(t *testing.T) {
	reg := registry.New()
	bad := &fakeProvider{name: "bad", err: fmt.Errorf("backend down")}
	good := &fakeProvider{name: "good", frag: types.Fragment{"good": "yes"}}
	mustRegister(t, reg, bad)
	mustRegister(t, reg, good)

	state := New(reg, nil).Compose(context.Background(), nil, nil, nil)
	if state.Len() != 1 {
		t.Errorf("state has %d keys, want 1", state.Len())
	}
	if _, ok := state.Get("good"); !ok {
		t.Error("healthy provider lost its fragment")
	}
}

func TestComposeProviderPanicRecovered(t *testing.T) {
	reg := registry.New()
	bomb := &fakeProvider{name: "bomb", boom: true}
	good := &fakeProvider{name: "good", frag: types.Fragment{"good": "yes"}}
	mustRegister(t, reg, bomb)
	mustRegister(t, reg, good)

	// Must not panic through Compose.
	state := New(reg, nil).Compose(context.Background(), nil, nil, nil)
	if _, ok := state.Get("good"); !ok {
		t.Error("panic in one provider dropped another's fragment")
	}
}

func TestComposeEmptyRegistryYieldsEmptyState(t *testing.T) {
	state := New(registry.New(), nil).Compose(context.Background(), nil, nil, nil)
	if state == nil {
		t.Fatal("Compose returned nil state")
	}
	if state.Len() != 0 {
		t.Errorf("state has %d keys, want 0", state.Len())
	}
}

func TestComposeDuplicateSelectionRunsOnce(t *testing.T) {
	reg := registry.New()
	a := &fakeProvider{name: "a", frag: types.Fragment{"a": "1"}}
	mustRegister(t, reg, a)

	New(reg, nil).Compose(context.Background(), nil, nil, []string{"a", "a", "a"})
	if a.calls != 1 {
		t.Errorf("duplicated selection ran provider %d times, want 1", a.calls)
	}
}
