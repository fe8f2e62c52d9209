// Package composer assembles the agent's working state for one event by
// collecting fragments from state providers. Composition cannot fail: a
// provider that errors or panics simply contributes nothing.
package composer

import (
	"context"
	"sort"
	"time"

	"reverie/internal/logging"
	"reverie/internal/plugin"
	"reverie/internal/registry"
	"reverie/internal/types"
)

// DefaultPriority is the slot for providers that do not implement
// plugin.Prioritized. Lower values compose earlier; later fragments win
// key collisions.
const DefaultPriority = 100

// Composer builds state from registered providers.
type Composer struct {
	reg      *registry.Registry
	defaults []string // provider names used when the caller does not select
}

// New builds a composer. An empty defaults list means "every registered
// provider, in declaration order".
func New(reg *registry.Registry, defaults []string) *Composer {
	return &Composer{reg: reg, defaults: defaults}
}

// Compose runs the selected providers and merges their fragments into a
// single state. The names select WHICH providers run; the order they
// compose in is always priority first, then registration order, so a
// model-picked selection cannot scramble precedence. A nil or empty
// selection uses the default set.
func (c *Composer) Compose(ctx context.Context, rt plugin.Runtime, ev *types.Event, names []string) *types.State {
	timer := logging.StartTimer(logging.CategoryComposer, "Compose")
	defer timer.Stop()

	selected := names
	if len(selected) == 0 {
		selected = c.defaults
	}
	if len(selected) == 0 {
		selected = c.reg.List(plugin.KindProvider)
	}

	// Registration index is the tie-break, so resolve positions once.
	position := make(map[string]int)
	for i, name := range c.reg.List(plugin.KindProvider) {
		position[name] = i
	}

	type slot struct {
		provider plugin.Provider
		priority int
		pos      int
	}
	slots := make([]slot, 0, len(selected))
	seen := make(map[string]bool, len(selected))
	for _, name := range selected {
		if seen[name] {
			continue
		}
		seen[name] = true

		p, err := c.reg.Provider(name)
		if err != nil {
			logging.ComposerWarn("Unknown provider %q, skipping", name)
			continue
		}
		prio := DefaultPriority
		if pp, ok := p.(plugin.Prioritized); ok {
			prio = pp.Priority()
		}
		slots = append(slots, slot{provider: p, priority: prio, pos: position[name]})
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].priority != slots[j].priority {
			return slots[i].priority < slots[j].priority
		}
		return slots[i].pos < slots[j].pos
	})

	state := types.NewState()
	for _, s := range slots {
		frag := c.collect(ctx, rt, s.provider, ev)
		if len(frag) == 0 {
			continue
		}
		state.Merge(frag)
	}

	logging.ComposerDebug("Composed %d fragments (%d keys) for event %s", len(slots), state.Len(), eventID(ev))
	return state
}

// collect runs one provider, converting errors and panics into an empty
// fragment so a single bad provider cannot sink the composition.
func (c *Composer) collect(ctx context.Context, rt plugin.Runtime, p plugin.Provider, ev *types.Event) (frag types.Fragment) {
	defer func() {
		if r := recover(); r != nil {
			logging.ComposerWarn("Provider %q panicked: %v", p.Name(), r)
			frag = nil
		}
	}()

	start := time.Now()
	frag, err := p.Get(ctx, rt, ev)
	if err != nil {
		logging.ComposerWarn("Provider %q failed: %v", p.Name(), err)
		return nil
	}
	logging.ComposerDebug("Provider %q contributed %d keys in %v", p.Name(), len(frag), time.Since(start))
	return frag
}

func eventID(ev *types.Event) string {
	if ev == nil {
		return "<none>"
	}
	return ev.ID
}
