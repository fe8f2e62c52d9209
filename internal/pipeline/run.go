package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reverie/internal/logging"
	"reverie/internal/model"
	"reverie/internal/plugin"
	"reverie/internal/store"
	"reverie/internal/types"
)

// =============================================================================
// ONE PIPELINE RUN
// =============================================================================
//
// run executes the full sequence for one inbound event:
//   persist inbound -> compose state -> model decision -> validate actions
//   -> execute actions in decision order -> persist outputs -> evaluators.
//
// Failures degrade instead of aborting: a dead model yields the ack
// decision, a failing action is logged and skipped, and a run that
// produced nothing despite trying still answers with the terse ack so an
// observer never sees silence where a response was owed.

func (p *Pipeline) run(ctx context.Context, ev *types.Event) *Outcome {
	timer := logging.StartTimer(logging.CategoryPipeline, "run")
	defer timer.StopWithThreshold(time.Second)

	started := time.Now()
	out := &Outcome{Event: ev}

	// (a) Persist the inbound event before anything observes it.
	if err := p.rt.Memory().Append(ctx, ev); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			logging.PipelineDebug("Dropped duplicate inbound event in room %s", ev.RoomID)
			out.Err = err
			return out
		}
		// The store is broken. Answer anyway; an inbound event never
		// disappears without a visible response.
		logging.PipelineError("Failed to persist inbound event in room %s: %v", ev.RoomID, err)
		out.Err = err
		out.Decision = model.DegradedDecision()
		out.Degraded = true
		p.emitAck(ctx, ev, out)
		return out
	}

	var dec *types.Decision
	var degraded bool

	if p.mutedFor(ctx, ev) {
		// Muted rooms still remember, but the agent stays quiet unless
		// spoken to directly.
		logging.PipelineDebug("Room %s is muted; ignoring unaddressed event %s", ev.RoomID, ev.ID)
		dec = &types.Decision{Thought: "room is muted", Actions: []string{types.ActionIgnore}}
	} else {
		// (b) Compose state from the default providers, or from the
		// selection the previous decision requested for this room.
		names := p.takeOverride(ev.RoomID)
		state := p.comp.Compose(ctx, p.rt, ev, names)

		// (c) Ask the model what to do.
		dec, degraded = p.decide(ctx, ev, state)

		// A decision may pick the providers for this room's next run.
		// The selection is consumed exactly once.
		if len(dec.Providers) > 0 {
			p.stashOverride(ev.RoomID, dec.Providers)
		}
	}

	out.Decision = dec
	out.Degraded = degraded

	// (d)+(e) Validate, then execute in the order the model chose.
	// (f) Outputs are persisted as actions emit them.
	actionErr := p.runActions(ctx, ev, dec, out)

	// The response guarantee: a run that tried to answer and could not
	// still acknowledges.
	if (degraded || actionErr) && len(out.Outputs) == 0 {
		p.emitAck(ctx, ev, out)
	}

	// (g) Evaluators reflect after the response is settled.
	p.runEvaluators(ctx, ev)

	out.Elapsed = time.Since(started)
	logging.Pipeline("Room %s: event %s -> %d action(s), %d output(s) in %v",
		ev.RoomID, ev.ID, len(dec.Actions), len(out.Outputs), out.Elapsed.Round(time.Millisecond))
	return out
}

// decide obtains a structured decision, degrading to the ack decision
// when the router gives up. The router already owns timeout and retry;
// by the time an error reaches here there is nothing left to try.
func (p *Pipeline) decide(ctx context.Context, ev *types.Event, state *types.State) (*types.Decision, bool) {
	system := p.systemPrompt()
	prompt := decisionPrompt(ev, state)

	raw, err := p.rt.Model().CompleteWithSystem(ctx, p.cfg.Tier, system, prompt)
	if err != nil {
		logging.PipelineWarn("Model unavailable for room %s: %v", ev.RoomID, err)
		return model.DegradedDecision(), true
	}
	return model.ParseDecision(raw), false
}

// runActions walks the decision's action list. Unknown names, disallowed
// actions, and validation declines are skips; execution errors are
// logged and reported so the run can fall back to the ack. One action
// failing never stops the ones after it.
func (p *Pipeline) runActions(ctx context.Context, ev *types.Event, dec *types.Decision, out *Outcome) bool {
	card := p.rt.Agent()
	failed := false

	for _, name := range dec.Actions {
		act, err := p.reg.Action(name)
		if err != nil {
			logging.ActionsWarn("Decision named unknown action %q, skipping", name)
			continue
		}
		if !card.Allows(name) {
			logging.ActionsWarn("Action %q is outside %s's capabilities, skipping", name, card.Name)
			continue
		}

		ok, err := act.Validate(ctx, p.rt, ev)
		if err != nil {
			logging.ActionsWarn("Action %q validation errored, skipping: %v", name, err)
			continue
		}
		if !ok {
			logging.ActionsDebug("Action %q declined event %s", name, ev.ID)
			continue
		}

		if err := p.execute(ctx, act, ev, dec, p.emitter(ev, out, name)); err != nil {
			logging.ActionsWarn("Action %q failed on event %s: %v", name, ev.ID, err)
			failed = true
			continue
		}
		logging.ActionsDebug("Action %q executed for event %s", name, ev.ID)
	}
	return failed
}

// execute isolates a single action call so a panicking action is an
// error, not a dead run.
func (p *Pipeline) execute(ctx context.Context, act plugin.Action, ev *types.Event, dec *types.Decision, emit plugin.Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return act.Execute(ctx, p.rt, ev, dec, emit)
}

// emitter builds the callback actions use to hand outputs back. Every
// emitted event is persisted immediately and recorded on the outcome, so
// "execute" and "persist outputs" stay interleaved in action order.
func (p *Pipeline) emitter(parent *types.Event, out *Outcome, action string) plugin.Callback {
	return func(ctx context.Context, ev *types.Event) error {
		if ev == nil {
			return fmt.Errorf("pipeline: nil event emitted")
		}
		if ev.RoomID == "" {
			ev.RoomID = parent.RoomID
		}
		if ev.AuthorID == "" {
			ev.AuthorID = p.rt.Agent().ID
		}
		if _, tagged := ev.Metadata[types.MetaSource]; !tagged {
			ev.Tag(types.MetaSource, responseSource(parent))
		}
		if parent.ID != "" && ev.Metadata[types.MetaInReplyTo] == "" {
			ev.Tag(types.MetaInReplyTo, parent.ID)
		}
		if action != "" && ev.Metadata[types.MetaAction] == "" {
			ev.Tag(types.MetaAction, action)
		}

		if err := p.rt.Memory().Append(ctx, ev); err != nil {
			return err
		}
		out.Outputs = append(out.Outputs, ev)
		return nil
	}
}

// emitAck persists the terse acknowledgement. The ack is recorded on the
// outcome even when the store refuses it; the observer still gets a
// response, persistence catches up or does not.
func (p *Pipeline) emitAck(ctx context.Context, parent *types.Event, out *Outcome) {
	ack := &types.Event{
		RoomID:   parent.RoomID,
		AuthorID: p.rt.Agent().ID,
		Content:  types.Content{Text: model.AckText},
	}
	ack.Tag(types.MetaSource, responseSource(parent))
	if parent.ID != "" {
		ack.Tag(types.MetaInReplyTo, parent.ID)
	}

	if err := p.rt.Memory().Append(ctx, ack); err != nil {
		logging.PipelineWarn("Failed to persist fallback acknowledgement in room %s: %v", parent.RoomID, err)
	}
	out.Outputs = append(out.Outputs, ack)
}

// runEvaluators gives each registered evaluator its post-run look.
// Best-effort only: errors and panics are logged and the run's outcome
// is already settled.
func (p *Pipeline) runEvaluators(ctx context.Context, ev *types.Event) {
	for _, e := range p.reg.Evaluators() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.EvaluatorsWarn("Evaluator %q panicked on event %s: %v", e.Name(), ev.ID, r)
				}
			}()
			if !e.ShouldRun(ctx, p.rt, ev) {
				return
			}
			if err := e.Run(ctx, p.rt, ev); err != nil {
				logging.EvaluatorsWarn("Evaluator %q failed on event %s: %v", e.Name(), ev.ID, err)
			}
		}()
	}
}

// mutedFor reports whether the agent should stay quiet: the agent is
// muted in the room and the event does not address it by name.
func (p *Pipeline) mutedFor(ctx context.Context, ev *types.Event) bool {
	card := p.rt.Agent()
	rel, err := p.rt.Memory().ParticipantState(ctx, ev.RoomID, card.ID)
	if err != nil || rel != types.RelationMuted {
		return false
	}
	return !addresses(ev, card)
}

// addresses reports whether the event mentions the agent by name or
// username.
func addresses(ev *types.Event, card types.AgentCard) bool {
	text := strings.ToLower(ev.Content.Text)
	if card.Name != "" && strings.Contains(text, strings.ToLower(card.Name)) {
		return true
	}
	if card.Username != "" && strings.Contains(text, strings.ToLower(card.Username)) {
		return true
	}
	return false
}

// responseSource tags outputs with their provenance. Replies to
// monologue triggers and to prior autonomous thoughts are autonomous;
// everything else is the agent speaking outward.
func responseSource(parent *types.Event) string {
	switch parent.Source() {
	case types.SourceAutonomous, types.SourceSystem:
		return types.SourceAutonomous
	}
	return types.SourceAssistant
}
