package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reverie/internal/plugin"
	"reverie/internal/store"
	"reverie/internal/types"
)

// =============================================================================
// DEFAULT STATE PROVIDERS
// =============================================================================

// characterProvider contributes the agent's identity line and topics.
// The persona body lives in the system prompt; this keeps the composed
// state from repeating it.
type characterProvider struct{}

func (characterProvider) Name() string  { return "character" }
func (characterProvider) Priority() int { return 10 }

func (characterProvider) Get(_ context.Context, rt plugin.Runtime, _ *types.Event) (types.Fragment, error) {
	card := rt.Agent()
	frag := types.Fragment{}
	line := card.Name
	if card.Username != "" {
		line = fmt.Sprintf("%s (@%s)", card.Name, card.Username)
	}
	frag["agent"] = line
	if len(card.Topics) > 0 {
		frag["topics"] = strings.Join(card.Topics, ", ")
	}
	return frag, nil
}

// timeProvider stamps the current moment.
type timeProvider struct {
	now func() time.Time
}

func (timeProvider) Name() string  { return "time" }
func (timeProvider) Priority() int { return 20 }

func (p timeProvider) Get(context.Context, plugin.Runtime, *types.Event) (types.Fragment, error) {
	return types.Fragment{
		"time": p.now().UTC().Format("Monday, 2 January 2006, 15:04 UTC"),
	}, nil
}

// roomInfoProvider describes where the conversation is happening.
type roomInfoProvider struct{}

func (roomInfoProvider) Name() string  { return "roomInfo" }
func (roomInfoProvider) Priority() int { return 30 }

func (roomInfoProvider) Get(ctx context.Context, rt plugin.Runtime, ev *types.Event) (types.Fragment, error) {
	room, err := rt.Memory().Room(ctx, ev.RoomID)
	if err != nil {
		return nil, err
	}

	name := room.Name
	if name == "" {
		name = room.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s channel", name, room.ChannelType)
	if parts, err := rt.Memory().Participants(ctx, ev.RoomID); err == nil && len(parts) > 0 {
		fmt.Fprintf(&b, ", %d participant(s)", len(parts))
	}
	b.WriteString(")")

	rel, err := rt.Memory().ParticipantState(ctx, ev.RoomID, rt.Agent().ID)
	if err == nil && rel != types.RelationNone {
		fmt.Fprintf(&b, ", %s", rel)
	}
	return types.Fragment{"room": b.String()}, nil
}

// recentMessagesProvider renders the room's last window in chronological
// order. The triggering event is left out; the prompt shows it on its
// own line.
type recentMessagesProvider struct {
	limit int
}

func (recentMessagesProvider) Name() string  { return "recentMessages" }
func (recentMessagesProvider) Priority() int { return 40 }

func (p recentMessagesProvider) Get(ctx context.Context, rt plugin.Runtime, ev *types.Event) (types.Fragment, error) {
	events, err := rt.Memory().Query(ctx, ev.RoomID, types.QueryOptions{Limit: p.limit})
	if err != nil {
		return nil, err
	}

	var lines []string
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.ID == ev.ID {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", e.AuthorID, e.Content.Text))
	}
	if len(lines) == 0 {
		return types.Fragment{}, nil
	}
	return types.Fragment{"recent_messages": strings.Join(lines, "\n")}, nil
}

// semanticRecallProvider surfaces memories similar to the message, from
// any room. Quiet when no embedding engine is configured.
type semanticRecallProvider struct {
	k int
}

func (semanticRecallProvider) Name() string  { return "semanticRecall" }
func (semanticRecallProvider) Priority() int { return 50 }

func (p semanticRecallProvider) Get(ctx context.Context, rt plugin.Runtime, ev *types.Event) (types.Fragment, error) {
	text := strings.TrimSpace(ev.Content.Text)
	if text == "" {
		return types.Fragment{}, nil
	}

	hits, err := rt.Memory().Search(ctx, text, p.k)
	if err != nil {
		if errors.Is(err, store.ErrNoEmbedder) {
			return types.Fragment{}, nil
		}
		return nil, err
	}

	var lines []string
	for _, h := range hits {
		if h.Event.ID == ev.ID {
			continue
		}
		lines = append(lines, fmt.Sprintf("(%.2f) %s", h.Similarity, h.Event.Content.Text))
	}
	if len(lines) == 0 {
		return types.Fragment{}, nil
	}
	return types.Fragment{"related_memories": strings.Join(lines, "\n")}, nil
}

// pendingTasksProvider lists the room's open tasks. Opt-in: not part of
// the default composition, selected by decisions that need it.
type pendingTasksProvider struct{}

func (pendingTasksProvider) Name() string { return "pendingTasks" }

func (pendingTasksProvider) Get(ctx context.Context, rt plugin.Runtime, ev *types.Event) (types.Fragment, error) {
	if rt.Tasks() == nil {
		return types.Fragment{}, nil
	}
	tasks, err := rt.Tasks().Pending(ctx, ev.RoomID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return types.Fragment{}, nil
	}

	lines := make([]string, 0, len(tasks))
	for _, task := range tasks {
		lines = append(lines, fmt.Sprintf("%s [%s] (%s)", task.Name, task.Status, task.ID))
	}
	return types.Fragment{"pending_tasks": strings.Join(lines, "\n")}, nil
}
