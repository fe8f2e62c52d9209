package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"reverie/internal/logging"
	"reverie/internal/plugin"
	"reverie/internal/types"
)

// =============================================================================
// SUMMARIZER EVALUATOR
// =============================================================================

// summarizer condenses a busy room into a digest memory once enough
// events pile up after the previous digest. Digests are tagged with the
// evaluator source so they never count as conversation, and self rooms
// are left alone; the monologue is its own record.
type summarizer struct {
	every  int // run when this many non-digest events follow the last digest
	window int // transcript size handed to the model
}

func newSummarizer(every int) *summarizer {
	if every <= 0 {
		every = 20
	}
	return &summarizer{every: every, window: every * 2}
}

func (s *summarizer) Name() string { return "summarizer" }

// ShouldRun is true when the most recent events fill the cadence window
// without a digest among them.
func (s *summarizer) ShouldRun(ctx context.Context, rt plugin.Runtime, ev *types.Event) bool {
	if ev.RoomID == "" {
		return false
	}
	room, err := rt.Memory().Room(ctx, ev.RoomID)
	if err != nil || room.ChannelType == types.ChannelSelf {
		return false
	}

	recent, err := rt.Memory().Query(ctx, ev.RoomID, types.QueryOptions{Limit: s.every})
	if err != nil || len(recent) < s.every {
		return false
	}
	for _, e := range recent {
		if e.Source() == types.SourceEvaluator {
			return false
		}
	}
	return true
}

func (s *summarizer) Run(ctx context.Context, rt plugin.Runtime, ev *types.Event) error {
	events, err := rt.Memory().Query(ctx, ev.RoomID, types.QueryOptions{Limit: s.window})
	if err != nil {
		return err
	}

	var lines []string
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Source() == types.SourceEvaluator {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", e.AuthorID, e.Content.Text))
	}
	if len(lines) == 0 {
		return nil
	}

	prompt := "Summarize this conversation in two or three sentences. Keep names and decisions.\n\n" +
		strings.Join(lines, "\n")
	summary, err := rt.Model().Complete(ctx, types.TierSmallFast, prompt)
	if err != nil {
		return fmt.Errorf("summary model call failed: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}

	digest := &types.Event{
		RoomID:   ev.RoomID,
		AuthorID: rt.Agent().ID,
		Content:  types.Content{Text: summary},
	}
	digest.Tag(types.MetaSource, types.SourceEvaluator)
	if err := rt.Memory().Append(ctx, digest); err != nil {
		return fmt.Errorf("failed to store digest: %w", err)
	}
	logging.Evaluators("Summarized room %s (%d lines condensed)", ev.RoomID, len(lines))
	return nil
}
