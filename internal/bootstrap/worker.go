package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"reverie/internal/logging"
	"reverie/internal/plugin"
	"reverie/internal/types"
)

// ConfirmWorkerName is the worker CREATE_TASK defers to by default.
const ConfirmWorkerName = "confirm"

// confirmWorker resolves a held-for-approval task. Dispatch input picks
// the path: option "post" sends the held text to the room and completes,
// "cancel" abandons, anything else parks the task awaiting input.
type confirmWorker struct{}

func (confirmWorker) Name() string { return ConfirmWorkerName }

func (confirmWorker) Run(ctx context.Context, rt plugin.Runtime, task *types.Task, input map[string]any) (types.TaskStatus, error) {
	option, _ := input["option"].(string)
	switch strings.ToLower(strings.TrimSpace(option)) {
	case "cancel":
		task.Result = map[string]any{"outcome": "cancelled"}
		logging.Tasks("Task %s cancelled by request", task.ID)
		return types.TaskCancelled, nil

	case "post":
		text, _ := task.Metadata["text"].(string)
		if strings.TrimSpace(text) != "" {
			out := &types.Event{
				RoomID:   task.RoomID,
				AuthorID: rt.Agent().ID,
				Content:  types.Content{Text: text},
			}
			out.Tag(types.MetaSource, types.SourceAssistant)
			if err := rt.Memory().Append(ctx, out); err != nil {
				return "", fmt.Errorf("failed to post confirmed text: %w", err)
			}
		}
		task.Result = map[string]any{"outcome": "posted"}
		logging.Tasks("Task %s confirmed, text posted", task.ID)
		return types.TaskDone, nil

	default:
		logging.TasksDebug("Task %s awaiting an option (got %q)", task.ID, option)
		return types.TaskAwaitingInput, nil
	}
}
