package plugin

import (
	"context"

	"reverie/internal/types"
)

// Runtime is the world as a capability sees it. It is deliberately
// narrow: plugins get the agent's identity and the core surfaces, never
// the concrete store, queue, or router.
type Runtime interface {
	Agent() types.AgentCard
	Memory() Memory
	Tasks() Tasks
	Model() Model
	Settings() Settings
}

// Memory is the persistence surface exposed to capabilities.
type Memory interface {
	Append(ctx context.Context, ev *types.Event) error
	Get(ctx context.Context, id string) (*types.Event, error)
	Query(ctx context.Context, roomID string, opts types.QueryOptions) ([]*types.Event, error)
	Search(ctx context.Context, query string, k int) ([]types.SearchResult, error)

	Room(ctx context.Context, id string) (*types.Room, error)
	EnsureRoom(ctx context.Context, r *types.Room) (*types.Room, error)
	Participants(ctx context.Context, roomID string) ([]types.Participant, error)
	ParticipantState(ctx context.Context, roomID, entityID string) (types.RelationState, error)
	SetParticipantState(ctx context.Context, roomID, entityID string, rel types.RelationState) error
}

// Tasks is the deferred-work surface exposed to capabilities.
type Tasks interface {
	Create(ctx context.Context, task *types.Task) (*types.Task, error)
	Get(ctx context.Context, id string) (*types.Task, error)
	Dispatch(ctx context.Context, id string, input map[string]any) (*types.Task, error)
	Pending(ctx context.Context, roomID string) ([]*types.Task, error)
}

// Model routes completions to a tier-appropriate backend.
type Model interface {
	Complete(ctx context.Context, tier types.ModelTier, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, tier types.ModelTier, system, prompt string) (string, error)
}

// Settings is the flat runtime-tunable key/value surface.
type Settings interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
}
