package types

import (
	"time"
)

// =============================================================================
// WORLD / ROOM / ENTITY TYPES
// =============================================================================

// ChannelType tags a room with its conversational shape. Capabilities
// key off this (e.g. the summarizer leaves self rooms alone).
type ChannelType string

const (
	ChannelDirect    ChannelType = "direct"    // 1:1 conversation
	ChannelGroup     ChannelType = "group"     // multi-party room
	ChannelBroadcast ChannelType = "broadcast" // one-to-many feed
	ChannelSelf      ChannelType = "self"      // agent-internal monologue
)

// World is the container that owns rooms: a server, an account, or the
// agent's own internal space.
type World struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"` // entity that owns this world
	CreatedAt time.Time `json:"created_at"`
}

// Room groups related events. Created on first reference, persisted
// indefinitely, never deleted; disabling a room means removing the agent
// as a participant.
type Room struct {
	ID          string      `json:"id"`
	WorldID     string      `json:"world_id"`
	Name        string      `json:"name"`
	ChannelType ChannelType `json:"channel_type"`
	CreatedAt   time.Time   `json:"created_at"`
}

// EntityKind distinguishes the actors that author events.
type EntityKind string

const (
	EntityUser  EntityKind = "user"
	EntityAgent EntityKind = "agent"
)

// Entity is any participant that can author events. Identity is stable
// across rooms; per-room standing lives in Participant.
type Entity struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      EntityKind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
}

// RelationState is the agent's per-room standing toward an entity,
// mutable by actions (FOLLOW_ROOM, MUTE_ROOM).
type RelationState string

const (
	RelationNone     RelationState = "none"
	RelationFollowed RelationState = "followed"
	RelationMuted    RelationState = "muted"
)

// Participant links an entity to a room with its relation state.
type Participant struct {
	RoomID   string        `json:"room_id"`
	EntityID string        `json:"entity_id"`
	Relation RelationState `json:"relation"`
	JoinedAt time.Time     `json:"joined_at"`
}
