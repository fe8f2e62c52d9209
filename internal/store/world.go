package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reverie/internal/logging"
	"reverie/internal/types"
)

// =============================================================================
// WORLDS, ROOMS, ENTITIES, PARTICIPANTS
// =============================================================================

// EnsureWorld creates the world if it does not exist yet. Existing rows
// are left untouched.
func (s *Store) EnsureWorld(ctx context.Context, w *types.World) error {
	if w == nil {
		return fmt.Errorf("store: nil world")
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO worlds (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)",
		w.ID, w.Name, w.OwnerID, w.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure world %s: %w", w.ID, err)
	}
	return nil
}

// World returns a world by ID.
func (s *Store) World(ctx context.Context, id string) (*types.World, error) {
	var w types.World
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, created_at FROM worlds WHERE id = ?", id,
	).Scan(&w.ID, &w.Name, &w.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("world %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get world %s: %w", id, err)
	}
	w.CreatedAt = time.Unix(0, createdAt).UTC()
	return &w, nil
}

// EnsureRoom creates the room on first reference and returns the stored
// row. When the room already exists the persisted channel type and name
// win over whatever the caller passed.
func (s *Store) EnsureRoom(ctx context.Context, r *types.Room) (*types.Room, error) {
	if r == nil {
		return nil, fmt.Errorf("store: nil room")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ChannelType == "" {
		r.ChannelType = types.ChannelGroup
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id, world_id, name, channel_type, created_at) VALUES (?, ?, ?, ?, ?)",
		r.ID, r.WorldID, r.Name, string(r.ChannelType), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure room %s: %w", r.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		logging.StoreDebug("Created room %s (%s)", r.ID, r.ChannelType)
		return r, nil
	}
	return s.Room(ctx, r.ID)
}

// Room returns a room by ID.
func (s *Store) Room(ctx context.Context, id string) (*types.Room, error) {
	var r types.Room
	var channel string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, world_id, name, channel_type, created_at FROM rooms WHERE id = ?", id,
	).Scan(&r.ID, &r.WorldID, &r.Name, &channel, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", id, err)
	}
	r.ChannelType = types.ChannelType(channel)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	return &r, nil
}

// RoomsByChannel returns every room with the given channel type.
func (s *Store) RoomsByChannel(ctx context.Context, ct types.ChannelType) ([]*types.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, world_id, name, channel_type, created_at FROM rooms WHERE channel_type = ? ORDER BY created_at ASC",
		string(ct),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s rooms: %w", ct, err)
	}
	defer rows.Close()

	var out []*types.Room
	for rows.Next() {
		var r types.Room
		var channel string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.WorldID, &r.Name, &channel, &createdAt); err != nil {
			continue
		}
		r.ChannelType = types.ChannelType(channel)
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// EnsureEntity creates the entity if it does not exist yet.
func (s *Store) EnsureEntity(ctx context.Context, e *types.Entity) error {
	if e == nil {
		return fmt.Errorf("store: nil entity")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Kind == "" {
		e.Kind = types.EntityUser
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO entities (id, kind, name, created_at) VALUES (?, ?, ?, ?)",
		e.ID, string(e.Kind), e.Name, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure entity %s: %w", e.ID, err)
	}
	return nil
}

// Entity returns an entity by ID.
func (s *Store) Entity(ctx context.Context, id string) (*types.Entity, error) {
	var e types.Entity
	var kind string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, kind, name, created_at FROM entities WHERE id = ?", id,
	).Scan(&e.ID, &kind, &e.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	e.Kind = types.EntityKind(kind)
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	return &e, nil
}

// SetParticipantState records an entity's relation to a room. Setting
// the relation to none removes the participant row entirely, which is
// how a room is soft-disabled for that entity.
func (s *Store) SetParticipantState(ctx context.Context, roomID, entityID string, rel types.RelationState) error {
	if roomID == "" || entityID == "" {
		return fmt.Errorf("store: participant requires room and entity")
	}

	if rel == types.RelationNone {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM participants WHERE room_id = ? AND entity_id = ?", roomID, entityID)
		if err != nil {
			return fmt.Errorf("failed to remove participant: %w", err)
		}
		logging.StoreDebug("Removed participant %s from room %s", entityID, roomID)
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (room_id, entity_id, relation, joined_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, entity_id) DO UPDATE SET relation = excluded.relation`,
		roomID, entityID, string(rel), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set participant state: %w", err)
	}
	logging.StoreDebug("Participant %s in room %s is now %s", entityID, roomID, rel)
	return nil
}

// ParticipantState returns the entity's relation to the room; missing
// rows read as none.
func (s *Store) ParticipantState(ctx context.Context, roomID, entityID string) (types.RelationState, error) {
	var rel string
	err := s.db.QueryRowContext(ctx,
		"SELECT relation FROM participants WHERE room_id = ? AND entity_id = ?", roomID, entityID,
	).Scan(&rel)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RelationNone, nil
	}
	if err != nil {
		return types.RelationNone, fmt.Errorf("failed to get participant state: %w", err)
	}
	return types.RelationState(rel), nil
}

// Participants lists a room's participant rows.
func (s *Store) Participants(ctx context.Context, roomID string) ([]types.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id, entity_id, relation, joined_at FROM participants WHERE room_id = ? ORDER BY joined_at ASC",
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []types.Participant
	for rows.Next() {
		var p types.Participant
		var rel string
		var joinedAt int64
		if err := rows.Scan(&p.RoomID, &p.EntityID, &rel, &joinedAt); err != nil {
			continue
		}
		p.Relation = types.RelationState(rel)
		p.JoinedAt = time.Unix(0, joinedAt).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
