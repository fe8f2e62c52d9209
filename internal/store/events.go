package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"reverie/internal/logging"
	"reverie/internal/types"
)

// maxQueryLimit caps any single Query regardless of caller options.
const maxQueryLimit = 500

// =============================================================================
// EVENT LOG (append-only)
// =============================================================================

// Append persists an event. Events are immutable once appended.
//
// Missing ID and CreatedAt are filled in. When the room already holds an
// event with the same normalized text inside the dedup window, nothing is
// written and ErrDuplicateEvent is returned; the caller decides whether
// that matters. If an embedding engine is configured and the event has
// text but no embedding, one is computed best-effort; embedding failures
// never fail the append.
func (s *Store) Append(ctx context.Context, ev *types.Event) error {
	timer := logging.StartTimer(logging.CategoryStore, "Append")
	defer timer.Stop()

	if ev == nil {
		return fmt.Errorf("store: nil event")
	}
	if ev.RoomID == "" {
		return fmt.Errorf("store: event requires a room")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	text := strings.TrimSpace(ev.Content.Text)
	hash := ""
	if text != "" {
		hash = hashContent(normalizeContent(text))
	}

	if len(ev.Embedding) == 0 && text != "" && s.engine != nil {
		vec, err := s.engine.Embed(ctx, text)
		if err != nil {
			logging.EmbeddingWarn("Embedding failed for event %s: %v", ev.ID, err)
		} else {
			ev.Embedding = vec
		}
	}

	lock := s.roomLock(ev.RoomID)
	lock.Lock()
	defer lock.Unlock()

	// Stamped under the lock so a room's insertion order and timestamp
	// order agree even with concurrent producers.
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	// Dedup is scoped to the room: same normalized text within the
	// window is dropped no matter who sent it.
	if hash != "" {
		cutoff := time.Now().Add(-s.dedupWindow).UnixNano()
		var dupID string
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM events WHERE room_id = ? AND content_hash = ? AND created_at > ? LIMIT 1",
			ev.RoomID, hash, cutoff,
		).Scan(&dupID)
		if err == nil {
			logging.StoreDebug("Duplicate event in room %s (matches %s)", ev.RoomID, dupID)
			return fmt.Errorf("room %s: %w", ev.RoomID, ErrDuplicateEvent)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("dedup check failed: %w", err)
		}
	}

	payloadJSON := marshalMap(ev.Content.Payload)
	metaJSON := marshalMap(ev.Metadata)

	var blob any
	if len(ev.Embedding) > 0 {
		blob = encodeEmbedding(ev.Embedding)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, room_id, author_id, content_text, content_payload, content_hash, source, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RoomID, ev.AuthorID, ev.Content.Text, payloadJSON, hash, ev.Source(), blob, metaJSON, ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to append event: %v", err)
		return fmt.Errorf("failed to append event: %w", err)
	}

	// The index entry is created only after the row exists, so the index
	// never points at an event the log does not hold.
	if len(ev.Embedding) > 0 {
		if err := s.index.Insert(ev.ID, ev.Embedding); err != nil {
			logging.Get(logging.CategoryVector).Warn("Index insert failed for event %s: %v", ev.ID, err)
		}
	}

	logging.StoreDebug("Appended event %s to room %s (source=%s, embedded=%v)",
		ev.ID, ev.RoomID, ev.Source(), len(ev.Embedding) > 0)
	return nil
}

// Get returns a single event by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, author_id, content_text, content_payload, embedding, metadata, created_at
		FROM events WHERE id = ?`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return ev, nil
}

// Query returns a room's events in reverse chronological order, newest
// first. Results are always bounded; zero options use the default limit.
func (s *Store) Query(ctx context.Context, roomID string, opts types.QueryOptions) ([]*types.Event, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Query")
	defer timer.Stop()

	if roomID == "" {
		return nil, fmt.Errorf("store: query requires a room")
	}

	q := `SELECT id, room_id, author_id, content_text, content_payload, embedding, metadata, created_at
		FROM events WHERE room_id = ?`
	args := []any{roomID}

	if opts.AuthorID != "" {
		q += " AND author_id = ?"
		args = append(args, opts.AuthorID)
	}
	if opts.Source != "" {
		q += " AND source = ?"
		args = append(args, opts.Source)
	}
	if !opts.Before.IsZero() {
		q += " AND created_at < ?"
		args = append(args, opts.Before.UnixNano())
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.queryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	// seq breaks ties between events stamped in the same nanosecond.
	q += " ORDER BY created_at DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping undecodable event row: %v", err)
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query iteration failed: %w", err)
	}

	logging.StoreDebug("Query room %s returned %d events", roomID, len(events))
	return events, nil
}

// Search embeds the query text and returns the k most similar events
// across all rooms, best match first. The underlying index is
// approximate; very close neighbors may occasionally swap ranks.
func (s *Store) Search(ctx context.Context, query string, k int) ([]types.SearchResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Search")
	defer timer.Stop()

	if s.engine == nil {
		return nil, ErrNoEmbedder
	}
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}

	vec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.index.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, hit := range hits {
		ev, err := s.Get(ctx, hit.ID)
		if errors.Is(err, ErrNotFound) {
			logging.VectorDebug("Index hit %s has no event row, skipping", hit.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, types.SearchResult{Event: ev, Similarity: hit.Similarity})
	}

	logging.Vector("Search %q returned %d/%d hits", query, len(results), k)
	return results, nil
}

// EventCount reports the total number of persisted events.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*types.Event, error) {
	var ev types.Event
	var payloadJSON, metaJSON string
	var blob []byte
	var createdAt int64

	if err := row.Scan(&ev.ID, &ev.RoomID, &ev.AuthorID, &ev.Content.Text, &payloadJSON, &blob, &metaJSON, &createdAt); err != nil {
		return nil, err
	}

	if payloadJSON != "" && payloadJSON != "{}" {
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Content.Payload); err != nil {
			logging.StoreDebug("Undecodable event payload for %s: %v", ev.ID, err)
		}
	}
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &ev.Metadata); err != nil {
			logging.StoreDebug("Undecodable event metadata for %s: %v", ev.ID, err)
		}
	}
	ev.Embedding = decodeEmbedding(blob)
	ev.CreatedAt = time.Unix(0, createdAt).UTC()
	return &ev, nil
}

func marshalMap[V any](m map[string]V) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// normalizeContent folds case, collapses runs of whitespace, and strips
// trailing punctuation so near-identical retries hash the same.
func normalizeContent(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	return s
}

func hashContent(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec); err != nil {
		return nil
	}
	return vec
}
