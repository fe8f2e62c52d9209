// Package store persists the agent's world: an append-only event log,
// rooms and participants, tasks, and a flat settings map, all backed by
// a single SQLite database. Events carry optional embeddings that feed
// an in-process vector index for semantic recall.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"reverie/internal/embedding"
	"reverie/internal/logging"
	"reverie/internal/vector"
)

// Sentinel errors callers branch on.
var (
	// ErrDuplicateEvent reports that an event with the same normalized
	// content already landed in the room within the dedup window.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrNotFound reports a lookup miss for any persisted record.
	ErrNotFound = errors.New("not found")

	// ErrNoEmbedder reports that a semantic operation was requested but
	// the store was opened without an embedding engine.
	ErrNoEmbedder = errors.New("no embedding engine configured")
)

// Options configures a Store.
type Options struct {
	DBPath      string
	IndexPath   string        // vector index snapshot location; empty disables snapshots
	DedupWindow time.Duration // window for content dedup; <=0 uses the default
	QueryLimit  int           // default result cap for Query; <=0 uses the default
	BusyTimeout int           // SQLite busy_timeout in milliseconds
	Engine      embedding.Engine
	Index       vector.Options
}

// DefaultOptions returns store options suitable for local development.
func DefaultOptions(dbPath string) Options {
	return Options{
		DBPath:      dbPath,
		DedupWindow: 2 * time.Minute,
		QueryLimit:  50,
		BusyTimeout: 5000,
	}
}

// Store is the SQLite-backed persistence layer.
//
// A single connection keeps SQLite access serialized at the driver level;
// writers additionally take a per-room mutex so the dedup check and the
// insert it guards are atomic for that room without blocking other rooms.
type Store struct {
	db     *sql.DB
	dbPath string

	mu        sync.Mutex // guards roomLocks
	roomLocks map[string]*sync.Mutex

	engine embedding.Engine // nil disables embedding and search
	index  *vector.Index

	indexPath   string
	dedupWindow time.Duration
	queryLimit  int
}

// Open opens (creating if needed) the database at opts.DBPath, applies
// pragmas, ensures the schema, and loads or rebuilds the vector index.
func Open(opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if opts.DBPath == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 2 * time.Minute
	}
	if opts.QueryLimit <= 0 {
		opts.QueryLimit = 50
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5000
	}

	dir := filepath.Dir(opts.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	logging.Store("Opening database: %s", opts.DBPath)

	db, err := sql.Open("sqlite", opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with one writer; a single connection avoids
	// SQLITE_BUSY churn under concurrent appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout)); err != nil {
		logging.StoreDebug("Failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		logging.StoreDebug("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		logging.StoreDebug("Failed to set synchronous mode: %v", err)
	}

	s := &Store{
		db:          db,
		dbPath:      opts.DBPath,
		roomLocks:   make(map[string]*sync.Mutex),
		engine:      opts.Engine,
		indexPath:   opts.IndexPath,
		dedupWindow: opts.DedupWindow,
		queryLimit:  opts.QueryLimit,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := s.openIndex(opts.Index); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	logging.Store("Store ready: %s (index entries=%d)", opts.DBPath, s.index.Len())
	return s, nil
}

// Close persists the vector index snapshot and closes the database.
func (s *Store) Close() error {
	if s.indexPath != "" {
		if err := s.index.Save(s.indexPath); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to save index snapshot: %v", err)
		}
	}
	return s.db.Close()
}

// Engine returns the embedding engine the store was opened with, or nil.
func (s *Store) Engine() embedding.Engine { return s.engine }

// Index exposes the vector index for diagnostics.
func (s *Store) Index() *vector.Index { return s.index }

// roomLock returns the mutex guarding writes to a single room.
func (s *Store) roomLock(roomID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.roomLocks[roomID] = l
	}
	return l
}

// =============================================================================
// SCHEMA
// =============================================================================

// All timestamps are stored as INTEGER unix nanoseconds. The modernc
// driver round-trips int64 exactly, and integer ordering is total even
// for events created within the same wall-clock second.

const worldsTable = `
CREATE TABLE IF NOT EXISTS worlds (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	owner_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);`

const roomsTable = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	world_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	channel_type TEXT NOT NULL DEFAULT 'group',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rooms_world ON rooms(world_id);
CREATE INDEX IF NOT EXISTS idx_rooms_channel ON rooms(channel_type);`

const entitiesTable = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL DEFAULT 'user',
	name TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);`

const participantsTable = `
CREATE TABLE IF NOT EXISTS participants (
	room_id TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	relation TEXT NOT NULL DEFAULT 'followed',
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, entity_id)
);
CREATE INDEX IF NOT EXISTS idx_participants_entity ON participants(entity_id);`

// seq is the insertion order; Query orders by it so events created in
// the same nanosecond still have a stable reverse-chronological order.
const eventsTable = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	room_id TEXT NOT NULL,
	author_id TEXT NOT NULL DEFAULT '',
	content_text TEXT NOT NULL DEFAULT '',
	content_payload TEXT NOT NULL DEFAULT '{}',
	content_hash TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT 'external',
	embedding BLOB,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_room ON events(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_room_hash ON events(room_id, content_hash, created_at);
CREATE INDEX IF NOT EXISTS idx_events_author ON events(author_id);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);`

const tasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	worker_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	metadata TEXT NOT NULL DEFAULT '{}',
	result TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_room ON tasks(room_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`

const settingsTable = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);`

// initialize ensures all tables and indexes exist, then applies column
// migrations for databases created by older builds.
func (s *Store) initialize() error {
	timer := logging.StartTimer(logging.CategoryStore, "initialize")
	defer timer.Stop()

	for _, table := range []string{
		worldsTable,
		roomsTable,
		entitiesTable,
		participantsTable,
		eventsTable,
		tasksTable,
		settingsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.StoreDebug("Schema initialized")
	return nil
}

// =============================================================================
// VECTOR INDEX LIFECYCLE
// =============================================================================

// openIndex loads the snapshot when present, otherwise builds the index
// from scratch by replaying embeddings out of the event log.
func (s *Store) openIndex(opts vector.Options) error {
	if opts.Dimensions == 0 && s.engine != nil {
		opts.Dimensions = s.engine.Dimensions()
	}

	if s.indexPath != "" {
		idx, err := vector.LoadSnapshot(s.indexPath)
		if err == nil {
			s.index = idx
			logging.Vector("Loaded index snapshot: %s (%d entries)", s.indexPath, idx.Len())
			return nil
		}
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryVector).Warn("Index snapshot unreadable, rebuilding: %v", err)
		}
	}

	s.index = vector.New(opts)
	return s.rebuildIndex()
}

// rebuildIndex replays every stored embedding into a fresh index.
func (s *Store) rebuildIndex() error {
	timer := logging.StartTimer(logging.CategoryVector, "rebuildIndex")
	defer timer.Stop()

	rows, err := s.db.Query("SELECT id, embedding FROM events WHERE embedding IS NOT NULL ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			logging.Get(logging.CategoryVector).Warn("Skipping undecodable index row: %v", err)
			continue
		}
		vec := decodeEmbedding(blob)
		if len(vec) == 0 {
			continue
		}
		if err := s.index.Insert(id, vec); err != nil {
			logging.Get(logging.CategoryVector).Warn("Skipping event %s during rebuild: %v", id, err)
			continue
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate embeddings: %w", err)
	}

	if count > 0 {
		logging.Vector("Rebuilt index from event log: %d entries", count)
	}
	return nil
}

// SaveIndex writes the current vector index snapshot to disk.
func (s *Store) SaveIndex() error {
	if s.indexPath == "" {
		return nil
	}
	return s.index.Save(s.indexPath)
}
