package vector

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"reverie/internal/logging"
)

// snapshot is the on-disk form of the index. Internal format; only this
// process reads it, and a corrupt or missing file just means a rebuild
// from the event log.
type snapshot struct {
	Dimensions  int
	Metric      Metric
	MaxDegree   int
	SearchWidth int
	Entry       string
	Nodes       []snapshotNode
}

type snapshotNode struct {
	ID    string
	Vec   []float32
	Links []string
}

// Save writes the index to path atomically (temp file + rename).
func (ix *Index) Save(path string) error {
	timer := logging.StartTimer(logging.CategoryVector, "Save")
	defer timer.Stop()

	ix.mu.RLock()
	snap := snapshot{
		Dimensions:  ix.opts.Dimensions,
		Metric:      ix.opts.Metric,
		MaxDegree:   ix.opts.MaxDegree,
		SearchWidth: ix.opts.SearchWidth,
		Entry:       ix.entry,
		Nodes:       make([]snapshotNode, 0, len(ix.nodes)),
	}
	for _, n := range ix.nodes {
		snap.Nodes = append(snap.Nodes, snapshotNode{ID: n.id, Vec: n.vec, Links: n.links})
	}
	ix.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("vector: create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("vector: create snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return fmt.Errorf("vector: encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vector: close snapshot temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("vector: publish snapshot: %w", err)
	}

	logging.Vector("snapshot saved: %d nodes -> %s", len(snap.Nodes), path)
	return nil
}

// LoadSnapshot reads an index from path. os.IsNotExist errors mean no
// snapshot was ever written; callers fall back to a rebuild.
func LoadSnapshot(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("vector: decode snapshot: %w", err)
	}

	ix := New(Options{
		Dimensions:  snap.Dimensions,
		Metric:      snap.Metric,
		MaxDegree:   snap.MaxDegree,
		SearchWidth: snap.SearchWidth,
	})
	ix.entry = snap.Entry
	for _, n := range snap.Nodes {
		ix.nodes[n.ID] = &node{id: n.ID, vec: n.Vec, links: n.Links}
	}

	logging.Vector("snapshot loaded: %d nodes <- %s", len(snap.Nodes), path)
	return ix, nil
}
