// Package vector implements the approximate-nearest-neighbor index behind
// semantic recall. The structure is a small-world graph: each entry links to
// a bounded number of near neighbors, and search greedily walks the links
// from an entry point toward the query. Approximate by design; exact recall
// is not a goal.
package vector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"reverie/internal/logging"
)

// Metric selects the similarity function, fixed at index construction.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

// Sentinel errors returned by index operations.
var (
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")
	ErrDuplicateID       = errors.New("vector: id already indexed")
	ErrEmptyVector       = errors.New("vector: empty vector")
)

// Options configures an index.
type Options struct {
	// Dimensions fixes the vector width. Zero means adopt the width of the
	// first inserted vector.
	Dimensions int
	// Metric is the similarity function. Defaults to cosine.
	Metric Metric
	// MaxDegree bounds the links kept per node.
	MaxDegree int
	// SearchWidth is the candidate frontier maintained during search.
	// Wider is more accurate and slower.
	SearchWidth int
}

// DefaultOptions returns the tuning used by the runtime.
func DefaultOptions(dims int) Options {
	return Options{
		Dimensions:  dims,
		Metric:      MetricCosine,
		MaxDegree:   16,
		SearchWidth: 32,
	}
}

// Result is one search hit.
type Result struct {
	ID         string
	Similarity float32
}

type node struct {
	id    string
	vec   []float32
	links []string
}

// Index is the in-process ANN graph. Safe for concurrent use: readers see
// either the pre- or post-insert graph, never a half-linked node.
type Index struct {
	mu    sync.RWMutex
	opts  Options
	nodes map[string]*node
	entry string
}

// New creates an empty index.
func New(opts Options) *Index {
	if opts.Metric == "" {
		opts.Metric = MetricCosine
	}
	if opts.MaxDegree <= 0 {
		opts.MaxDegree = 16
	}
	if opts.SearchWidth < opts.MaxDegree {
		opts.SearchWidth = opts.MaxDegree * 2
	}
	return &Index{
		opts:  opts,
		nodes: make(map[string]*node),
	}
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// Dimensions returns the fixed vector width, 0 if nothing was inserted yet.
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.opts.Dimensions
}

// Contains reports whether id is indexed.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.nodes[id]
	return ok
}

// Insert adds a vector under id and links it to its nearest neighbors, up
// to the degree bound. Links are kept symmetric so removal stays local.
func (ix *Index) Insert(id string, vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.opts.Dimensions == 0 {
		ix.opts.Dimensions = len(vec)
	}
	if len(vec) != ix.opts.Dimensions {
		return fmt.Errorf("%w: got %d, index holds %d", ErrDimensionMismatch, len(vec), ix.opts.Dimensions)
	}
	if _, exists := ix.nodes[id]; exists {
		return ErrDuplicateID
	}

	n := &node{id: id, vec: vec}
	if len(ix.nodes) == 0 {
		ix.nodes[id] = n
		ix.entry = id
		return nil
	}

	neighbors := ix.searchLocked(vec, ix.opts.SearchWidth)
	if len(neighbors) > ix.opts.MaxDegree {
		neighbors = neighbors[:ix.opts.MaxDegree]
	}
	for _, nb := range neighbors {
		n.links = append(n.links, nb.ID)
	}
	ix.nodes[id] = n

	for _, nb := range neighbors {
		other := ix.nodes[nb.ID]
		other.links = append(other.links, id)
		if len(other.links) > ix.opts.MaxDegree {
			ix.pruneLocked(other)
		}
	}
	return nil
}

// pruneLocked trims a node back to its MaxDegree most similar links,
// dropping the reverse edge of every discarded link.
func (ix *Index) pruneLocked(n *node) {
	scored := make([]Result, 0, len(n.links))
	for _, lid := range n.links {
		other, ok := ix.nodes[lid]
		if !ok {
			continue
		}
		scored = append(scored, Result{ID: lid, Similarity: ix.similarity(n.vec, other.vec)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })

	keep := scored
	if len(keep) > ix.opts.MaxDegree {
		keep = scored[:ix.opts.MaxDegree]
	}
	n.links = n.links[:0]
	for _, s := range keep {
		n.links = append(n.links, s.ID)
	}
	for _, s := range scored[len(keep):] {
		if dropped, ok := ix.nodes[s.ID]; ok {
			dropped.links = removeLink(dropped.links, n.id)
		}
	}
}

// Remove deletes a vector and its links. Returns false if id was absent.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n, ok := ix.nodes[id]
	if !ok {
		return false
	}
	for _, lid := range n.links {
		if other, ok := ix.nodes[lid]; ok {
			other.links = removeLink(other.links, id)
		}
	}
	delete(ix.nodes, id)

	if ix.entry == id {
		ix.entry = ""
		for nid := range ix.nodes {
			ix.entry = nid
			break
		}
	}
	return true
}

// Search returns the top-k indexed vectors by similarity to q, most
// similar first. Returns at most k results.
func (ix *Index) Search(q []float32, k int) ([]Result, error) {
	if len(q) == 0 {
		return nil, ErrEmptyVector
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.nodes) == 0 {
		return nil, nil
	}
	if len(q) != ix.opts.Dimensions {
		return nil, fmt.Errorf("%w: got %d, index holds %d", ErrDimensionMismatch, len(q), ix.opts.Dimensions)
	}

	width := ix.opts.SearchWidth
	if width < k {
		width = k
	}
	best := ix.searchLocked(q, width)
	if len(best) > k {
		best = best[:k]
	}
	return best, nil
}

// searchLocked is the greedy walk: start at the entry point, always expand
// the most similar frontier node, stop once the frontier cannot improve the
// current candidate set. Caller holds at least a read lock.
func (ix *Index) searchLocked(q []float32, width int) []Result {
	entry, ok := ix.nodes[ix.entry]
	if !ok {
		return nil
	}

	entryResult := Result{ID: entry.id, Similarity: ix.similarity(q, entry.vec)}
	visited := map[string]bool{entry.id: true}
	frontier := []Result{entryResult}
	best := []Result{entryResult}

	for len(frontier) > 0 {
		// Pop the most similar frontier entry.
		bi := 0
		for i := range frontier {
			if frontier[i].Similarity > frontier[bi].Similarity {
				bi = i
			}
		}
		cur := frontier[bi]
		frontier[bi] = frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]

		if len(best) >= width && cur.Similarity < best[len(best)-1].Similarity {
			break
		}

		for _, lid := range ix.nodes[cur.ID].links {
			if visited[lid] {
				continue
			}
			visited[lid] = true
			nb, ok := ix.nodes[lid]
			if !ok {
				continue
			}
			r := Result{ID: lid, Similarity: ix.similarity(q, nb.vec)}
			if len(best) < width || r.Similarity > best[len(best)-1].Similarity {
				best = insertSorted(best, r, width)
				frontier = append(frontier, r)
			}
		}
	}
	return best
}

func (ix *Index) similarity(a, b []float32) float32 {
	if ix.opts.Metric == MetricDot {
		return Dot(a, b)
	}
	return Cosine(a, b)
}

// insertSorted keeps results ordered most-similar-first, capped at width.
func insertSorted(rs []Result, r Result, width int) []Result {
	pos := sort.Search(len(rs), func(i int) bool { return rs[i].Similarity < r.Similarity })
	rs = append(rs, Result{})
	copy(rs[pos+1:], rs[pos:])
	rs[pos] = r
	if len(rs) > width {
		rs = rs[:width]
	}
	return rs
}

func removeLink(links []string, id string) []string {
	for i, l := range links {
		if l == id {
			return append(links[:i], links[i+1:]...)
		}
	}
	return links
}

// Reset drops every node. Used before a rebuild from the event log.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.nodes = make(map[string]*node)
	ix.entry = ""
	logging.VectorDebug("index reset")
}
