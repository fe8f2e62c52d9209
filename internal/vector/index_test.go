package vector

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
)

// axisVec builds a unit vector along the given axis with a small nudge so
// cluster members are distinct but stay well separated across axes.
func axisVec(dims, axis int, nudge float32) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	v[(axis+1)%dims] = nudge
	return v
}

func TestInsertAndSearchOrdering(t *testing.T) {
	ix := New(DefaultOptions(8))

	// Three clusters on orthogonal axes. Approximate index, so assertions
	// stick to well-separated vectors only.
	for c := 0; c < 3; c++ {
		for i := 0; i < 4; i++ {
			id := fmt.Sprintf("c%d-%d", c, i)
			if err := ix.Insert(id, axisVec(8, c, float32(i)*0.01)); err != nil {
				t.Fatalf("insert %s: %v", id, err)
			}
		}
	}

	results, err := ix.Search(axisVec(8, 1, 0.005), 4)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.ID[:2] != "c1" {
			t.Errorf("expected only cluster-1 hits near axis 1, got %s (sim %f)", r.ID, r.Similarity)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("similarities must be non-increasing: %v", results)
		}
	}
}

func TestSearchReturnsAtMostK(t *testing.T) {
	ix := New(DefaultOptions(4))
	for i := 0; i < 10; i++ {
		if err := ix.Insert(fmt.Sprintf("n%d", i), axisVec(4, i%4, float32(i)*0.02)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	results, err := ix.Search(axisVec(4, 0, 0), 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) > 3 {
		t.Fatalf("expected at most 3 results, got %d", len(results))
	}

	none, err := ix.Search(axisVec(4, 0, 0), 0)
	if err != nil || none != nil {
		t.Fatalf("k=0 should return nothing, got %v (%v)", none, err)
	}
}

func TestEmptyIndexSearch(t *testing.T) {
	ix := New(DefaultOptions(4))
	results, err := ix.Search([]float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("search on empty index: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestInsertErrors(t *testing.T) {
	ix := New(DefaultOptions(4))

	if err := ix.Insert("a", nil); !errors.Is(err, ErrEmptyVector) {
		t.Errorf("empty vector: got %v", err)
	}
	if err := ix.Insert("a", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := ix.Insert("a", []float32{0, 1, 0, 0}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate id: got %v", err)
	}
	if err := ix.Insert("b", []float32{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("dimension mismatch: got %v", err)
	}
	if _, err := ix.Search([]float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("search dimension mismatch: got %v", err)
	}
}

func TestDimensionsAdoptedFromFirstInsert(t *testing.T) {
	ix := New(Options{Metric: MetricCosine, MaxDegree: 4, SearchWidth: 8})
	if err := ix.Insert("a", []float32{1, 2, 3}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := ix.Dimensions(); got != 3 {
		t.Fatalf("dimensions = %d, want 3", got)
	}
	if err := ix.Insert("b", []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected mismatch after adoption, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	ix := New(DefaultOptions(4))
	for i := 0; i < 6; i++ {
		if err := ix.Insert(fmt.Sprintf("n%d", i), axisVec(4, i%2, float32(i)*0.01)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if !ix.Remove("n0") {
		t.Fatalf("remove existing id should report true")
	}
	if ix.Remove("n0") {
		t.Fatalf("second remove should report false")
	}
	if ix.Contains("n0") {
		t.Fatalf("removed id still present")
	}

	results, err := ix.Search(axisVec(4, 0, 0), 10)
	if err != nil {
		t.Fatalf("search after remove: %v", err)
	}
	for _, r := range results {
		if r.ID == "n0" {
			t.Fatalf("removed id returned from search")
		}
	}
	if ix.Len() != 5 {
		t.Fatalf("len = %d, want 5", ix.Len())
	}
}

func TestRemoveEntryPointKeepsIndexSearchable(t *testing.T) {
	ix := New(DefaultOptions(4))
	// First insert becomes the entry point.
	if err := ix.Insert("entry", axisVec(4, 0, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := ix.Insert(fmt.Sprintf("n%d", i), axisVec(4, 1, float32(i)*0.01)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	ix.Remove("entry")
	results, err := ix.Search(axisVec(4, 1, 0), 2)
	if err != nil {
		t.Fatalf("search after entry removal: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("index unsearchable after entry removal")
	}
}

func TestDotMetric(t *testing.T) {
	ix := New(Options{Dimensions: 2, Metric: MetricDot, MaxDegree: 4, SearchWidth: 8})
	if err := ix.Insert("long", []float32{3, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ix.Insert("short", []float32{1, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := ix.Search([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// Inner product rewards magnitude; cosine would tie these.
	if results[0].ID != "long" {
		t.Fatalf("dot metric should rank the longer vector first, got %s", results[0].ID)
	}
}

func TestConcurrentInsertAndSearch(t *testing.T) {
	ix := New(DefaultOptions(8))
	rng := rand.New(rand.NewSource(42))

	seed := make([][]float32, 200)
	for i := range seed {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()
		}
		seed[i] = v
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(seed); i += 4 {
				if err := ix.Insert(fmt.Sprintf("v%d", i), seed[i]); err != nil {
					t.Errorf("insert v%d: %v", i, err)
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			q := make([]float32, 8)
			q[r%8] = 1
			for i := 0; i < 50; i++ {
				if _, err := ix.Search(q, 5); err != nil {
					t.Errorf("search: %v", err)
				}
			}
		}(r)
	}
	wg.Wait()

	if ix.Len() != len(seed) {
		t.Fatalf("len = %d, want %d", ix.Len(), len(seed))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ix := New(DefaultOptions(8))
	for c := 0; c < 3; c++ {
		for i := 0; i < 4; i++ {
			id := fmt.Sprintf("c%d-%d", c, i)
			if err := ix.Insert(id, axisVec(8, c, float32(i)*0.01)); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "idx", "reverie.index")
	if err := ix.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != ix.Len() {
		t.Fatalf("len after load = %d, want %d", loaded.Len(), ix.Len())
	}

	q := axisVec(8, 2, 0.005)
	want, err := ix.Search(q, 3)
	if err != nil {
		t.Fatalf("search original: %v", err)
	}
	got, err := loaded.Search(q, 3)
	if err != nil {
		t.Fatalf("search loaded: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("result count differs after reload: %d vs %d", len(got), len(want))
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			t.Errorf("result %d differs after reload: %s vs %s", i, got[i].ID, want[i].ID)
		}
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "none.index")); err == nil {
		t.Fatalf("expected error for missing snapshot")
	}
}

func TestCosineAndDot(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors should score ~1, got %f", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors should score 0, got %f", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("mismatched lengths should score 0, got %f", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero vector should score 0, got %f", got)
	}
	if got := Dot([]float32{2, 3}, []float32{4, 5}); got != 23 {
		t.Errorf("dot = %f, want 23", got)
	}
}
