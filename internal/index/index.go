// Package index wraps an HNSW graph over image embeddings for fast
// nearest-neighbor lookup by path. It backs the similar command; scans never
// require it.
package index

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/gbabichev/Twinalyzer-sub001/internal/embedding"
)

const maxNeighbors = 16

// Index is an in-memory HNSW graph keyed by image path.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	vecs  map[string][]float32
}

// New creates an empty index.
func New() *Index {
	g := hnsw.NewGraph[string]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance
	return &Index{
		graph: g,
		vecs:  make(map[string][]float32),
	}
}

// Add inserts or replaces the embedding for one image path.
func (x *Index) Add(path string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph.Add(hnsw.MakeNode(path, vec))
	x.vecs[path] = vec
}

// Len returns the number of indexed images.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vecs)
}

// Search returns the paths of the k nearest neighbors and their exact cosine
// distances to the query vector. Approximate graph traversal picks the
// candidates; distances are recomputed exactly for stable output.
func (x *Index) Search(query []float32, k int) ([]string, []float64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.vecs) == 0 {
		return nil, nil, errors.New("index is empty")
	}

	neighbors := x.graph.Search(query, k)
	paths := make([]string, len(neighbors))
	distances := make([]float64, len(neighbors))
	for i, n := range neighbors {
		paths[i] = n.Key
		if vec, ok := x.vecs[n.Key]; ok {
			distances[i] = embedding.CosineDistance(query, vec)
		}
	}
	return paths, distances, nil
}
