// Package face matches face embeddings against the registered gallery.
package face

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// DefaultThreshold is the maximum Euclidean distance accepted as the same person.
const DefaultThreshold = 0.6

const galleryNeighbors = 16

// ErrDimensionMismatch is returned when an embedding's length differs from the gallery's.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Gallery is an in-memory index of one embedding per user. The vectors map is the
// source of truth; the graph is rebuilt from it on every change.
type Gallery struct {
	mu        sync.RWMutex
	vectors   map[string][]float32
	graph     *hnsw.Graph[string]
	dim       int
	threshold float64
}

// NewGallery creates an empty gallery. threshold <= 0 selects DefaultThreshold.
func NewGallery(threshold float64) *Gallery {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gallery{vectors: make(map[string][]float32), graph: newGraph(), threshold: threshold}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = galleryNeighbors
	g.Ml = 1.0 / float64(galleryNeighbors)
	g.Distance = hnsw.EuclideanDistance
	return g
}

func buildGraph(vectors map[string][]float32) *hnsw.Graph[string] {
	g := newGraph()
	for userID, emb := range vectors {
		g.Add(hnsw.MakeNode(userID, emb))
	}
	return g
}

// Put stores or replaces the embedding for userID.
func (g *Gallery) Put(userID string, embedding []float32) error {
	if len(embedding) == 0 {
		return errors.New("empty embedding")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.accepts(userID, len(embedding)); err != nil {
		return err
	}
	g.vectors[userID] = copyVec(embedding)
	g.dim = len(embedding)
	g.graph = buildGraph(g.vectors)
	return nil
}

// Accepts reports whether an embedding of length dim could be stored for userID.
func (g *Gallery) Accepts(userID string, dim int) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.accepts(userID, dim)
}

func (g *Gallery) accepts(userID string, dim int) error {
	if dim == 0 {
		return errors.New("empty embedding")
	}
	_, replacing := g.vectors[userID]
	if len(g.vectors) == 0 || (replacing && len(g.vectors) == 1) || dim == g.dim {
		return nil
	}
	return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, dim, g.dim)
}

// Replace swaps the whole gallery, skipping embeddings whose dimension disagrees with the first one.
func (g *Gallery) Replace(embeddings map[string][]float32) (skipped int) {
	vectors := make(map[string][]float32, len(embeddings))
	dim := 0
	for userID, emb := range embeddings {
		if len(emb) == 0 {
			skipped++
			continue
		}
		if dim == 0 {
			dim = len(emb)
		}
		if len(emb) != dim {
			skipped++
			continue
		}
		vectors[userID] = copyVec(emb)
	}
	graph := buildGraph(vectors)

	g.mu.Lock()
	g.vectors = vectors
	g.graph = graph
	g.dim = dim
	g.mu.Unlock()
	return skipped
}

// Match returns the closest registered user within the threshold.
func (g *Gallery) Match(embedding []float32) (string, float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.vectors) == 0 || len(embedding) != g.dim {
		return "", 0, false
	}
	nearest := g.graph.Search(embedding, 1)
	if len(nearest) == 0 {
		return "", 0, false
	}
	dist := euclidean(embedding, g.vectors[nearest[0].Key])
	if dist > g.threshold {
		return "", dist, false
	}
	return nearest[0].Key, dist, true
}

// Len reports the number of registered users.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vectors)
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func copyVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
