package database

import (
	"github.com/coder/hnsw"
)

// HNSWIndex is an approximate nearest-neighbour index over the reference
// embeddings of a fixed identity list. It is built once and never mutated,
// so it can be shared by concurrent searches without locking.
type HNSWIndex struct {
	graph  *hnsw.Graph[int64]
	owners map[int64]int // node key -> position of the owning identity
}

// NewHNSWIndex builds an index from identities. Node keys are assigned in
// identity order; owners maps each back to its identity's slice position.
func NewHNSWIndex(identities []EnrolledIdentity, metric string) *HNSWIndex {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	if metric == MetricEuclidean {
		g.Distance = hnsw.EuclideanDistance
	}

	owners := make(map[int64]int)
	var key int64
	for i := range identities {
		for _, emb := range identities[i].Embeddings {
			if len(emb) == 0 {
				continue
			}
			g.Add(hnsw.MakeNode(key, emb))
			owners[key] = i
			key++
		}
	}

	return &HNSWIndex{graph: g, owners: owners}
}

// Search returns the positions of the identities owning the k nearest
// reference embeddings. Each identity appears at most once.
func (h *HNSWIndex) Search(query []float32, k int) []int {
	if h == nil || h.graph == nil || h.graph.Len() == 0 {
		return nil
	}

	neighbors := h.graph.Search(query, k)
	seen := make(map[int]struct{}, len(neighbors))
	positions := make([]int, 0, len(neighbors))
	for _, n := range neighbors {
		pos, ok := h.owners[n.Key]
		if !ok {
			continue
		}
		if _, dup := seen[pos]; dup {
			continue
		}
		seen[pos] = struct{}{}
		positions = append(positions, pos)
	}
	return positions
}
