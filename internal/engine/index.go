package engine

import (
	"math"
	"sort"
)

// SearchHit is one nearest-neighbour result.
type SearchHit struct {
	Chunk Chunk
	Score float64 // cosine similarity, higher is better
}

// VectorIndex maps chunk embeddings to chunks for one video and answers
// nearest-neighbour queries by cosine similarity. It is built once during
// ingestion and read-only afterwards, so concurrent Search calls need no
// locking. The index lives only for the process lifetime; it is rebuilt
// from cached embeddings, never cached itself.
type VectorIndex struct {
	videoID string
	model   string
	dim     int
	items   []indexItem
}

type indexItem struct {
	chunk Chunk
	vec   []float32
	norm  float64
}

// NewVectorIndex creates an empty index bound to a video and embedding model.
func NewVectorIndex(videoID, model string) *VectorIndex {
	return &VectorIndex{videoID: videoID, model: model}
}

// VideoID returns the video this index was built for.
func (ix *VectorIndex) VideoID() string { return ix.videoID }

// Model returns the embedding model id the index vectors were computed with.
func (ix *VectorIndex) Model() string { return ix.model }

// Len returns the number of indexed chunks.
func (ix *VectorIndex) Len() int { return len(ix.items) }

// Add inserts a chunk with its embedding. All vectors must share one
// dimension; the first insert fixes it.
func (ix *VectorIndex) Add(chunk Chunk, vec []float32) error {
	if len(vec) == 0 {
		return Errf(CodeProviderError, "empty vector for chunk %d", chunk.Index)
	}
	if ix.dim == 0 {
		ix.dim = len(vec)
	} else if len(vec) != ix.dim {
		return Errf(CodeProviderError, "vector dimension %d != index dimension %d", len(vec), ix.dim)
	}
	ix.items = append(ix.items, indexItem{chunk: chunk, vec: vec, norm: vectorNorm(vec)})
	return nil
}

// Search returns the k most similar chunks to query, ranked by cosine
// similarity descending. Ties break on chunk order for determinism.
func (ix *VectorIndex) Search(query []float32, k int) []SearchHit {
	if k <= 0 || len(ix.items) == 0 || len(query) != ix.dim {
		return nil
	}
	qnorm := vectorNorm(query)
	if qnorm == 0 {
		return nil
	}

	hits := make([]SearchHit, 0, len(ix.items))
	for _, it := range ix.items {
		if it.norm == 0 {
			continue
		}
		hits = append(hits, SearchHit{Chunk: it.chunk, Score: dot(query, it.vec) / (qnorm * it.norm)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Index < hits[j].Chunk.Index
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func vectorNorm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
