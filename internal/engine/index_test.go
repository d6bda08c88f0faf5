package engine

import (
	"testing"
)

func buildIndex(t *testing.T, vecs [][]float32) *VectorIndex {
	t.Helper()
	ix := NewVectorIndex("vid00000001", "embed-test")
	for i, v := range vecs {
		if err := ix.Add(Chunk{Index: i, Text: "chunk"}, v); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	return ix
}

func TestVectorIndexSearchRanking(t *testing.T) {
	ix := buildIndex(t, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
		{0, 0, 1},
	})

	hits := ix.Search([]float32{1, 0, 0}, 2)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Chunk.Index != 0 {
		t.Errorf("top hit = chunk %d, want 0", hits[0].Chunk.Index)
	}
	if hits[1].Chunk.Index != 2 {
		t.Errorf("second hit = chunk %d, want 2", hits[1].Chunk.Index)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("scores not descending: %f < %f", hits[0].Score, hits[1].Score)
	}
}

func TestVectorIndexSearchTieBreak(t *testing.T) {
	// Identical vectors: ties must break on chunk order.
	ix := buildIndex(t, [][]float32{
		{0, 1},
		{1, 0},
		{1, 0},
	})
	hits := ix.Search([]float32{1, 0}, 2)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Chunk.Index != 1 || hits[1].Chunk.Index != 2 {
		t.Errorf("tie-break order wrong: got %d, %d", hits[0].Chunk.Index, hits[1].Chunk.Index)
	}
}

func TestVectorIndexKLargerThanIndex(t *testing.T) {
	ix := buildIndex(t, [][]float32{{1, 0}, {0, 1}})
	hits := ix.Search([]float32{1, 1}, 10)
	if len(hits) != 2 {
		t.Errorf("got %d hits, want all 2", len(hits))
	}
}

func TestVectorIndexDimensionMismatch(t *testing.T) {
	ix := NewVectorIndex("vid00000001", "embed-test")
	if err := ix.Add(Chunk{Index: 0}, []float32{1, 2, 3}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := ix.Add(Chunk{Index: 1}, []float32{1, 2})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if !IsCode(err, CodeProviderError) {
		t.Errorf("code = %s, want %s", CodeOf(err), CodeProviderError)
	}

	// Query with wrong dimension returns nothing rather than garbage.
	if hits := ix.Search([]float32{1, 2}, 1); hits != nil {
		t.Errorf("expected nil hits for mismatched query, got %d", len(hits))
	}
}

func TestVectorIndexEmptyAndZeroCases(t *testing.T) {
	ix := NewVectorIndex("vid00000001", "embed-test")
	if hits := ix.Search([]float32{1}, 3); hits != nil {
		t.Errorf("empty index should return nil, got %d hits", len(hits))
	}
	if err := ix.Add(Chunk{Index: 0}, nil); err == nil {
		t.Error("expected error for empty vector")
	}
	if ix.Len() != 0 {
		t.Errorf("Len = %d, want 0", ix.Len())
	}
}

func TestVectorIndexMetadata(t *testing.T) {
	ix := NewVectorIndex("dQw4w9WgXcQ", "text-embedding-004")
	if ix.VideoID() != "dQw4w9WgXcQ" {
		t.Errorf("VideoID = %q", ix.VideoID())
	}
	if ix.Model() != "text-embedding-004" {
		t.Errorf("Model = %q", ix.Model())
	}
}
