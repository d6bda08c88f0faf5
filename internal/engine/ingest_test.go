package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestPipeline(t *testing.T, embedCalls *atomic.Int64, batchSizes *[]int) *Pipeline {
	t.Helper()
	embedder := &fakeEmbedder{fn: func(_ string, texts []string) ([][]float32, error) {
		embedCalls.Add(1)
		if batchSizes != nil {
			*batchSizes = append(*batchSizes, len(texts))
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = hashVec(text, 8)
		}
		return out, nil
	}}

	selector := newTestSelector(t, 10000)
	selector.Register(CapEmbed, "embed-test")

	return &Pipeline{
		Cache:        newTestCache(t),
		Selector:     selector,
		Embedder:     embedder,
		ChunkSize:    120,
		ChunkOverlap: 25,
		MaxBatchSize: 4,
		EmbedModel:   "embed-test",
	}
}

func testTranscript() Transcript {
	return Transcript{Text: strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)}
}

func TestIngestBuildsIndex(t *testing.T) {
	var calls atomic.Int64
	p := newTestPipeline(t, &calls, nil)

	index, chunks, err := p.Ingest(context.Background(), "vid00000001", testTranscript())
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	if index.Len() != len(chunks) {
		t.Errorf("index has %d items, want %d", index.Len(), len(chunks))
	}
	if index.Model() != "embed-test" {
		t.Errorf("index model = %q", index.Model())
	}
	if calls.Load() == 0 {
		t.Error("expected embedding calls on first ingest")
	}
}

func TestIngestSecondRunHitsCache(t *testing.T) {
	var calls atomic.Int64
	p := newTestPipeline(t, &calls, nil)
	ctx := context.Background()
	tr := testTranscript()

	if _, _, err := p.Ingest(ctx, "vid00000001", tr); err != nil {
		t.Fatal(err)
	}
	firstRun := calls.Load()

	index, chunks, err := p.Ingest(ctx, "vid00000001", tr)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != firstRun {
		t.Errorf("re-ingest issued %d extra embedding calls", calls.Load()-firstRun)
	}
	if index.Len() != len(chunks) {
		t.Errorf("rebuilt index has %d items, want %d", index.Len(), len(chunks))
	}
}

func TestIngestBatchesRespectLimit(t *testing.T) {
	var calls atomic.Int64
	var batches []int
	p := newTestPipeline(t, &calls, &batches)

	_, chunks, err := p.Ingest(context.Background(), "vid00000001", testTranscript())
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) <= p.MaxBatchSize {
		t.Skipf("need more than %d chunks to exercise batching, got %d", p.MaxBatchSize, len(chunks))
	}

	total := 0
	for i, b := range batches {
		if b > p.MaxBatchSize {
			t.Errorf("batch %d has %d texts, limit %d", i, b, p.MaxBatchSize)
		}
		total += b
	}
	if total != len(chunks) {
		t.Errorf("batched %d texts, want %d", total, len(chunks))
	}
}

func TestIngestEmptyTranscript(t *testing.T) {
	var calls atomic.Int64
	p := newTestPipeline(t, &calls, nil)

	for _, text := range []string{"", "   \n\t  "} {
		_, _, err := p.Ingest(context.Background(), "vid00000001", Transcript{Text: text})
		if !IsCode(err, CodeEmptyTranscript) {
			t.Errorf("text %q: code = %s, want %s", text, CodeOf(err), CodeEmptyTranscript)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("empty transcript reached the embedder: %d calls", calls.Load())
	}
}

func TestIngestChunkConfigChangesKeys(t *testing.T) {
	var calls atomic.Int64
	p := newTestPipeline(t, &calls, nil)
	ctx := context.Background()
	tr := testTranscript()

	if _, _, err := p.Ingest(ctx, "vid00000001", tr); err != nil {
		t.Fatal(err)
	}
	firstRun := calls.Load()

	// Different chunk size must re-chunk and re-embed, never reuse stale
	// artifacts computed under the old parameters.
	p.ChunkSize = 200
	if _, _, err := p.Ingest(ctx, "vid00000001", tr); err != nil {
		t.Fatal(err)
	}
	if calls.Load() == firstRun {
		t.Error("chunk size change reused cached embeddings")
	}
}

func TestIngestEmbedModelChangesKeys(t *testing.T) {
	var calls atomic.Int64
	p := newTestPipeline(t, &calls, nil)
	p.Selector.Register(CapEmbed, "embed-other")
	ctx := context.Background()
	tr := testTranscript()

	if _, _, err := p.Ingest(ctx, "vid00000001", tr); err != nil {
		t.Fatal(err)
	}
	firstRun := calls.Load()

	p.EmbedModel = "embed-other"
	if _, _, err := p.Ingest(ctx, "vid00000001", tr); err != nil {
		t.Fatal(err)
	}
	if calls.Load() == firstRun {
		t.Error("embedding model change reused cached vectors")
	}
}

func TestIngestDistinctVideosDoNotShareEmbeddings(t *testing.T) {
	var calls atomic.Int64
	p := newTestPipeline(t, &calls, nil)
	ctx := context.Background()
	tr := testTranscript()

	if _, _, err := p.Ingest(ctx, "vid00000001", tr); err != nil {
		t.Fatal(err)
	}
	firstRun := calls.Load()

	if _, _, err := p.Ingest(ctx, "vid00000002", tr); err != nil {
		t.Fatal(err)
	}
	if calls.Load() == firstRun {
		t.Error("second video served from first video's embedding cache")
	}
}
