package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Pipeline turns a transcript into a searchable vector index: deterministic
// chunking, fingerprinted cache lookups per chunk, batched embedding of the
// misses, cache write-back, index build. Re-ingesting a fully cached
// transcript issues zero embedding calls.
type Pipeline struct {
	Cache        *ArtifactCache
	Selector     *Selector
	Embedder     Embedder
	ChunkSize    int
	ChunkOverlap int
	MaxBatchSize int
	EmbedModel   string
}

// textHash identifies the transcript content inside cache fingerprints.
func textHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:12])
}

// chunksKey fingerprints the chunk set: source text plus every chunking
// parameter. Changing chunk_size or overlap misses and recomputes.
func (p *Pipeline) chunksKey(videoID, text string) string {
	return Fingerprint(videoID, textHash(text), strconv.Itoa(p.ChunkSize), strconv.Itoa(p.ChunkOverlap))
}

// embeddingKey fingerprints one chunk's embedding: video, chunk index, the
// chunk's own text, and the embedding model id.
func (p *Pipeline) embeddingKey(videoID string, c Chunk) string {
	return Fingerprint(videoID, strconv.Itoa(c.Index), textHash(c.Text), p.EmbedModel)
}

// Ingest chunks the transcript, resolves embeddings from cache or provider,
// and builds the vector index. Fails with empty_transcript before any
// provider call when the text is empty or whitespace-only.
func (p *Pipeline) Ingest(ctx context.Context, videoID string, tr Transcript) (*VectorIndex, []Chunk, error) {
	normalized := NormalizeTranscript(tr.Text)
	if strings.TrimSpace(normalized) == "" {
		return nil, nil, Errf(CodeEmptyTranscript, "transcript for %s is empty", videoID)
	}

	ckey := p.chunksKey(videoID, normalized)
	chunks, ok := GetJSON[[]Chunk](ctx, p.Cache, KindChunks, ckey)
	if !ok {
		chunks = SplitChunks(normalized, p.ChunkSize, p.ChunkOverlap)
		PutJSON(ctx, p.Cache, KindChunks, ckey, chunks)
	}
	if len(chunks) == 0 {
		return nil, nil, Errf(CodeEmptyTranscript, "transcript for %s produced no chunks", videoID)
	}

	vectors := make([][]float32, len(chunks))
	var missing []int
	for i, c := range chunks {
		if vec, ok := GetJSON[[]float32](ctx, p.Cache, KindEmbeddings, p.embeddingKey(videoID, c)); ok {
			vectors[i] = vec
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		slog.Info("ingest: embedding uncached chunks",
			slog.String("video", videoID),
			slog.Int("missing", len(missing)),
			slog.Int("total", len(chunks)))
		if err := p.embedMissing(ctx, videoID, chunks, vectors, missing); err != nil {
			return nil, nil, err
		}
	} else {
		slog.Debug("ingest: all embeddings cached", slog.String("video", videoID))
	}

	index := NewVectorIndex(videoID, p.EmbedModel)
	for i, c := range chunks {
		if err := index.Add(c, vectors[i]); err != nil {
			return nil, nil, err
		}
	}
	return index, chunks, nil
}

// embedMissing requests embeddings for the uncached chunks in batches of at
// most MaxBatchSize and writes each result back to the cache.
func (p *Pipeline) embedMissing(ctx context.Context, videoID string, chunks []Chunk, vectors [][]float32, missing []int) error {
	for lo := 0; lo < len(missing); lo += p.MaxBatchSize {
		hi := lo + p.MaxBatchSize
		if hi > len(missing) {
			hi = len(missing)
		}
		batch := missing[lo:hi]

		texts := make([]string, len(batch))
		for i, idx := range batch {
			texts[i] = chunks[idx].Text
		}

		got, err := Call(ctx, p.Selector, CapEmbed, func(ctx context.Context, model string) ([][]float32, error) {
			return p.Embedder.Embed(ctx, model, texts)
		})
		if err != nil {
			return err
		}
		if len(got) != len(batch) {
			return Errf(CodeProviderError, "embedding batch size mismatch: want %d, got %d", len(batch), len(got))
		}

		for i, idx := range batch {
			vectors[idx] = got[i]
			PutJSON(ctx, p.Cache, KindEmbeddings, p.embeddingKey(videoID, chunks[idx]), got[i])
		}
	}
	return nil
}

// summaryKey fingerprints a summary: transcript content, chunking config,
// and the summarizer model. Used by the orchestrator for cache reuse.
func summaryKey(videoID, normalizedText string, chunkSize, overlap int, chatModel string) string {
	return Fingerprint(videoID, textHash(normalizedText),
		fmt.Sprintf("%d/%d", chunkSize, overlap), chatModel)
}

// transcriptKey fingerprints a fetched transcript by video id alone; the
// transcript is the root artifact every other fingerprint hashes over.
func transcriptKey(videoID string) string {
	return Fingerprint(videoID)
}
