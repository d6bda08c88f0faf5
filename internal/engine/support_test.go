package engine

import (
	"context"
	"testing"
	"time"
)

// Shared test fakes. Completer and Embedder are driven by injected
// functions so each test states its provider behavior inline.

type fakeCompleter struct {
	fn func(model, system, prompt string) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, model, system, prompt string) (string, error) {
	return f.fn(model, system, prompt)
}

type fakeEmbedder struct {
	fn func(model string, texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) Embed(_ context.Context, model string, texts []string) ([][]float32, error) {
	return f.fn(model, texts)
}

type fakeFetcher struct {
	fn func(videoID string) (Transcript, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, videoID string) (Transcript, error) {
	return f.fn(videoID)
}

func newTestCache(t *testing.T) *ArtifactCache {
	t.Helper()
	c, err := NewArtifactCache(CacheOptions{
		TTL:             time.Minute,
		MaxEntries:      100,
		CleanupInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("cache init: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestSelector(t *testing.T, ceiling int) *Selector {
	t.Helper()
	limiter := NewSlidingLimiter(ceiling, time.Minute)
	return NewSelector(limiter, SelectorOptions{FailureThreshold: 3, Cooldown: 30 * time.Second})
}

// hashVec builds a deterministic pseudo-embedding from text so equal texts
// always embed identically.
func hashVec(text string, dim int) []float32 {
	v := make([]float32, dim)
	var h uint32 = 2166136261
	for _, b := range []byte(text) {
		h = (h ^ uint32(b)) * 16777619
	}
	for i := range v {
		h = h*1664525 + 1013904223
		v[i] = float32(h%1000)/1000 + 0.001
	}
	return v
}
