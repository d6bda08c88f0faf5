package engine

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	TranscriptFetches    atomic.Int64
	LLMCalls             atomic.Int64
	LLMErrors            atomic.Int64
	EmbedCalls           atomic.Int64
	EmbedErrors          atomic.Int64
	CacheHits            atomic.Int64
	CacheMisses          atomic.Int64
	CacheCorruptions     atomic.Int64
	RateLimitRejections  atomic.Int64
	FallbackEngagements  atomic.Int64
	IngestsStarted       atomic.Int64
	IngestsFailed        atomic.Int64
	QuestionsAnswered    atomic.Int64
	SummariesGenerated   atomic.Int64
}

// GetMetrics returns a snapshot of all counters.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"transcript_fetches":    metrics.TranscriptFetches.Load(),
		"llm_calls":             metrics.LLMCalls.Load(),
		"llm_errors":            metrics.LLMErrors.Load(),
		"embed_calls":           metrics.EmbedCalls.Load(),
		"embed_errors":          metrics.EmbedErrors.Load(),
		"cache_hits":            metrics.CacheHits.Load(),
		"cache_misses":          metrics.CacheMisses.Load(),
		"cache_corruptions":     metrics.CacheCorruptions.Load(),
		"rate_limit_rejections": metrics.RateLimitRejections.Load(),
		"fallback_engagements":  metrics.FallbackEngagements.Load(),
		"ingests_started":       metrics.IngestsStarted.Load(),
		"ingests_failed":        metrics.IngestsFailed.Load(),
		"questions_answered":    metrics.QuestionsAnswered.Load(),
		"summaries_generated":   metrics.SummariesGenerated.Load(),
	}
}

// FormatMetrics returns counters as a simple text format for the HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	keys := []string{
		"transcript_fetches",
		"llm_calls", "llm_errors",
		"embed_calls", "embed_errors",
		"cache_hits", "cache_misses", "cache_corruptions",
		"rate_limit_rejections", "fallback_engagements",
		"ingests_started", "ingests_failed",
		"questions_answered", "summaries_generated",
	}
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for the sources/ sub-package.
func IncrTranscriptFetches() { metrics.TranscriptFetches.Add(1) }
