package engine

import (
	"net/http"
	"time"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	// Model routing. ChatModels is the fallback order for completions.
	// EmbedModel is single: every cached embedding and the index are keyed
	// by it, so a silent fallback to another embedding model would poison
	// cache coherence.
	ChatModels []string
	EmbedModel string

	// Chunking and retrieval.
	ChunkSize     int
	ChunkOverlap  int
	TopK          int
	MaxBatchSize  int // max chunks per embedding request
	HistoryTurns  int // QA history window
	MaxVideoSecs  int // reject longer videos
	IngestTimeout time.Duration

	// Cache.
	CacheTTL             time.Duration
	CacheMaxEntries      int
	CacheCleanupInterval time.Duration
	RedisURL             string // L2 redis; empty disables
	CacheDBPath          string // L2 sqlite file; empty disables

	// Admission control and fallback.
	RateLimitPerMinute int
	RateWindow         time.Duration
	FailureThreshold   int
	Cooldown           time.Duration

	// Collaborators. Completer/Embedder/Fetcher are interfaces so tests
	// inject fakes; production impls are built in main.
	Completer  Completer
	Embedder   Embedder
	Fetcher    TranscriptFetcher
	HTTPClient *http.Client
}

// withDefaults fills zero fields with the defaults the original service used.
func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 200
	}
	if c.TopK <= 0 {
		c.TopK = 4
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 64
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 6
	}
	if c.MaxVideoSecs <= 0 {
		c.MaxVideoSecs = 7200
	}
	if c.IngestTimeout <= 0 {
		c.IngestTimeout = 3 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = 2000
	}
	if c.CacheCleanupInterval <= 0 {
		c.CacheCleanupInterval = 5 * time.Minute
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 30
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

// Engine wires the cache, admission control, fallback selection, and the
// per-video session orchestrator. Construct with New; no package globals.
type Engine struct {
	cfg          Config
	Cache        *ArtifactCache
	Limiter      *SlidingLimiter
	Selector     *Selector
	Orchestrator *Orchestrator
}

// New assembles an Engine from cfg. Completer, Embedder, and Fetcher must be
// set; everything else has defaults.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.Completer == nil || cfg.Embedder == nil {
		return nil, Errf(CodeConfigInvalid, "completer and embedder are required")
	}
	if cfg.Fetcher == nil {
		return nil, Errf(CodeConfigInvalid, "transcript fetcher is required")
	}
	if len(cfg.ChatModels) == 0 || cfg.EmbedModel == "" {
		return nil, Errf(CodeConfigInvalid, "at least one chat model and an embedding model are required")
	}

	cache, err := NewArtifactCache(CacheOptions{
		TTL:             cfg.CacheTTL,
		MaxEntries:      cfg.CacheMaxEntries,
		CleanupInterval: cfg.CacheCleanupInterval,
		RedisURL:        cfg.RedisURL,
		SQLitePath:      cfg.CacheDBPath,
	})
	if err != nil {
		return nil, err
	}

	limiter := NewSlidingLimiter(cfg.RateLimitPerMinute, cfg.RateWindow)
	selector := NewSelector(limiter, SelectorOptions{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
	})
	selector.Register(CapChat, cfg.ChatModels...)
	selector.Register(CapEmbed, cfg.EmbedModel)

	pipeline := &Pipeline{
		Cache:        cache,
		Selector:     selector,
		Embedder:     cfg.Embedder,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		MaxBatchSize: cfg.MaxBatchSize,
		EmbedModel:   cfg.EmbedModel,
	}
	summarizer := &Summarizer{Selector: selector, Completer: cfg.Completer}
	qa := &QAEngine{
		Selector:     selector,
		Completer:    cfg.Completer,
		Embedder:     cfg.Embedder,
		EmbedModel:   cfg.EmbedModel,
		TopK:         cfg.TopK,
		HistoryTurns: cfg.HistoryTurns,
	}

	orch := NewOrchestrator(OrchestratorOptions{
		Fetcher:       cfg.Fetcher,
		Pipeline:      pipeline,
		Summarizer:    summarizer,
		QA:            qa,
		Cache:         cache,
		IngestTimeout: cfg.IngestTimeout,
		MaxVideoSecs:  cfg.MaxVideoSecs,
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		ChatModel:     cfg.ChatModels[0],
	})

	return &Engine{
		cfg:          cfg,
		Cache:        cache,
		Limiter:      limiter,
		Selector:     selector,
		Orchestrator: orch,
	}, nil
}

// Close releases cache backends.
func (e *Engine) Close() error {
	return e.Cache.Close()
}
