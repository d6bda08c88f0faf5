// go_tube — YouTube video question-answering MCP server.
//
// Exposes three MCP tools: video_load, video_summary, video_ask.
// Loads a video's transcript, chunks and embeds it into an in-memory vector
// index, and answers questions grounded strictly in retrieved segments.
// Runs as HTTP MCP server or stdio transport.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/engine/sources"
	"github.com/anatolykoptev/go_tube/internal/vidserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	version = "dev"
	mcpPort = env.Str("MCP_PORT", "8893")
)

func main() {
	eng, err := initEngine()
	if err != nil {
		slog.Error("engine init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer eng.Close()

	slog.Info("starting go_tube",
		slog.String("port", mcpPort),
	)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_tube",
		Version: version,
	}, nil)

	vidserver.RegisterTools(server, eng)
	slog.Info("tools registered", slog.Int("count", 3))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_tube",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 600 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func initEngine() (*engine.Engine, error) {
	chatModels := []string{env.Str("LLM_MODEL", "gemini-2.5-flash")}
	for _, m := range env.List("LLM_MODEL_FALLBACK", "gemini-2.0-flash") {
		if m = strings.TrimSpace(m); m != "" {
			chatModels = append(chatModels, m)
		}
	}

	llmBase := env.Str("LLM_API_BASE", "https://generativelanguage.googleapis.com/v1beta/openai")
	llmKey := env.Str("LLM_API_KEY", "")

	completer := engine.NewKitCompleter(engine.KitCompleterOptions{
		APIBase:      llmBase,
		APIKey:       llmKey,
		FallbackKeys: env.List("LLM_API_KEY_FALLBACKS", ""),
		Models:       chatModels,
		Temperature:  env.Float("LLM_TEMPERATURE", 0.2),
		MaxTokens:    env.Int("LLM_MAX_TOKENS", 8192),
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
	})

	embedder := engine.NewHTTPEmbedder(
		env.Str("EMBED_API_BASE", llmBase),
		env.Str("EMBED_API_KEY", llmKey),
		&http.Client{Timeout: 60 * time.Second},
		env.Float("EMBED_REQUESTS_PER_SEC", 2),
	)

	fetchClient := &http.Client{
		Timeout: 20 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     60 * time.Second,
		},
	}
	fetcher := sources.NewYouTube(fetchClient, env.List("TRANSCRIPT_LANGS", "en"))

	return engine.New(engine.Config{
		ChatModels: chatModels,
		EmbedModel: env.Str("EMBEDDING_MODEL", "text-embedding-004"),

		ChunkSize:     env.Int("CHUNK_SIZE", 1000),
		ChunkOverlap:  env.Int("CHUNK_OVERLAP", 200),
		TopK:          env.Int("TOP_K_RETRIEVAL", 4),
		MaxBatchSize:  env.Int("EMBED_BATCH_SIZE", 64),
		HistoryTurns:  env.Int("HISTORY_TURNS", 6),
		MaxVideoSecs:  env.Int("MAX_VIDEO_LENGTH", 7200),
		IngestTimeout: env.Duration("INGEST_TIMEOUT", 3*time.Minute),

		CacheTTL:             env.Duration("CACHE_TTL", time.Hour),
		CacheMaxEntries:      env.Int("CACHE_MAX_ENTRIES", 2000),
		CacheCleanupInterval: env.Duration("CACHE_CLEANUP_INTERVAL", 300*time.Second),
		RedisURL:             env.Str("REDIS_URL", ""),
		CacheDBPath:          env.Str("CACHE_DB", ""),

		RateLimitPerMinute: env.Int("RATE_LIMIT_RPM", 30),
		FailureThreshold:   env.Int("MODEL_FAILURE_THRESHOLD", 3),
		Cooldown:           env.Duration("MODEL_COOLDOWN", 30*time.Second),

		Completer:  completer,
		Embedder:   embedder,
		Fetcher:    fetcher,
		HTTPClient: fetchClient,
	})
}
