package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/llm"
	"golang.org/x/time/rate"
)

// Completer produces a chat completion with a specific model.
type Completer interface {
	Complete(ctx context.Context, model, system, prompt string) (string, error)
}

// Embedder turns texts into vectors with a specific embedding model.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// stripFences removes markdown code fences from LLM output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// KitCompleter serves completions through go-kit llm clients, one per model
// so the fallback selector can address each candidate directly.
type KitCompleter struct {
	clients map[string]*llm.Client
}

// KitCompleterOptions configures the completion clients.
type KitCompleterOptions struct {
	APIBase      string
	APIKey       string
	FallbackKeys []string
	Models       []string
	Temperature  float64
	MaxTokens    int
	HTTPClient   *http.Client
}

// NewKitCompleter builds one llm client per candidate model.
func NewKitCompleter(opts KitCompleterOptions) *KitCompleter {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	clients := make(map[string]*llm.Client, len(opts.Models))
	for _, model := range opts.Models {
		clients[model] = llm.NewClient(opts.APIBase, opts.APIKey, model,
			llm.WithFallbackKeys(opts.FallbackKeys),
			llm.WithMaxTokens(opts.MaxTokens),
			llm.WithTemperature(opts.Temperature),
			llm.WithHTTPClient(hc),
		)
	}
	return &KitCompleter{clients: clients}
}

// Complete sends the prompt to the named model and translates failures into
// the engine taxonomy.
func (k *KitCompleter) Complete(ctx context.Context, model, system, prompt string) (string, error) {
	client, ok := k.clients[model]
	if !ok {
		return "", Errf(CodeConfigInvalid, "no completion client for model %q", model)
	}
	metrics.LLMCalls.Add(1)
	resp, err := client.Complete(ctx, system, prompt)
	if err != nil {
		metrics.LLMErrors.Add(1)
		return "", translateProviderErr(err, "completion")
	}
	return stripFences(resp), nil
}

// translateProviderErr maps raw provider failures onto the taxonomy so no
// raw provider error crosses upward.
func translateProviderErr(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapErr(err, CodeTimeout, op+" timed out")
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return &EngineError{Code: CodeRateLimited, Message: op + " rate-limited by provider", RetryAfter: 15 * time.Second, Cause: err}
	}
	return WrapErr(err, CodeProviderError, op+" failed")
}

// HTTPEmbedder calls an OpenAI-style /embeddings endpoint. Requests are
// paced with a token-bucket limiter so batch bursts stay under provider
// per-second limits.
type HTTPEmbedder struct {
	baseURL string
	apiKey  string
	http    *http.Client
	pace    *rate.Limiter
}

// NewHTTPEmbedder creates an embedder against baseURL (without the
// /embeddings suffix). requestsPerSec <= 0 disables pacing.
func NewHTTPEmbedder(baseURL, apiKey string, hc *http.Client, requestsPerSec float64) *HTTPEmbedder {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	var pace *rate.Limiter
	if requestsPerSec > 0 {
		pace = rate.NewLimiter(rate.Limit(requestsPerSec), 1)
	}
	return &HTTPEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
		pace:    pace,
	}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests vectors for texts in one provider call.
func (e *HTTPEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.pace != nil {
		if err := e.pace.Wait(ctx); err != nil {
			return nil, WrapErr(err, CodeTimeout, "embedding pacing cancelled")
		}
	}

	metrics.EmbedCalls.Add(1)

	body, err := json.Marshal(embeddingsRequest{Model: model, Input: texts})
	if err != nil {
		return nil, WrapErr(err, CodeProviderError, "encode embeddings request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, WrapErr(err, CodeProviderError, "build embeddings request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		metrics.EmbedErrors.Add(1)
		return nil, translateProviderErr(err, "embedding")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.EmbedErrors.Add(1)
		retryAfter := 15 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if d, perr := time.ParseDuration(ra + "s"); perr == nil {
				retryAfter = d
			}
		}
		return nil, &EngineError{Code: CodeRateLimited, Message: "embedding provider rate-limited", RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		metrics.EmbedErrors.Add(1)
		return nil, Errf(CodeProviderError, "embedding provider status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		metrics.EmbedErrors.Add(1)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, Errf(CodeProviderError, "embedding provider status %d: %s", resp.StatusCode, string(b))
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.EmbedErrors.Add(1)
		return nil, WrapErr(err, CodeProviderError, "decode embeddings response")
	}
	if len(parsed.Data) != len(texts) {
		metrics.EmbedErrors.Add(1)
		return nil, Errf(CodeProviderError, "embedding count mismatch: sent %d, got %d", len(texts), len(parsed.Data))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) == 0 {
			return nil, Errf(CodeProviderError, "empty embedding at index %d", i)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

var _ Completer = (*KitCompleter)(nil)
var _ Embedder = (*HTTPEmbedder)(nil)
