package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Summary is the derived overview of one transcript. Partial marks a summary
// whose refinement loop stopped early; it covers the transcript only up to
// the last successful step.
type Summary struct {
	Overview    string    `json:"overview"`
	KeyPoints   []string  `json:"key_points"`
	GeneratedAt time.Time `json:"generated_at"`
	ModelID     string    `json:"model_id"`
	Partial     bool      `json:"partial,omitempty"`
}

// Summarizer produces a Summary by iterative refinement: one completion per
// chunk threading a running summary, then one key-points extraction. Each
// prompt stays bounded by chunk size regardless of transcript length.
type Summarizer struct {
	Selector  *Selector
	Completer Completer
}

// Summarize runs the refinement loop over chunks in order. When a step fails
// after the selector exhausts its candidates, the summary accumulated so far
// is returned tagged Partial instead of discarding the progress.
func (s *Summarizer) Summarize(ctx context.Context, chunks []Chunk) (Summary, error) {
	if len(chunks) == 0 {
		return Summary{}, Errf(CodeEmptyTranscript, "no chunks to summarize")
	}

	running := ""
	usedModel := ""
	for i, chunk := range chunks {
		seed := running
		if seed == "" {
			seed = "(none yet)"
		}
		prompt := fmt.Sprintf(refinePrompt, seed, chunk.Text)

		type step struct {
			text  string
			model string
		}
		out, err := Call(ctx, s.Selector, CapChat, func(ctx context.Context, model string) (step, error) {
			text, cerr := s.Completer.Complete(ctx, model, "", prompt)
			return step{text: text, model: model}, cerr
		})
		if err != nil {
			if running == "" {
				return Summary{}, err
			}
			slog.Warn("summarize: refinement stopped early",
				slog.Int("step", i),
				slog.Int("total", len(chunks)),
				slog.Any("error", err))
			return Summary{
				Overview:    running,
				GeneratedAt: time.Now(),
				ModelID:     usedModel,
				Partial:     true,
			}, nil
		}
		if t := strings.TrimSpace(out.text); t != "" {
			running = t
		}
		usedModel = out.model
	}

	points, err := s.extractKeyPoints(ctx, running)
	if err != nil {
		slog.Warn("summarize: key point extraction failed", slog.Any("error", err))
		return Summary{
			Overview:    running,
			GeneratedAt: time.Now(),
			ModelID:     usedModel,
			Partial:     true,
		}, nil
	}

	metrics.SummariesGenerated.Add(1)
	return Summary{
		Overview:    running,
		KeyPoints:   points,
		GeneratedAt: time.Now(),
		ModelID:     usedModel,
	}, nil
}

// extractKeyPoints asks for 3-5 takeaways and parses the JSON answer, with a
// line-splitting fallback for models that answer in bullets anyway.
func (s *Summarizer) extractKeyPoints(ctx context.Context, summary string) ([]string, error) {
	prompt := fmt.Sprintf(keyPointsPrompt, summary)
	raw, err := Call(ctx, s.Selector, CapChat, func(ctx context.Context, model string) (string, error) {
		return s.Completer.Complete(ctx, model, "", prompt)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		KeyPoints []string `json:"key_points"`
	}
	if json.Unmarshal([]byte(raw), &parsed) == nil && len(parsed.KeyPoints) > 0 {
		return clampPoints(parsed.KeyPoints), nil
	}
	return clampPoints(splitBullets(raw)), nil
}

// splitBullets parses "- point" / "* point" / "1. point" lines.
func splitBullets(raw string) []string {
	var points []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		line = strings.TrimLeft(line, "0123456789.) ")
		if line != "" {
			points = append(points, line)
		}
	}
	return points
}

func clampPoints(points []string) []string {
	out := points[:0]
	for _, p := range points {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
