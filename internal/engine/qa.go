package engine

import (
	"context"
	"fmt"
	"strings"
)

// QAEngine answers questions grounded in one video's vector index. Retrieved
// chunk text is the only knowledge source handed to the model; history is
// bounded so prompt size stays stable however long the session runs.
type QAEngine struct {
	Selector     *Selector
	Completer    Completer
	Embedder     Embedder
	EmbedModel   string
	TopK         int
	HistoryTurns int
}

// Ask embeds the question, retrieves the top-K chunks from index, and
// generates a grounded answer. The index must have been built with the
// engine's embedding model; a mismatch is a configuration error, never a
// silent re-embed.
func (q *QAEngine) Ask(ctx context.Context, index *VectorIndex, question string, history []Turn) (Answer, error) {
	if index == nil || index.Len() == 0 {
		return Answer{}, Errf(CodeNotReady, "no index available")
	}
	if index.Model() != q.EmbedModel {
		return Answer{}, Errf(CodeConfigInvalid,
			"index built with embedding model %q, engine configured with %q", index.Model(), q.EmbedModel)
	}

	qvec, err := Call(ctx, q.Selector, CapEmbed, func(ctx context.Context, model string) ([]float32, error) {
		vecs, eerr := q.Embedder.Embed(ctx, model, []string{question})
		if eerr != nil {
			return nil, eerr
		}
		if len(vecs) != 1 {
			return nil, Errf(CodeProviderError, "expected 1 question vector, got %d", len(vecs))
		}
		return vecs[0], nil
	})
	if err != nil {
		return Answer{}, err
	}

	hits := index.Search(qvec, q.TopK)
	if len(hits) == 0 {
		return Answer{}, Errf(CodeNotReady, "retrieval returned no segments")
	}

	prompt := fmt.Sprintf(qaUserPrompt,
		formatContext(hits),
		formatHistory(history, q.HistoryTurns),
		question)

	type reply struct {
		text  string
		model string
	}
	out, err := Call(ctx, q.Selector, CapChat, func(ctx context.Context, model string) (reply, error) {
		text, cerr := q.Completer.Complete(ctx, model, qaSystemPrompt, prompt)
		return reply{text: text, model: model}, cerr
	})
	if err != nil {
		return Answer{}, err
	}

	sources := make([]int, len(hits))
	for i, h := range hits {
		sources[i] = h.Chunk.Index
	}

	metrics.QuestionsAnswered.Add(1)
	return Answer{
		Text:    strings.TrimSpace(out.text),
		Sources: sources,
		ModelID: out.model,
	}, nil
}

// formatContext renders retrieved chunks as numbered segments.
func formatContext(hits []SearchHit) string {
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "[Segment %d]\n%s\n\n", i+1, h.Chunk.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatHistory renders the most recent turns, oldest first. Older turns are
// dropped beyond the window.
func formatHistory(history []Turn, maxTurns int) string {
	if len(history) == 0 {
		return "(none)"
	}
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var sb strings.Builder
	for _, t := range history {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", strings.TrimSpace(t.Question), strings.TrimSpace(t.Answer))
	}
	return strings.TrimRight(sb.String(), "\n")
}
