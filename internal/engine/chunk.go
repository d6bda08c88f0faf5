package engine

import (
	"strings"
	"unicode"
)

// Chunk is one ordered fragment of a transcript. Start/End are rune offsets
// into the normalized transcript text; spans are contiguous and
// monotonically increasing except for the configured overlap, so chunking
// the same text with the same config always yields identical boundaries.
type Chunk struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	OverlapPrev int    `json:"overlap_prev"`
}

// NormalizeTranscript collapses runs of whitespace to single spaces and
// trims the ends. Chunk offsets refer to this normalized form.
func NormalizeTranscript(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	prevSpace := true
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace {
				sb.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		sb.WriteRune(r)
		prevSpace = false
	}
	return strings.TrimRight(sb.String(), " ")
}

// SplitChunks splits normalized text into windows of about size runes with
// overlap runes shared between neighbours. Boundaries back up to the nearest
// space when one exists in the second half of the window, so words are not
// split where avoidable.
func SplitChunks(text string, size, overlap int) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk
	start := 0
	prevEnd := 0
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else {
			// Prefer a space boundary in the back half of the window.
			cut := -1
			for i := end; i > start+size/2; i-- {
				if runes[i-1] == ' ' {
					cut = i - 1
					break
				}
			}
			if cut > start {
				end = cut
			}
		}

		overlapPrev := 0
		if len(chunks) > 0 && start < prevEnd {
			overlapPrev = prevEnd - start
		}

		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        strings.TrimSpace(string(runes[start:end])),
			Start:       start,
			End:         end,
			OverlapPrev: overlapPrev,
		})

		if end == n {
			break
		}
		prevEnd = end
		next := end - overlap
		if next <= start {
			next = end // guarantee forward progress
		}
		// Step forward off a mid-word landing so the overlap region starts
		// at a word boundary when one is near.
		for next < n && next > 0 && runes[next] != ' ' && runes[next-1] != ' ' && next < end {
			next++
		}
		start = next
	}
	return chunks
}
