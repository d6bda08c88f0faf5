package engine

import "time"

// --- Domain types ---

// Transcript is the immutable fetched transcript of one video.
type Transcript struct {
	Text         string    `json:"text"`
	Lang         string    `json:"lang"`
	DurationSecs int       `json:"duration_secs,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Turn is one question/answer exchange of the conversation history.
type Turn struct {
	Question string `json:"question" jsonschema:"Earlier user question"`
	Answer   string `json:"answer" jsonschema:"Earlier assistant answer"`
}

// Answer is a grounded QA result. Sources lists the indices of the
// transcript chunks the answer was generated from.
type Answer struct {
	Text    string `json:"text"`
	Sources []int  `json:"sources"`
	ModelID string `json:"model_id"`
}

// --- Tool input/output types (JSON over MCP) ---

type VideoLoadInput struct {
	URL string `json:"url" jsonschema:"YouTube video URL (youtube.com/watch?v=... or youtu.be/...)"`
}

type VideoLoadOutput struct {
	VideoID   string   `json:"video_id"`
	Lang      string   `json:"lang,omitempty"`
	Chunks    int      `json:"chunks"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Partial   bool     `json:"partial,omitempty"` // summary stopped early
}

type VideoSummaryInput struct {
	VideoID string `json:"video_id" jsonschema:"Video ID returned by video_load"`
}

type VideoSummaryOutput struct {
	VideoID   string   `json:"video_id"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	ModelID   string   `json:"model_id"`
	Partial   bool     `json:"partial,omitempty"`
}

type VideoAskInput struct {
	VideoID  string `json:"video_id" jsonschema:"Video ID returned by video_load"`
	Question string `json:"question" jsonschema:"Question about the video content"`
	History  []Turn `json:"history,omitempty" jsonschema:"Prior turns of this conversation, oldest first"`
}

type VideoAskOutput struct {
	VideoID string `json:"video_id"`
	Answer  string `json:"answer"`
	Sources []int  `json:"sources"` // chunk indices used as grounding context
	ModelID string `json:"model_id"`
}
