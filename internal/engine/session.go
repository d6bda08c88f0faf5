package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// TranscriptFetcher retrieves the transcript for a video id. Implementations
// live in sources/; tests inject fakes.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (Transcript, error)
}

// SessionState is the lifecycle of one video session.
type SessionState int32

const (
	StateNew SessionState = iota
	StateIngesting
	StateReady
)

func (s SessionState) String() string {
	return [...]string{"new", "ingesting", "ready"}[s]
}

// Session binds one video id to its derived artifacts. After the session is
// Ready its index, chunks, and transcript are immutable; concurrent askers
// read them without coordination.
type Session struct {
	VideoID string

	mu         sync.Mutex
	state      SessionState
	index      *VectorIndex
	chunks     []Chunk
	normalized string // normalized transcript text, set when Ready
	lang       string
	summary    *Summary
	done       chan struct{} // closed when the in-flight ingest finishes
	err        error         // result of the last ingest attempt
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Lang returns the transcript language, empty until Ready.
func (s *Session) Lang() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// ChunkCount returns the number of indexed chunks, zero until Ready.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// snapshot returns the Ready artifacts, or not_ready.
func (s *Session) snapshot() (*VectorIndex, []Chunk, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, nil, "", Errf(CodeNotReady, "video %s is not ready (state %s)", s.VideoID, s.state)
	}
	return s.index, s.chunks, s.normalized, nil
}

// OrchestratorOptions wires the orchestrator's collaborators.
type OrchestratorOptions struct {
	Fetcher       TranscriptFetcher
	Pipeline      *Pipeline
	Summarizer    *Summarizer
	QA            *QAEngine
	Cache         *ArtifactCache
	IngestTimeout time.Duration
	MaxVideoSecs  int
	ChunkSize     int
	ChunkOverlap  int
	ChatModel     string
}

// Orchestrator is the top-level facade: one logical session per video id,
// shared ingestion, and the exposed ingest/summarize/ask operations.
// Ingestion runs detached from caller contexts — an abandoned caller stops
// waiting, but never cancels work other callers depend on.
type Orchestrator struct {
	opts OrchestratorOptions

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewOrchestrator creates an orchestrator with no sessions.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// session returns the session for videoID, creating it in StateNew.
func (o *Orchestrator) session(videoID string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[videoID]; ok {
		return s
	}
	s := &Session{VideoID: videoID, state: StateNew}
	o.sessions[videoID] = s
	return s
}

// Lookup returns an existing session or nil.
func (o *Orchestrator) Lookup(videoID string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[videoID]
}

// Load validates the URL, ingests the video if needed, and returns the
// session with its (possibly cached) summary. Re-loading a fully cached
// video issues zero embedding calls.
func (o *Orchestrator) Load(ctx context.Context, rawURL string) (*Session, Summary, error) {
	videoID, err := ExtractVideoID(rawURL)
	if err != nil {
		return nil, Summary{}, err
	}

	sess := o.session(videoID)
	if err := o.ensureReady(ctx, sess); err != nil {
		return nil, Summary{}, err
	}

	summary, err := o.summarize(ctx, sess)
	if err != nil {
		return nil, Summary{}, err
	}
	return sess, summary, nil
}

// GetSummary returns the summary for an already-loaded video, waiting for an
// in-flight ingest when necessary.
func (o *Orchestrator) GetSummary(ctx context.Context, videoID string) (Summary, error) {
	sess := o.Lookup(videoID)
	if sess == nil {
		return Summary{}, Errf(CodeNotReady, "video %s has not been loaded", videoID)
	}
	if err := o.ensureReady(ctx, sess); err != nil {
		return Summary{}, err
	}
	return o.summarize(ctx, sess)
}

// Ask answers a question against a Ready session's index. Concurrent Ask
// calls share the immutable index without locking.
func (o *Orchestrator) Ask(ctx context.Context, videoID, question string, history []Turn) (Answer, error) {
	if err := ValidateQuestion(question); err != nil {
		return Answer{}, err
	}
	sess := o.Lookup(videoID)
	if sess == nil {
		return Answer{}, Errf(CodeNotReady, "video %s has not been loaded", videoID)
	}
	index, _, _, err := sess.snapshot()
	if err != nil {
		return Answer{}, err
	}
	return o.opts.QA.Ask(ctx, index, question, history)
}

// ensureReady starts ingestion if the session is New and waits for the
// in-flight ingest, bounded by the caller's context.
func (o *Orchestrator) ensureReady(ctx context.Context, sess *Session) error {
	sess.mu.Lock()
	switch sess.state {
	case StateReady:
		sess.mu.Unlock()
		return nil
	case StateNew:
		sess.state = StateIngesting
		sess.done = make(chan struct{})
		sess.err = nil
		done := sess.done
		sess.mu.Unlock()
		metrics.IngestsStarted.Add(1)
		go o.runIngest(sess)
		return o.waitIngest(ctx, sess, done)
	default: // StateIngesting
		done := sess.done
		sess.mu.Unlock()
		return o.waitIngest(ctx, sess, done)
	}
}

func (o *Orchestrator) waitIngest(ctx context.Context, sess *Session, done chan struct{}) error {
	select {
	case <-done:
	case <-ctx.Done():
		// Caller gave up; the shared ingest keeps running for others.
		return WrapErr(ctx.Err(), CodeTimeout, "wait for ingest cancelled")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.err
}

// runIngest executes the shared ingest on a detached context with the
// configured timeout. On failure the session resets to New so a later call
// can retry.
func (o *Orchestrator) runIngest(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.IngestTimeout)
	defer cancel()

	index, chunks, tr, err := o.ingest(ctx, sess.VideoID)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = WrapErr(err, CodeIngestTimeout, "ingest timed out, retry the load")
		}
		metrics.IngestsFailed.Add(1)
		slog.Warn("session: ingest failed",
			slog.String("video", sess.VideoID),
			slog.Any("error", err))
		sess.state = StateNew
		sess.err = err
		close(sess.done)
		return
	}

	sess.state = StateReady
	sess.index = index
	sess.chunks = chunks
	sess.normalized = NormalizeTranscript(tr.Text)
	sess.lang = tr.Lang
	sess.err = nil
	slog.Info("session: ready",
		slog.String("video", sess.VideoID),
		slog.Int("chunks", len(chunks)),
		slog.String("lang", tr.Lang))
	close(sess.done)
}

// ingest fetches the transcript (cache first) and runs the chunk & embed
// pipeline.
func (o *Orchestrator) ingest(ctx context.Context, videoID string) (*VectorIndex, []Chunk, Transcript, error) {
	tkey := transcriptKey(videoID)
	tr, ok := GetJSON[Transcript](ctx, o.opts.Cache, KindTranscript, tkey)
	if !ok {
		fetched, err := o.opts.Fetcher.Fetch(ctx, videoID)
		if err != nil {
			return nil, nil, Transcript{}, err
		}
		tr = fetched
		PutJSON(ctx, o.opts.Cache, KindTranscript, tkey, tr)
	}

	if o.opts.MaxVideoSecs > 0 && tr.DurationSecs > o.opts.MaxVideoSecs {
		return nil, nil, Transcript{}, Errf(CodeVideoTooLong,
			"video is %ds long, limit is %ds", tr.DurationSecs, o.opts.MaxVideoSecs)
	}

	index, chunks, err := o.opts.Pipeline.Ingest(ctx, videoID, tr)
	if err != nil {
		return nil, nil, Transcript{}, err
	}
	return index, chunks, tr, nil
}

// summarize serves the session summary: session memo, then cache, then a
// fresh refinement run. Partial summaries are returned but never cached, so
// a later call can complete them.
func (o *Orchestrator) summarize(ctx context.Context, sess *Session) (Summary, error) {
	_, chunks, normalized, err := sess.snapshot()
	if err != nil {
		return Summary{}, err
	}

	sess.mu.Lock()
	if sess.summary != nil {
		s := *sess.summary
		sess.mu.Unlock()
		return s, nil
	}
	sess.mu.Unlock()

	skey := summaryKey(sess.VideoID, normalized, o.opts.ChunkSize, o.opts.ChunkOverlap, o.opts.ChatModel)
	if cached, ok := GetJSON[Summary](ctx, o.opts.Cache, KindSummary, skey); ok {
		sess.mu.Lock()
		sess.summary = &cached
		sess.mu.Unlock()
		return cached, nil
	}

	summary, err := o.opts.Summarizer.Summarize(ctx, chunks)
	if err != nil {
		return Summary{}, err
	}
	if !summary.Partial {
		PutJSON(ctx, o.opts.Cache, KindSummary, skey, summary)
		sess.mu.Lock()
		sess.summary = &summary
		sess.mu.Unlock()
	}
	return summary, nil
}
