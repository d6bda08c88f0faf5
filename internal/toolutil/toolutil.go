// Package toolutil provides shared helpers for go_tube MCP tools: mapping
// engine error codes to messages safe to hand to callers, and per-tool
// admission checks.
package toolutil

import (
	"errors"
	"fmt"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// UserMessage maps an engine error to a short, actionable message. Internal
// detail (provider bodies, upstream URLs) never leaks through here.
func UserMessage(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) && ee.Code == engine.CodeRateLimited && ee.RetryAfter > 0 {
		secs := int(ee.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("rate limit reached, retry in %ds", secs)
	}

	switch engine.CodeOf(err) {
	case engine.CodeInvalidURL:
		return "not a valid YouTube video URL"
	case engine.CodeVideoTooLong:
		return "video exceeds the maximum supported length"
	case engine.CodeEmptyTranscript:
		return "the video transcript is empty"
	case engine.CodeTranscriptUnavailable:
		return "no transcript is available for this video"
	case engine.CodeUnsafeInput:
		return "input rejected by content screening"
	case engine.CodeRateLimited:
		return "rate limit reached, retry shortly"
	case engine.CodeAllModelsExhausted:
		return "all configured models are unavailable, retry later"
	case engine.CodeNotReady:
		return "video is not loaded yet, call video_load first"
	case engine.CodeIngestTimeout:
		return "processing took too long, retry video_load"
	case engine.CodeTimeout:
		return "the operation timed out"
	case engine.CodeConfigInvalid:
		return "server is misconfigured"
	default:
		return "internal error, see server logs"
	}
}

// CallerError converts an engine error into the error returned over MCP:
// the user message tagged with the stable code.
func CallerError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s [%s]", UserMessage(err), engine.CodeOf(err))
}

// Admit checks the per-tool rate limit and returns a caller-safe error on
// rejection.
func Admit(limiter *engine.SlidingLimiter, tool string) error {
	adm := limiter.TryAdmit("tool:"+tool, 1)
	if adm.Admitted {
		return nil
	}
	return CallerError(engine.RateLimitedErr(adm.RetryAfter))
}
