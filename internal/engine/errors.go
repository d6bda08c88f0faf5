package engine

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies engine failures. Codes are stable identifiers surfaced to
// tool callers; messages are free-form.
type Code string

const (
	CodeInvalidURL            Code = "invalid_url"
	CodeVideoTooLong          Code = "video_too_long"
	CodeEmptyTranscript       Code = "empty_transcript"
	CodeTranscriptUnavailable Code = "transcript_unavailable"
	CodeUnsafeInput           Code = "unsafe_input"
	CodeRateLimited           Code = "rate_limited"
	CodeProviderError         Code = "provider_error"
	CodeTimeout               Code = "timeout"
	CodeAllModelsExhausted    Code = "all_models_exhausted"
	CodeCacheCorruption       Code = "cache_corruption"
	CodeIngestTimeout         Code = "ingest_timeout"
	CodeNotReady              Code = "not_ready"
	CodeConfigInvalid         Code = "config_invalid"
)

// EngineError is the engine's coded error. RetryAfter is set only for
// rate-limit rejections.
type EngineError struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// Errf creates a coded error with a formatted message.
func Errf(code Code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapErr wraps cause with a code and message.
func WrapErr(cause error, code Code, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg, Cause: cause}
}

// RateLimitedErr builds the standard rate-limit rejection.
func RateLimitedErr(retryAfter time.Duration) *EngineError {
	return &EngineError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded, retry in %s", retryAfter.Round(time.Millisecond)),
		RetryAfter: retryAfter,
	}
}

// CodeOf returns the code of the outermost EngineError in err's chain, or
// CodeProviderError for uncoded errors.
func CodeOf(err error) Code {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return CodeProviderError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == code
}
