package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Capability names a class of model task. Callers ask for a capability, not
// a concrete model; the selector decides which candidate serves the call.
type Capability string

const (
	CapChat  Capability = "chat"
	CapEmbed Capability = "embed"
)

// modelHealth tracks per-model failure state. A model crossing the failure
// threshold is disabled until its cooldown expires; any success resets it.
type modelHealth struct {
	consecutiveFailures int
	lastFailureAt       time.Time
	disabledUntil       time.Time
}

type candidate struct {
	model  string
	health modelHealth
}

// SelectorOptions configures failure handling.
type SelectorOptions struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Selector routes capability calls across an ordered candidate list,
// consulting the rate limiter per candidate and tracking model health.
// Callers see either a result or a single taxonomy error; provider retries
// across candidates are invisible to them.
type Selector struct {
	mu         sync.Mutex
	limiter    *SlidingLimiter
	candidates map[Capability][]*candidate
	threshold  int
	cooldown   time.Duration
	now        func() time.Time
}

// NewSelector creates a selector on top of the given limiter.
func NewSelector(limiter *SlidingLimiter, opts SelectorOptions) *Selector {
	return &Selector{
		limiter:    limiter,
		candidates: make(map[Capability][]*candidate),
		threshold:  opts.FailureThreshold,
		cooldown:   opts.Cooldown,
		now:        time.Now,
	}
}

// Register appends models, in preference order, as candidates for cap.
func (s *Selector) Register(cap Capability, models ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range models {
		s.candidates[cap] = append(s.candidates[cap], &candidate{model: m})
	}
}

// available reports whether the candidate may be tried now.
func (s *Selector) available(c *candidate) bool {
	return !s.now().Before(c.health.disabledUntil) || c.health.disabledUntil.IsZero()
}

func (s *Selector) recordFailure(c *candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c.health.consecutiveFailures++
	c.health.lastFailureAt = now
	if c.health.consecutiveFailures >= s.threshold {
		c.health.disabledUntil = now.Add(s.cooldown)
		slog.Warn("fallback: model disabled",
			slog.String("model", c.model),
			slog.Int("failures", c.health.consecutiveFailures),
			slog.Duration("cooldown", s.cooldown))
	}
}

func (s *Selector) recordSuccess(c *candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.health.consecutiveFailures = 0
	c.health.disabledUntil = time.Time{}
}

func (s *Selector) snapshot(cap Capability) []*candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*candidate(nil), s.candidates[cap]...)
}

// Call invokes fn with each healthy, admitted candidate in order until one
// succeeds. Candidate identities are rate-limited independently
// ("<cap>:<model>"), so a saturated primary never starves the fallback.
// Fails with all_models_exhausted only when every candidate was skipped or
// errored; if every candidate was rejected by the limiter the error is
// rate_limited with the smallest retry-after hint.
func Call[T any](ctx context.Context, s *Selector, cap Capability, fn func(ctx context.Context, model string) (T, error)) (T, error) {
	var zero T

	cands := s.snapshot(cap)
	if len(cands) == 0 {
		return zero, Errf(CodeConfigInvalid, "no models registered for capability %q", cap)
	}

	var lastErr error
	allLimited := true
	minRetry := time.Duration(0)

	for i, c := range cands {
		if ctx.Err() != nil {
			return zero, WrapErr(ctx.Err(), CodeTimeout, "call cancelled")
		}

		s.mu.Lock()
		ok := s.available(c)
		s.mu.Unlock()
		if !ok {
			allLimited = false
			continue
		}

		adm := s.limiter.TryAdmit(string(cap)+":"+c.model, 1)
		if !adm.Admitted {
			if minRetry == 0 || adm.RetryAfter < minRetry {
				minRetry = adm.RetryAfter
			}
			slog.Debug("fallback: candidate rate-limited",
				slog.String("model", c.model),
				slog.Duration("retry_after", adm.RetryAfter))
			continue
		}

		if i > 0 {
			metrics.FallbackEngagements.Add(1)
		}

		result, err := fn(ctx, c.model)
		if err == nil {
			s.recordSuccess(c)
			return result, nil
		}

		allLimited = false
		lastErr = err

		// A provider-side 429 does not poison health; it means back off,
		// not that the model is broken.
		if IsCode(err, CodeRateLimited) {
			slog.Debug("fallback: provider rate-limited", slog.String("model", c.model))
			continue
		}

		s.recordFailure(c)
		slog.Warn("fallback: candidate failed",
			slog.String("model", c.model),
			slog.Any("error", err))
	}

	if allLimited && minRetry > 0 {
		return zero, RateLimitedErr(minRetry)
	}
	return zero, WrapErr(lastErr, CodeAllModelsExhausted, "all candidates rejected or failed for "+string(cap))
}
