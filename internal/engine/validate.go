package engine

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	maxURLLength      = 300
	maxQuestionLength = 400
)

// videoIDRe matches a canonical 11-character YouTube video id.
var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// injectionRes are prompt-manipulation patterns screened out of questions
// before any provider call is made.
var injectionRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous\s+)?instructions?`),
	regexp.MustCompile(`(?i)forget\s+(?:all\s+)?(?:previous\s+)?instructions?`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a\s+)?(?:different\s+)?(?:ai|assistant|bot)`),
	regexp.MustCompile(`(?i)act\s+as\s+(?:if\s+)?(?:you\s+are\s+)?(?:a\s+)?(?:different\s+)?(?:ai|assistant|bot)`),
	regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)system\s+(?:prompt|message|instruction)`),
	regexp.MustCompile(`(?i)ignore\s+(?:the\s+)?(?:above|previous|earlier)`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)bypass\s+(?:safety|security|content|filtering)`),
}

// dangerousRes are markup/script fragments rejected in any user input.
var dangerousRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)<iframe`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)data:text/html`),
}

// ExtractVideoID validates a YouTube URL and returns the canonical video id.
// The id is a deterministic function of the URL and becomes the root cache
// namespace key.
func ExtractVideoID(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", Errf(CodeInvalidURL, "empty URL")
	}
	if len(rawURL) > maxURLLength {
		return "", Errf(CodeInvalidURL, "URL too long")
	}
	if matchesAny(rawURL, dangerousRes) {
		return "", Errf(CodeUnsafeInput, "URL contains unsafe content")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", Errf(CodeInvalidURL, "invalid URL format")
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	var id string
	switch host {
	case "youtube.com", "m.youtube.com":
		id = parsed.Query().Get("v")
	case "youtu.be":
		id = strings.Trim(parsed.Path, "/")
	default:
		return "", Errf(CodeInvalidURL, "not a YouTube URL")
	}

	if !videoIDRe.MatchString(id) {
		return "", Errf(CodeInvalidURL, "invalid video id %q", id)
	}
	return id, nil
}

// ValidateQuestion screens a user question. Unsafe input is rejected here,
// before any model or embedding call.
func ValidateQuestion(question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return Errf(CodeUnsafeInput, "question is empty")
	}
	if len(question) > maxQuestionLength {
		return Errf(CodeUnsafeInput, "question is too long")
	}
	if matchesAny(question, dangerousRes) {
		return Errf(CodeUnsafeInput, "question contains unsafe content")
	}
	if matchesAny(question, injectionRes) {
		return Errf(CodeUnsafeInput, "question contains inappropriate content")
	}
	return nil
}

func matchesAny(s string, res []*regexp.Regexp) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
