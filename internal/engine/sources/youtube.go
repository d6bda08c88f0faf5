package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// YouTube transcript fetching.
// Primary:  scrape watch page ytInitialPlayerResponse → caption XML (works from any IP)
// Fallback: ANDROID Innertube /player → captionTracks (works from non-blocked IPs)

const (
	ytPlayerURL      = "https://www.youtube.com/youtubei/v1/player"
	ytWatchURL       = "https://www.youtube.com/watch?v="
	ytAndroidVersion = "20.10.38"
	ytAndroidUA      = "com.google.android.youtube/" + ytAndroidVersion + " (Linux; U; Android 11) gzip"
)

// YouTube fetches video transcripts. It implements engine.TranscriptFetcher.
type YouTube struct {
	HTTP  *http.Client
	Langs []string // preferred caption languages, in order
}

// NewYouTube creates a fetcher with the given HTTP client and language
// preferences. An empty langs list defaults to English.
func NewYouTube(hc *http.Client, langs []string) *YouTube {
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	return &YouTube{HTTP: hc, Langs: langs}
}

// Fetch returns the transcript for a video id, trying the watch page first
// and the ANDROID Innertube player as fallback.
func (y *YouTube) Fetch(ctx context.Context, videoID string) (engine.Transcript, error) {
	engine.IncrTranscriptFetches()

	tr, err := y.fetchViaPageScrape(ctx, videoID)
	if err == nil {
		return tr, nil
	}
	slog.Warn("youtube: page scrape failed, trying player",
		slog.String("id", videoID), slog.Any("err", err))

	tr, perr := y.fetchViaPlayer(ctx, videoID)
	if perr == nil {
		return tr, nil
	}
	return engine.Transcript{}, engine.WrapErr(
		errors.Join(err, perr),
		engine.CodeTranscriptUnavailable,
		fmt.Sprintf("no transcript available for video %s", videoID))
}

// --- player response types ---

type playerResp struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	VideoDetails *struct {
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

// needsPoToken reports whether a caption track URL requires a PoToken
// (browser-only). Tracks with &exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack selects the best usable caption track for the language
// preferences: manual track in a preferred language, then auto-generated in a
// preferred language, then any English track, then whatever is left.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

// transcriptFromPlayer turns a player response into a Transcript by fetching
// the chosen track's timedtext XML.
func (y *YouTube) transcriptFromPlayer(ctx context.Context, pr playerResp) (engine.Transcript, error) {
	if pr.Captions == nil {
		if pr.PlayabilityStatus != nil && pr.PlayabilityStatus.Reason != "" {
			return engine.Transcript{}, fmt.Errorf("captions unavailable: %s", pr.PlayabilityStatus.Reason)
		}
		return engine.Transcript{}, errors.New("no captions in player response")
	}
	tracks := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return engine.Transcript{}, errors.New("no caption tracks")
	}
	track, ok := pickBestTrack(tracks, y.Langs)
	if !ok {
		return engine.Transcript{}, errors.New("all caption tracks require PoToken")
	}

	text, err := y.fetchTimedText(ctx, track.BaseURL)
	if err != nil {
		return engine.Transcript{}, err
	}
	if text == "" {
		return engine.Transcript{}, errors.New("empty timedtext body")
	}

	duration := 0
	if pr.VideoDetails != nil {
		duration, _ = strconv.Atoi(pr.VideoDetails.LengthSeconds)
	}
	return engine.Transcript{
		Text:         text,
		Lang:         track.LanguageCode,
		DurationSecs: duration,
		FetchedAt:    time.Now(),
	}, nil
}

// fetchViaPageScrape pulls ytInitialPlayerResponse out of the watch page HTML.
func (y *YouTube) fetchViaPageScrape(ctx context.Context, videoID string) (engine.Transcript, error) {
	return y.fetchViaPageScrapeURL(ctx, ytWatchURL+videoID)
}

func (y *YouTube) fetchViaPageScrapeURL(ctx context.Context, watchURL string) (engine.Transcript, error) {
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentChrome)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		return y.HTTP.Do(req)
	})
	if err != nil {
		return engine.Transcript{}, fmt.Errorf("watch page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 6*1024*1024))
	if err != nil {
		return engine.Transcript{}, fmt.Errorf("read watch page: %w", err)
	}

	const marker = "ytInitialPlayerResponse = "
	idx := bytes.Index(body, []byte(marker))
	if idx < 0 {
		return engine.Transcript{}, errors.New("ytInitialPlayerResponse not found in watch page")
	}
	jsonData := extractJSONObject(body[idx+len(marker):])
	if jsonData == nil {
		return engine.Transcript{}, errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var pr playerResp
	if err := json.Unmarshal(jsonData, &pr); err != nil {
		return engine.Transcript{}, fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return y.transcriptFromPlayer(ctx, pr)
}

// fetchViaPlayer uses the ANDROID Innertube /player endpoint.
func (y *YouTube) fetchViaPlayer(ctx context.Context, videoID string) (engine.Transcript, error) {
	payload := map[string]any{
		"videoId": videoID,
		"context": map[string]any{
			"client": map[string]any{
				"clientName":        "ANDROID",
				"clientVersion":     ytAndroidVersion,
				"androidSdkVersion": 30,
				"hl":                "en",
				"gl":                "US",
			},
		},
		"racyCheckOk":    true,
		"contentCheckOk": true,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return engine.Transcript{}, err
	}

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ytPlayerURL+"?prettyPrint=false", bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", ytAndroidUA)
		req.Header.Set("X-Youtube-Client-Name", "3")
		req.Header.Set("X-Youtube-Client-Version", ytAndroidVersion)
		return y.HTTP.Do(req)
	})
	if err != nil {
		return engine.Transcript{}, fmt.Errorf("android innertube: %w", err)
	}
	defer resp.Body.Close()

	var pr playerResp
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return engine.Transcript{}, fmt.Errorf("decode player: %w", err)
	}
	return y.transcriptFromPlayer(ctx, pr)
}

// fetchTimedText fetches and flattens a YouTube timedtext XML caption URL.
func (y *YouTube) fetchTimedText(ctx context.Context, baseURL string) (string, error) {
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentBot)
		return y.HTTP.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return "", err
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext XML: %w", err)
	}

	var sb strings.Builder
	for _, line := range tt.Lines {
		text := engine.CleanHTML(line.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

type timedText struct {
	Lines []timedLine `xml:"text"`
}

type timedLine struct {
	Text string `xml:",chardata"`
}

// extractJSONObject returns the first balanced JSON object at the start of b,
// respecting string literals and escapes.
func extractJSONObject(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inString := false
	escaped := false
	for i, c := range b {
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return b[:i+1]
				}
			}
		}
	}
	return nil
}
