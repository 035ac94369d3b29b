package reader

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var youtubeIDPattern = regexp.MustCompile(
	`(?:https?://)?(?:www\.|m\.)?(?:youtube\.com/(?:watch\?(?:\S*?&)?v=|embed/|shorts/|live/|v/)|youtu\.be/)([A-Za-z0-9_-]{11})`)

// youtubeLanguages is the caption preference order.
var youtubeLanguages = []string{"zh-TW", "zh", "ja", "zh-Hant", "zh-Hans", "en", "ko"}

// YouTubeConfig configures the YouTube reader.
type YouTubeConfig struct {
	// BaseURL is the site root (default https://www.youtube.com).
	BaseURL string

	// Step keeps every Step-th caption line (default 4).
	Step int

	// ChunkLines is the number of kept lines per chunk (default 150).
	ChunkLines int

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// YouTube reads captions from the caption tracks advertised on the watch page.
type YouTube struct {
	cfg    YouTubeConfig
	client *http.Client
	cache  *Cache
}

// NewYouTube creates the reader. cache may be nil.
func NewYouTube(cfg YouTubeConfig, cache *Cache) *YouTube {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.youtube.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Step <= 0 {
		cfg.Step = 4
	}
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = DefaultChunkLines
	}
	return &YouTube{cfg: cfg, client: newHTTPClient(cfg.Timeout), cache: cache}
}

// Name returns "youtube".
func (y *YouTube) Name() string { return "youtube" }

// VideoID extracts an 11-character video id from watch, short or embed links.
func (y *YouTube) VideoID(text string) (string, bool) {
	m := youtubeIDPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// captionTrack is one entry of playerCaptionsTracklistRenderer.captionTracks.
type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

// timedText is the XML transcript format served by the caption track URL.
type timedText struct {
	Texts []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

// TranscriptChunks downloads the best matching caption track.
func (y *YouTube) TranscriptChunks(ctx context.Context, videoID string) ([]string, error) {
	if chunks, ok := y.cache.get(y.Name(), videoID); ok {
		return chunks, nil
	}

	page, _, err := get(ctx, y.client, y.cfg.BaseURL+"/watch?v="+url.QueryEscape(videoID),
		http.Header{"Accept-Language": {"zh-TW,zh;q=0.9,en;q=0.8"}})
	if err != nil {
		return nil, fmt.Errorf("youtube: %w", err)
	}

	tracks, err := parseCaptionTracks(string(page))
	if err != nil {
		return nil, err
	}

	track, ok := pickCaptionTrack(tracks)
	if !ok {
		return nil, ErrNoSupportedTranscript
	}

	trackURL := track.BaseURL
	if strings.HasPrefix(trackURL, "/") {
		trackURL = y.cfg.BaseURL + trackURL
	}

	raw, _, err := get(ctx, y.client, trackURL, nil)
	if err != nil {
		return nil, fmt.Errorf("youtube: %w", err)
	}

	var tt timedText
	if err := xml.Unmarshal(raw, &tt); err != nil {
		return nil, fmt.Errorf("youtube: parsing transcript: %w", err)
	}

	lines := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		line := strings.TrimSpace(html.UnescapeString(t.Text))
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, ErrTranscriptsDisabled
	}

	chunks := chunkLines(lines, y.cfg.Step, y.cfg.ChunkLines)
	y.cache.add(y.Name(), videoID, chunks)
	return chunks, nil
}

// parseCaptionTracks decodes the captionTracks array embedded in the page.
func parseCaptionTracks(page string) ([]captionTrack, error) {
	const marker = `"captionTracks":`
	idx := strings.Index(page, marker)
	if idx < 0 {
		return nil, ErrTranscriptsDisabled
	}

	var tracks []captionTrack
	dec := json.NewDecoder(strings.NewReader(page[idx+len(marker):]))
	if err := dec.Decode(&tracks); err != nil {
		return nil, fmt.Errorf("youtube: parsing caption tracks: %w", err)
	}
	if len(tracks) == 0 {
		return nil, ErrTranscriptsDisabled
	}
	return tracks, nil
}

// pickCaptionTrack returns the first preferred language, favouring manually
// created tracks over auto-generated ones.
func pickCaptionTrack(tracks []captionTrack) (captionTrack, bool) {
	for _, lang := range youtubeLanguages {
		var generated *captionTrack
		for i := range tracks {
			if !strings.EqualFold(tracks[i].LanguageCode, lang) {
				continue
			}
			if tracks[i].Kind != "asr" {
				return tracks[i], true
			}
			if generated == nil {
				generated = &tracks[i]
			}
		}
		if generated != nil {
			return *generated, true
		}
	}
	return captionTrack{}, false
}
