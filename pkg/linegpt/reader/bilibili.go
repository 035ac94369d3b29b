package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var bilibiliIDPattern = regexp.MustCompile(`https?://(?:(?:www\.)?bilibili\.com|b23\.tv)(?:/video)?/((?:BV|av)\w+)`)

// bilibiliLanguages is the subtitle locale preference order.
var bilibiliLanguages = []string{"zh-CN", "zh-Hans", "en"}

// BilibiliConfig configures the Bilibili reader.
type BilibiliConfig struct {
	// APIBaseURL is the API root (default https://api.bilibili.com).
	APIBaseURL string

	// Step keeps every Step-th subtitle line (default 2).
	Step int

	// ChunkLines is the number of kept lines per chunk (default 150).
	ChunkLines int

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Bilibili reads subtitles through the public web APIs.
type Bilibili struct {
	cfg    BilibiliConfig
	client *http.Client
	cache  *Cache
}

// NewBilibili creates the reader. cache may be nil.
func NewBilibili(cfg BilibiliConfig, cache *Cache) *Bilibili {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.bilibili.com"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.Step <= 0 {
		cfg.Step = 2
	}
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = DefaultChunkLines
	}
	return &Bilibili{cfg: cfg, client: newHTTPClient(cfg.Timeout), cache: cache}
}

// Name returns "bilibili".
func (b *Bilibili) Name() string { return "bilibili" }

// VideoID extracts a BV or av id from a bilibili.com or b23.tv link.
func (b *Bilibili) VideoID(text string) (string, bool) {
	m := bilibiliIDPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type bilibiliSubtitle struct {
	Lang string `json:"lan"`
	URL  string `json:"subtitle_url"`
}

type bilibiliView struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		AID      int64 `json:"aid"`
		CID      int64 `json:"cid"`
		Subtitle struct {
			List []bilibiliSubtitle `json:"list"`
		} `json:"subtitle"`
	} `json:"data"`
}

type bilibiliPlayer struct {
	Code int `json:"code"`
	Data struct {
		Subtitle struct {
			Subtitles []bilibiliSubtitle `json:"subtitles"`
		} `json:"subtitle"`
	} `json:"data"`
}

type bilibiliSubtitleBody struct {
	Body []struct {
		Content string `json:"content"`
	} `json:"body"`
}

// TranscriptChunks resolves the video's cid, collects the advertised
// subtitles and downloads the preferred locale.
func (b *Bilibili) TranscriptChunks(ctx context.Context, videoID string) ([]string, error) {
	if chunks, ok := b.cache.get(b.Name(), videoID); ok {
		return chunks, nil
	}

	vidArg := "bvid=" + url.QueryEscape(videoID)
	if strings.HasPrefix(videoID, "av") {
		vidArg = "aid=" + url.QueryEscape(strings.TrimPrefix(videoID, "av"))
	}

	var view bilibiliView
	if err := b.getJSON(ctx, b.cfg.APIBaseURL+"/x/web-interface/view?"+vidArg, &view); err != nil {
		return nil, err
	}
	if view.Code != 0 {
		return nil, fmt.Errorf("bilibili: view api: %s", view.Message)
	}

	// The player endpoint often lists subtitles the view endpoint omits.
	// Later sources win per language, so the view list goes last.
	var subs []bilibiliSubtitle
	var player bilibiliPlayer
	playerURL := fmt.Sprintf("%s/x/player/v2?cid=%d&%s", b.cfg.APIBaseURL, view.Data.CID, vidArg)
	if err := b.getJSON(ctx, playerURL, &player); err == nil && player.Code == 0 {
		subs = append(subs, player.Data.Subtitle.Subtitles...)
	}
	subs = append(subs, view.Data.Subtitle.List...)

	if len(subs) == 0 {
		return nil, ErrTranscriptsDisabled
	}

	sub, ok := pickBilibiliSubtitle(subs)
	if !ok {
		return nil, ErrNoSupportedTranscript
	}

	subURL := sub.URL
	if strings.HasPrefix(subURL, "/") {
		subURL = "https:" + subURL
	}

	var body bilibiliSubtitleBody
	if err := b.getJSON(ctx, subURL, &body); err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(body.Body))
	for _, line := range body.Body {
		lines = append(lines, line.Content)
	}
	if len(lines) == 0 {
		return nil, ErrTranscriptsDisabled
	}

	chunks := chunkLines(lines, b.cfg.Step, b.cfg.ChunkLines)
	b.cache.add(b.Name(), videoID, chunks)
	return chunks, nil
}

func (b *Bilibili) getJSON(ctx context.Context, u string, out any) error {
	raw, _, err := get(ctx, b.client, u, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return fmt.Errorf("bilibili: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bilibili: decoding %s: %w", u, err)
	}
	return nil
}

// pickBilibiliSubtitle returns the subtitle for the first preferred language
// present. When a language is listed more than once the last entry with a
// URL wins.
func pickBilibiliSubtitle(subs []bilibiliSubtitle) (bilibiliSubtitle, bool) {
	byLang := make(map[string]bilibiliSubtitle, len(subs))
	for _, s := range subs {
		if s.URL != "" {
			byLang[s.Lang] = s
		}
	}
	for _, lang := range bilibiliLanguages {
		if s, ok := byLang[lang]; ok {
			return s, true
		}
	}
	return bilibiliSubtitle{}, false
}
