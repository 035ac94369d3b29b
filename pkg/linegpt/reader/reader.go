// Package reader extracts text from the sources the bot can summarize:
// YouTube captions, Bilibili subtitles and generic web pages. Every reader
// returns the text already split into chunks ready for summarization.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Errors carry the text shown to the user when extraction fails.
var (
	// ErrTranscriptsDisabled means the video has no subtitles at all.
	ErrTranscriptsDisabled = errors.New("本影片無開啟字幕功能")

	// ErrNoSupportedTranscript means subtitles exist, but none in a wanted language.
	ErrNoSupportedTranscript = errors.New("未检测到支持的字幕")

	// ErrNoContent means no readable text was found on the page.
	ErrNoContent = errors.New("無法撈取此網站文字")
)

const (
	// DefaultChunkLines is the number of transcript lines per chunk.
	DefaultChunkLines = 150

	userAgent = "Mozilla/5.0 (compatible; linegpt/1.0)"

	maxBodySize = 4 << 20
)

// TranscriptReader is implemented by the video platform readers.
type TranscriptReader interface {
	// Name identifies the platform ("youtube", "bilibili").
	Name() string

	// VideoID extracts the platform video id from free text.
	VideoID(text string) (string, bool)

	// TranscriptChunks downloads the transcript and splits it into chunks.
	TranscriptChunks(ctx context.Context, videoID string) ([]string, error)
}

// chunkLines keeps every step-th line and groups the survivors into chunks of
// size lines joined by newlines.
func chunkLines(lines []string, step, size int) []string {
	if step < 1 {
		step = 1
	}
	if size < 1 {
		size = DefaultChunkLines
	}

	kept := make([]string, 0, len(lines)/step+1)
	for i, line := range lines {
		if i%step == 0 {
			kept = append(kept, line)
		}
	}

	chunks := make([]string, 0, (len(kept)+size-1)/size)
	for start := 0; start < len(kept); start += size {
		end := start + size
		if end > len(kept) {
			end = len(kept)
		}
		chunks = append(chunks, strings.Join(kept[start:end], "\n"))
	}
	return chunks
}

// newHTTPClient returns the client shared by the readers.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// get fetches url and returns the body, failing on non-2xx responses.
func get(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	return body, resp.Header, nil
}
