// Package copilot – summarizer.go condenses transcripts and web pages with a
// two-level reduce: one call per chunk, then one call over the partials.
package copilot

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/linegpt/pkg/linegpt/model"
	"github.com/jholhewres/linegpt/pkg/linegpt/reader"
)

// Template placeholders.
const (
	placeholderPart    = "{part}"
	placeholderContent = "{content}"
)

// SummaryTemplates are the prompts used for one content source.
type SummaryTemplates struct {
	// System is the persona sent as the system message.
	System string `yaml:"system"`

	// Part wraps one chunk of a multi-chunk text. Uses {part} and {content}.
	Part string `yaml:"part"`

	// Whole wraps the joined partial summaries. Uses {content}.
	Whole string `yaml:"whole"`

	// Single wraps a text that fits in one chunk. Uses {content}.
	Single string `yaml:"single"`
}

const summaryPersonaTW = "你現在非常擅於做資料的整理、總結、歸納、統整，並能專注於細節、且能提出觀點"

const wholeTW = "下面是每一個部分的小結論：\"\"\"{content}\"\"\" \n\n 請給我全部小結論的總結，字數約 100 字左右"

// DefaultYouTubeTemplates returns the YouTube prompts.
func DefaultYouTubeTemplates() SummaryTemplates {
	return SummaryTemplates{
		System: summaryPersonaTW,
		Part: " PART {part} START\n下面是一個 Youtube 影片的部分字幕： \"\"\"{content}\"\"\" \n\n" +
			"請總結出這部影片的重點與一些細節，字數約 100 字左右\nPART {part} END\n",
		Whole:  wholeTW,
		Single: "下面是一個 Youtube 影片的字幕： \"\"\"{content}\"\"\" \n\n請總結出這部影片的重點與一些細節，字數約 100 字左右",
	}
}

// DefaultBilibiliTemplates returns the Bilibili prompts.
func DefaultBilibiliTemplates() SummaryTemplates {
	return SummaryTemplates{
		System: "你现在非常擅于做资料的整理、总结、归纳、统整，并能专注于细节、且能提出观点",
		Part: " PART {part} START\n下面是一个 Bilibili 影片的部分字幕： \"\"\"{content}\"\"\" \n\n" +
			"请总结出这部影片的重点与一些细节，字数约 100 字左右\nPART {part} END\n",
		Whole:  "下面是每一个部分的小结论：\"\"\"{content}\"\"\" \n\n 请给我全部小结论的总结，字数约 100 字左右",
		Single: "下面是一个 Bilibili 影片的字幕： \"\"\"{content}\"\"\" \n\n请总结出这部影片的重点与一些细节，字数约 100 字左右",
	}
}

// DefaultWebsiteTemplates returns the website prompts.
func DefaultWebsiteTemplates() SummaryTemplates {
	return SummaryTemplates{
		System: summaryPersonaTW,
		Part: " PART {part} START\n下面是一篇文章的部分內容： \"\"\"{content}\"\"\" \n\n" +
			"請總結出這部分內容的重點與一些細節，字數約 100 字左右\nPART {part} END\n",
		Whole: wholeTW,
		Single: "下面是一篇文章的內容： \"\"\"{content}\"\"\" \n\n" +
			"請依照以下格式整理，字數約 100 字左右：\n主題：\n重點：\n獨特觀點：",
	}
}

// part renders the Part template for chunk index i.
func (t SummaryTemplates) part(i int, chunk string) string {
	return fill(t.Part, []string{strconv.Itoa(i), chunk, strconv.Itoa(i)}, map[string]string{
		placeholderPart:    strconv.Itoa(i),
		placeholderContent: chunk,
	})
}

func (t SummaryTemplates) whole(joined string) string {
	return fill(t.Whole, []string{joined}, map[string]string{placeholderContent: joined})
}

func (t SummaryTemplates) single(chunk string) string {
	return fill(t.Single, []string{chunk}, map[string]string{placeholderContent: chunk})
}

// fill substitutes named placeholders. Templates written with bare "{}"
// (the format of the PART_MESSAGE_FORMAT family of variables) are filled
// positionally instead.
func fill(tmpl string, positional []string, named map[string]string) string {
	hasNamed := false
	for k := range named {
		if strings.Contains(tmpl, k) {
			hasNamed = true
			break
		}
	}

	if !hasNamed && strings.Contains(tmpl, "{}") {
		var sb strings.Builder
		rest := tmpl
		for _, v := range positional {
			idx := strings.Index(rest, "{}")
			if idx < 0 {
				break
			}
			sb.WriteString(rest[:idx])
			sb.WriteString(v)
			rest = rest[idx+2:]
		}
		sb.WriteString(rest)
		return sb.String()
	}

	pairs := make([]string, 0, 2*len(named))
	for k, v := range named {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Summarizer runs the reduce over chunks with a given client.
type Summarizer struct {
	engine  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSummarizer creates a summarizer calling the given chat engine. Each
// model call is bounded by timeout when it is positive.
func NewSummarizer(engine string, timeout time.Duration, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{engine: engine, timeout: timeout, logger: logger.With("component", "summarizer")}
}

// Summarize produces one summary of chunks. One chunk costs one call;
// N > 1 chunks cost N part calls in chunk order plus one whole call.
// The first failing call aborts the summary and its error is returned as is.
func (s *Summarizer) Summarize(ctx context.Context, client ModelClient, t SummaryTemplates, chunks []string) (model.Message, error) {
	start := time.Now()

	switch len(chunks) {
	case 0:
		return model.Message{}, reader.ErrNoContent
	case 1:
		msg, err := s.ask(ctx, client, t.System, t.single(chunks[0]))
		if err != nil {
			return model.Message{}, err
		}
		s.logger.Debug("summarized", "chunks", 1, "duration_ms", time.Since(start).Milliseconds())
		return msg, nil
	}

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		msg, err := s.ask(ctx, client, t.System, t.part(i, chunk))
		if err != nil {
			return model.Message{}, err
		}
		partials = append(partials, msg.Content)
	}

	msg, err := s.ask(ctx, client, t.System, t.whole(strings.Join(partials, "\n")))
	if err != nil {
		return model.Message{}, err
	}

	s.logger.Debug("summarized", "chunks", len(chunks), "duration_ms", time.Since(start).Milliseconds())
	return msg, nil
}

func (s *Summarizer) ask(ctx context.Context, client ModelClient, system, prompt string) (model.Message, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return client.ChatCompletion(ctx, []model.Message{
		{Role: model.RoleSystem, Content: system},
		{Role: model.RoleUser, Content: prompt},
	}, s.engine)
}
