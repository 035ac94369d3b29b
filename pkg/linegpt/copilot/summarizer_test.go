package copilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jholhewres/linegpt/pkg/linegpt/model"
	"github.com/jholhewres/linegpt/pkg/linegpt/reader"
)

var testTemplates = SummaryTemplates{
	System: "persona",
	Part:   "PART {part}: {content}",
	Whole:  "WHOLE: {content}",
	Single: "SINGLE: {content}",
}

func echoClient() *fakeClient {
	return &fakeClient{chatFn: func(call int, msgs []model.Message) (model.Message, error) {
		return model.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("s%d", call)}, nil
	}}
}

func TestSummarizer_SingleChunk(t *testing.T) {
	client := echoClient()
	s := NewSummarizer("engine", 0, nil)

	got, err := s.Summarize(context.Background(), client, testTemplates, []string{"only"})
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got.Content != "s0" {
		t.Errorf("Summarize() = %q, want s0", got.Content)
	}

	calls := client.calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0][0].Role != model.RoleSystem || calls[0][0].Content != "persona" {
		t.Errorf("system message = %+v", calls[0][0])
	}
	if calls[0][1].Content != "SINGLE: only" {
		t.Errorf("user message = %q, want SINGLE: only", calls[0][1].Content)
	}
}

func TestSummarizer_MultipleChunks(t *testing.T) {
	client := echoClient()
	s := NewSummarizer("engine", 0, nil)
	chunks := []string{"a", "b", "c"}

	got, err := s.Summarize(context.Background(), client, testTemplates, chunks)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}

	calls := client.calls()
	if len(calls) != len(chunks)+1 {
		t.Fatalf("calls = %d, want %d", len(calls), len(chunks)+1)
	}
	for i, chunk := range chunks {
		want := fmt.Sprintf("PART %d: %s", i, chunk)
		if calls[i][1].Content != want {
			t.Errorf("call %d prompt = %q, want %q", i, calls[i][1].Content, want)
		}
	}
	if last := calls[3][1].Content; last != "WHOLE: s0\ns1\ns2" {
		t.Errorf("whole prompt = %q, want partials joined in order", last)
	}
	if got.Content != "s3" {
		t.Errorf("Summarize() = %q, want s3", got.Content)
	}
}

func TestSummarizer_AbortsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	client := &fakeClient{chatFn: func(call int, _ []model.Message) (model.Message, error) {
		if call == 1 {
			return model.Message{}, boom
		}
		return model.Message{Role: model.RoleAssistant, Content: "ok"}, nil
	}}
	s := NewSummarizer("engine", 0, nil)

	_, err := s.Summarize(context.Background(), client, testTemplates, []string{"a", "b", "c"})
	if !errors.Is(err, boom) {
		t.Fatalf("Summarize() error = %v, want boom", err)
	}
	if n := len(client.calls()); n != 2 {
		t.Errorf("calls = %d, want 2 (stop at first failure)", n)
	}
}

func TestSummarizer_NoChunks(t *testing.T) {
	client := echoClient()
	s := NewSummarizer("engine", 0, nil)

	_, err := s.Summarize(context.Background(), client, testTemplates, nil)
	if !errors.Is(err, reader.ErrNoContent) {
		t.Errorf("Summarize(nil) error = %v, want ErrNoContent", err)
	}
	if n := len(client.calls()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestTemplates_PositionalPlaceholders(t *testing.T) {
	tmpl := SummaryTemplates{
		Part:   " PART {} START\n{}\nPART {} END\n",
		Whole:  "all: {}",
		Single: "one: {}",
	}

	if got := tmpl.part(2, "text"); got != " PART 2 START\ntext\nPART 2 END\n" {
		t.Errorf("part() = %q", got)
	}
	if got := tmpl.whole("x\ny"); got != "all: x\ny" {
		t.Errorf("whole() = %q", got)
	}
	if got := tmpl.single("z"); got != "one: z" {
		t.Errorf("single() = %q", got)
	}
}

func TestDefaultTemplates(t *testing.T) {
	for name, tmpl := range map[string]SummaryTemplates{
		"youtube":  DefaultYouTubeTemplates(),
		"bilibili": DefaultBilibiliTemplates(),
		"website":  DefaultWebsiteTemplates(),
	} {
		t.Run(name, func(t *testing.T) {
			if tmpl.System == "" {
				t.Error("System is empty")
			}
			part := tmpl.part(0, "CHUNK")
			if !strings.Contains(part, "PART 0 START") || !strings.Contains(part, "CHUNK") {
				t.Errorf("part() = %q", part)
			}
			if got := tmpl.single("CHUNK"); !strings.Contains(got, "CHUNK") || strings.Contains(got, "{content}") {
				t.Errorf("single() = %q", got)
			}
			if got := tmpl.whole("JOINED"); !strings.Contains(got, "JOINED") {
				t.Errorf("whole() = %q", got)
			}
		})
	}

	if !strings.Contains(DefaultBilibiliTemplates().Single, "Bilibili") {
		t.Error("bilibili single template lost its platform name")
	}
	if !strings.Contains(DefaultWebsiteTemplates().Single, "獨特觀點") {
		t.Error("website single template lost its outline")
	}
}
