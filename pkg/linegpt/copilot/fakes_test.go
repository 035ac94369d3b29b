package copilot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/linegpt/pkg/linegpt/media"
	"github.com/jholhewres/linegpt/pkg/linegpt/model"
)

// fakeClient records calls and answers from canned values.
type fakeClient struct {
	token string

	mu          sync.Mutex
	chatCalls   [][]model.Message
	imageCalls  []string
	audioPaths  []string
	chatFn      func(call int, msgs []model.Message) (model.Message, error)
	imageURL    string
	imageErr    error
	transcript  string
	audioErr    error
	checkErr    error
	checkCalled bool
}

func (f *fakeClient) Token() string { return f.token }

func (f *fakeClient) ChatCompletion(ctx context.Context, msgs []model.Message, _ string) (model.Message, error) {
	f.mu.Lock()
	call := len(f.chatCalls)
	f.chatCalls = append(f.chatCalls, append([]model.Message(nil), msgs...))
	fn := f.chatFn
	f.mu.Unlock()

	msg := model.Message{Role: model.RoleAssistant, Content: "reply"}
	var err error
	if fn != nil {
		msg, err = fn(call, msgs)
	}
	if err == nil {
		// A real client fails once its context is cancelled.
		err = ctx.Err()
	}
	return msg, err
}

func (f *fakeClient) ImageGeneration(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls = append(f.imageCalls, prompt)
	return f.imageURL, f.imageErr
}

func (f *fakeClient) AudioTranscription(_ context.Context, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioPaths = append(f.audioPaths, path)
	return f.transcript, f.audioErr
}

func (f *fakeClient) CheckToken(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalled = true
	return f.checkErr
}

func (f *fakeClient) calls() [][]model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]model.Message(nil), f.chatCalls...)
}

// fakeStore is an in-memory credentials.Store.
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]string
	saves   int
	saveErr error
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string]string{}} }

func (s *fakeStore) Load(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) Save(_ context.Context, partial map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	for k, v := range partial {
		s.data[k] = v
	}
	return nil
}

func (s *fakeStore) Close() error { return nil }

// fakeTranscripts recognises ids by a URL marker.
type fakeTranscripts struct {
	name   string
	marker string
	chunks []string
	err    error
	calls  int
}

func (f *fakeTranscripts) Name() string { return f.name }

func (f *fakeTranscripts) VideoID(text string) (string, bool) {
	idx := strings.Index(text, f.marker)
	if idx < 0 {
		return "", false
	}
	return strings.Fields(text[idx+len(f.marker):])[0], true
}

func (f *fakeTranscripts) TranscriptChunks(context.Context, string) ([]string, error) {
	f.calls++
	return f.chunks, f.err
}

type fakeWebsite struct {
	chunks []string
	err    error
	urls   []string
}

func (f *fakeWebsite) URLFromText(text string) (string, bool) {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return field, true
		}
	}
	return "", false
}

func (f *fakeWebsite) ContentChunks(_ context.Context, url string) ([]string, error) {
	f.urls = append(f.urls, url)
	return f.chunks, f.err
}

// routerFixture wires a Router to fakes.
type routerFixture struct {
	router   *Router
	memory   *Memory
	clients  *ClientRegistry
	store    *fakeStore
	youtube  *fakeTranscripts
	bilibili *fakeTranscripts
	website  *fakeWebsite
	temp     *media.TempStore

	// byToken holds the client the factory returns for a token.
	byToken map[string]*fakeClient
}

func newRouterFixture(t *testing.T, plainText string) *routerFixture {
	t.Helper()

	temp, err := media.NewTempStore(media.Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewTempStore() error: %v", err)
	}

	fx := &routerFixture{
		memory:   NewMemory("default system", 2),
		store:    newFakeStore(),
		youtube:  &fakeTranscripts{name: "youtube", marker: "youtube.com/watch?v="},
		bilibili: &fakeTranscripts{name: "bilibili", marker: "bilibili.com/video/"},
		website:  &fakeWebsite{},
		temp:     temp,
		byToken:  map[string]*fakeClient{},
	}
	fx.clients = NewClientRegistry(func(token string) ModelClient {
		if c, ok := fx.byToken[token]; ok {
			return c
		}
		c := &fakeClient{token: token}
		fx.byToken[token] = c
		return c
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fx.router = NewRouter(RouterOptions{
		Memory:    fx.memory,
		Clients:   fx.clients,
		Store:     fx.store,
		YouTube:   fx.youtube,
		Bilibili:  fx.bilibili,
		Website:   fx.website,
		TempFiles: temp,
		Templates: SummaryConfig{
			YouTube:  DefaultYouTubeTemplates(),
			Bilibili: DefaultBilibiliTemplates(),
			Website:  DefaultWebsiteTemplates(),
		},
		Engine:    "test-engine",
		PlainText: plainText,
		Logger:    logger,
	})
	return fx
}

// bind registers a fake client for identity without going through /Reg.
func (fx *routerFixture) bind(identity, token string) *fakeClient {
	c := &fakeClient{token: token}
	fx.byToken[token] = c
	fx.clients.Bind(identity, c)
	return c
}
