package copilot

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/linegpt/pkg/linegpt/channels"
	"github.com/jholhewres/linegpt/pkg/linegpt/model"
)

// recordingChannel delivers queued messages and records replies.
type recordingChannel struct {
	in chan *channels.IncomingMessage

	mu        sync.Mutex
	connected bool
	sent      []*channels.OutgoingMessage
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{in: make(chan *channels.IncomingMessage, 4)}
}

func (c *recordingChannel) Name() string { return "line" }

func (c *recordingChannel) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *recordingChannel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *recordingChannel) Send(_ context.Context, _ string, msg *channels.OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return channels.ErrChannelDisconnected
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) Receive() <-chan *channels.IncomingMessage { return c.in }

func (c *recordingChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *recordingChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: c.IsConnected()}
}

func (c *recordingChannel) replies() []*channels.OutgoingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*channels.OutgoingMessage(nil), c.sent...)
}

func newTestAssistant(t *testing.T, client *fakeClient, grace time.Duration) (*Assistant, *recordingChannel) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Media.TempDir = t.TempDir()
	cfg.Media.SweepSchedule = ""
	cfg.Gateway.ShutdownTimeout = grace

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	a.clients = NewClientRegistry(func(string) ModelClient { return client })

	store := newFakeStore()
	store.data["U1"] = client.token
	a.SetStore(store)

	ch := newRecordingChannel()
	if err := a.ChannelManager().Register(ch); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	return a, ch
}

func TestAssistant_StopLetsInFlightTurnsReply(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client := &fakeClient{token: "sk-1"}
	client.chatFn = func(int, []model.Message) (model.Message, error) {
		close(started)
		<-release
		return model.Message{Role: model.RoleAssistant, Content: "late answer"}, nil
	}

	a, ch := newTestAssistant(t, client, 5*time.Second)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ch.in <- &channels.IncomingMessage{ID: "m1", Channel: "line", From: "U1", ChatID: "U1", Type: channels.MessageText, Content: "/Chat hi"}
	<-started

	stopped := make(chan struct{})
	go func() {
		a.Stop()
		close(stopped)
	}()

	// Let Stop end intake before the model answers.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}

	got := ch.replies()
	if len(got) != 1 || got[0].Content != "late answer" {
		t.Fatalf("replies = %+v, want the in-flight answer", got)
	}
	if mem := a.memory.Get("U1"); len(mem) != 3 {
		t.Errorf("memory = %+v, want the completed turn", mem)
	}
}

func TestAssistant_StopCancelsTurnsAfterGrace(t *testing.T) {
	started := make(chan struct{})
	client := &fakeClient{token: "sk-1"}

	a, ch := newTestAssistant(t, client, 50*time.Millisecond)
	client.chatFn = func(int, []model.Message) (model.Message, error) {
		close(started)
		<-a.turnCtx.Done()
		return model.Message{}, a.turnCtx.Err()
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ch.in <- &channels.IncomingMessage{ID: "m1", Channel: "line", From: "U1", ChatID: "U1", Type: channels.MessageText, Content: "/Chat hi"}
	<-started

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() hung on a turn that never finishes")
	}
}
