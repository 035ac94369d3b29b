package channels

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeChannel struct {
	name       string
	connectErr error
	in         chan *IncomingMessage

	mu        sync.Mutex
	connected bool
	sent      []*OutgoingMessage
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, in: make(chan *IncomingMessage, 4)}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Send(_ context.Context, _ string, msg *OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.in }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Health() HealthStatus { return HealthStatus{Connected: f.IsConnected()} }

type fakeMediaChannel struct{ *fakeChannel }

func (f fakeMediaChannel) OpenMedia(context.Context, *IncomingMessage) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("audio")), nil
}

func TestManager_ForwardsMessages(t *testing.T) {
	m := NewManager(nil)
	ch := newFakeChannel("line")
	if err := m.Register(ch); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := m.Register(newFakeChannel("line")); err == nil {
		t.Error("Register() duplicate should fail")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ch.in <- &IncomingMessage{ID: "1", Channel: "line", Content: "/Help"}

	select {
	case msg := <-m.Messages():
		if msg.ID != "1" {
			t.Errorf("message ID = %q, want 1", msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}

	if err := m.Send(context.Background(), "line", "U1", &OutgoingMessage{Content: "ok"}); err != nil {
		t.Errorf("Send() error: %v", err)
	}
	if err := m.Send(context.Background(), "slack", "U1", &OutgoingMessage{}); err == nil {
		t.Error("Send() to unknown channel should fail")
	}

	if h := m.HealthAll()["line"]; !h.Connected {
		t.Error("HealthAll()[line].Connected = false, want true")
	}

	m.Stop()
	if _, open := <-m.Messages(); open {
		t.Error("Messages() should be closed after Stop")
	}
	if err := m.Send(context.Background(), "line", "U1", &OutgoingMessage{}); !errors.Is(err, ErrChannelDisconnected) {
		t.Errorf("Send() after Stop error = %v, want ErrChannelDisconnected", err)
	}
}

func TestManager_StartFailsWhenNothingConnects(t *testing.T) {
	m := NewManager(nil)
	ch := newFakeChannel("line")
	ch.connectErr = errors.New("boom")
	_ = m.Register(ch)

	if err := m.Start(context.Background()); err == nil {
		t.Error("Start() should fail when no channel connects")
	}
}

func TestManager_OpenMedia(t *testing.T) {
	m := NewManager(nil)
	_ = m.Register(newFakeChannel("plain"))
	_ = m.Register(fakeMediaChannel{newFakeChannel("line")})

	if _, err := m.OpenMedia(context.Background(), &IncomingMessage{Channel: "plain"}); !errors.Is(err, ErrMediaNotSupported) {
		t.Errorf("OpenMedia(plain) error = %v, want ErrMediaNotSupported", err)
	}

	rc, err := m.OpenMedia(context.Background(), &IncomingMessage{Channel: "line"})
	if err != nil {
		t.Fatalf("OpenMedia(line) error: %v", err)
	}
	rc.Close()
}
