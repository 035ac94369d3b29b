package channels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// inboxSize bounds how many inbound messages wait for the assistant.
const inboxSize = 256

// Manager owns the registered adapters. Inbound messages from all of them
// arrive on Messages; replies are routed by adapter name.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel

	inbox      chan *IncomingMessage
	forwarders sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		inbox:    make(chan *IncomingMessage, inboxSize),
		logger:   logger,
	}
}

// Register adds an adapter. Names must be unique; call before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, dup := m.channels[name]; dup {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects the adapters and begins forwarding their messages. An
// adapter that fails to connect is skipped; Start fails only when adapters
// exist and none of them connected.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	all := m.snapshot()
	if len(all) == 0 {
		m.logger.Warn("no channels registered")
		return nil
	}

	up := 0
	for _, ch := range all {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("failed to connect channel", "channel", ch.Name(), "error", err)
			continue
		}
		up++
		m.logger.Info("channel connected", "channel", ch.Name())

		m.forwarders.Add(1)
		go m.forward(ch)
	}

	if up == 0 {
		return fmt.Errorf("none of %d channels connected", len(all))
	}
	m.logger.Info("channel manager started", "connected", up, "registered", len(all))
	return nil
}

// Stop disconnects every adapter, waits for the forwarders and closes the
// Messages stream. Call once.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	for _, ch := range m.snapshot() {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("failed to disconnect channel", "channel", ch.Name(), "error", err)
		}
	}

	m.forwarders.Wait()
	close(m.inbox)
	m.logger.Info("channel manager stopped")
}

// Messages is the merged inbound stream. It is closed by Stop.
func (m *Manager) Messages() <-chan *IncomingMessage { return m.inbox }

// Send routes msg to the adapter named channelName.
func (m *Manager) Send(ctx context.Context, channelName, to string, msg *OutgoingMessage) error {
	ch, err := m.lookup(channelName)
	if err != nil {
		return err
	}
	if !ch.IsConnected() {
		return fmt.Errorf("channel %q: %w", channelName, ErrChannelDisconnected)
	}
	return ch.Send(ctx, to, msg)
}

// OpenMedia fetches the attachment of msg from the adapter it came from.
func (m *Manager) OpenMedia(ctx context.Context, msg *IncomingMessage) (io.ReadCloser, error) {
	ch, err := m.lookup(msg.Channel)
	if err != nil {
		return nil, err
	}
	media, ok := ch.(MediaChannel)
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", msg.Channel, ErrMediaNotSupported)
	}
	return media.OpenMedia(ctx, msg)
}

// Channel returns the adapter registered under name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// HealthAll reports every adapter's health keyed by name.
func (m *Manager) HealthAll() map[string]HealthStatus {
	out := make(map[string]HealthStatus)
	for _, ch := range m.snapshot() {
		out[ch.Name()] = ch.Health()
	}
	return out
}

func (m *Manager) lookup(name string) (Channel, error) {
	ch, ok := m.Channel(name)
	if !ok {
		return nil, fmt.Errorf("channel %q not found", name)
	}
	return ch, nil
}

func (m *Manager) snapshot() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// forward copies one adapter's messages into the inbox until the adapter
// closes its stream or the manager stops.
func (m *Manager) forward(ch Channel) {
	defer m.forwarders.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case msg, ok := <-ch.Receive():
			if !ok {
				return
			}
			select {
			case m.inbox <- msg:
			case <-m.ctx.Done():
				return
			}
		}
	}
}
