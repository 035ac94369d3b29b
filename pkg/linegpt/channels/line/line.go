// Package line implements the LINE Messaging API channel using the official
// line-bot-sdk-go client.
//
// LINE delivers events through a webhook, so the channel exposes an
// http.Handler that the gateway mounts on /callback. Replies are sent with the
// event's reply token when one is available, falling back to a push message.
package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/line/line-bot-sdk-go/v7/linebot"

	"github.com/jholhewres/linegpt/pkg/linegpt/channels"
)

// Config holds LINE channel configuration.
type Config struct {
	// ChannelSecret verifies the X-Line-Signature header.
	ChannelSecret string `yaml:"channel_secret"`

	// ChannelAccessToken authenticates Messaging API calls.
	ChannelAccessToken string `yaml:"channel_access_token"`

	// EndpointBase overrides the API root (tests, proxies).
	EndpointBase string `yaml:"endpoint_base,omitempty"`

	// DataEndpointBase overrides the content API root.
	DataEndpointBase string `yaml:"data_endpoint_base,omitempty"`
}

// Line implements channels.Channel and channels.MediaChannel.
type Line struct {
	cfg    Config
	bot    *linebot.Client
	logger *slog.Logger

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates the LINE channel. It fails when the secret or token is missing.
func New(cfg Config, logger *slog.Logger) (*Line, error) {
	if cfg.ChannelSecret == "" || cfg.ChannelAccessToken == "" {
		return nil, fmt.Errorf("line: channel secret and access token are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []linebot.ClientOption
	if cfg.EndpointBase != "" {
		opts = append(opts, linebot.WithEndpointBase(cfg.EndpointBase))
	}
	if cfg.DataEndpointBase != "" {
		opts = append(opts, linebot.WithEndpointBaseData(cfg.DataEndpointBase))
	}

	bot, err := linebot.New(cfg.ChannelSecret, cfg.ChannelAccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("line: creating client: %w", err)
	}

	return &Line{
		cfg:      cfg,
		bot:      bot,
		logger:   logger.With("component", "line"),
		messages: make(chan *channels.IncomingMessage, 256),
	}, nil
}

// Name returns "line".
func (l *Line) Name() string { return "line" }

// Connect marks the channel ready. Events arrive through Handler.
func (l *Line) Connect(_ context.Context) error {
	l.connected.Store(true)
	l.logger.Info("line: webhook ready")
	return nil
}

// Disconnect stops accepting webhook events.
func (l *Line) Disconnect() error {
	l.connected.Store(false)
	l.logger.Info("line: disconnected")
	return nil
}

// Receive returns the incoming messages channel.
func (l *Line) Receive() <-chan *channels.IncomingMessage { return l.messages }

// IsConnected reports whether the webhook is accepting events.
func (l *Line) IsConnected() bool { return l.connected.Load() }

// Health returns the channel health status.
func (l *Line) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := l.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     l.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(l.errorCount.Load()),
	}
}

// Send answers with the reply token in message.ReplyTo, or pushes to `to`
// when there is none. Reply tokens expire shortly after the event, so a
// failed reply (a long summary, a slow model) is retried as a push.
func (l *Line) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	var out linebot.SendingMessage
	if message.Image != nil {
		out = linebot.NewImageMessage(message.Image.OriginalURL, message.Image.PreviewURL)
	} else {
		out = linebot.NewTextMessage(message.Content)
	}

	if message.ReplyTo != "" {
		_, err := l.bot.ReplyMessage(message.ReplyTo, out).WithContext(ctx).Do()
		if err == nil {
			return nil
		}
		if to == "" || ctx.Err() != nil {
			l.errorCount.Add(1)
			return fmt.Errorf("line: reply: %w", err)
		}
		l.logger.Warn("line: reply failed, pushing instead", "to", to, "error", err)
	}

	if _, err := l.bot.PushMessage(to, out).WithContext(ctx).Do(); err != nil {
		l.errorCount.Add(1)
		return fmt.Errorf("line: send: %w", err)
	}
	return nil
}

// OpenMedia streams the content of an audio (or other media) message.
func (l *Line) OpenMedia(ctx context.Context, msg *channels.IncomingMessage) (io.ReadCloser, error) {
	resp, err := l.bot.GetMessageContent(msg.ID).WithContext(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: line: %v", channels.ErrMediaDownloadFailed, err)
	}
	return resp.Content, nil
}

// Handler returns the webhook endpoint. Requests with a bad signature get
// 400 and never reach the assistant.
func (l *Line) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events, err := l.bot.ParseRequest(r)
		if err != nil {
			if errors.Is(err, linebot.ErrInvalidSignature) {
				l.logger.Warn("line: invalid signature", "remote", r.RemoteAddr)
				http.Error(w, "invalid signature", http.StatusBadRequest)
				return
			}
			l.logger.Error("line: parsing webhook", "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		for _, event := range events {
			l.dispatch(event)
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "OK")
	})
}

// dispatch converts a webhook event into an IncomingMessage. Only text and
// audio messages are forwarded.
func (l *Line) dispatch(event *linebot.Event) {
	if event.Type != linebot.EventTypeMessage || event.Source == nil {
		return
	}
	if !l.connected.Load() {
		return
	}

	// Multi-person rooms share history like groups do.
	group := event.Source.GroupID
	if group == "" {
		group = event.Source.RoomID
	}

	incoming := &channels.IncomingMessage{
		Channel:    "line",
		From:       event.Source.UserID,
		ChatID:     chatID(event.Source),
		GroupID:    group,
		IsGroup:    group != "",
		Timestamp:  event.Timestamp,
		ReplyToken: event.ReplyToken,
	}

	switch m := event.Message.(type) {
	case *linebot.TextMessage:
		incoming.ID = m.ID
		incoming.Type = channels.MessageText
		incoming.Content = m.Text
	case *linebot.AudioMessage:
		incoming.ID = m.ID
		incoming.Type = channels.MessageAudio
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageAudio,
			MimeType: "audio/m4a",
			Duration: int64(m.Duration),
			URL:      m.OriginalContentURL,
		}
	default:
		return
	}

	l.lastMsg.Store(time.Now())

	select {
	case l.messages <- incoming:
	default:
		l.errorCount.Add(1)
		l.logger.Warn("line: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// chatID is where pushes for this source go.
func chatID(src *linebot.EventSource) string {
	switch {
	case src.GroupID != "":
		return src.GroupID
	case src.RoomID != "":
		return src.RoomID
	default:
		return src.UserID
	}
}

var (
	_ channels.Channel      = (*Line)(nil)
	_ channels.MediaChannel = (*Line)(nil)
)
