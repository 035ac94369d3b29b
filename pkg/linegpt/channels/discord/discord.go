// Package discord is an optional second front end for the bot. A guild text
// channel is a group identity and a DM is a user identity, so /Reg and
// /RegGroup behave as they do on LINE. Audio attachments become audio
// messages.
package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/linegpt/pkg/linegpt/channels"
)

const (
	// Discord rejects longer message bodies.
	maxMessageLen = 2000

	inboxSize = 256
)

// Config configures the adapter.
type Config struct {
	Token string `yaml:"token"`

	// AllowedGuilds limits guild messages to these ids. DMs always pass.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels limits messages to these channel ids.
	AllowedChannels []string `yaml:"allowed_channels"`

	// SendTyping shows the typing indicator while a turn runs.
	SendTyping bool `yaml:"send_typing"`
}

// DefaultConfig enables the typing indicator.
func DefaultConfig() Config {
	return Config{SendTyping: true}
}

// Discord is a channels.MediaChannel backed by a discordgo session.
type Discord struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Client

	session *discordgo.Session
	inbox   chan *channels.IncomingMessage

	up       atomic.Bool
	lastSeen atomic.Int64 // unix nanos
	failures atomic.Int64
}

// New returns a disconnected adapter.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:    cfg,
		logger: logger.With("channel", "discord"),
		http:   &http.Client{Timeout: 30 * time.Second},
		inbox:  make(chan *channels.IncomingMessage, inboxSize),
	}
}

func (d *Discord) Name() string { return "discord" }

// Connect opens the gateway websocket with the intents needed to read
// message content in guilds and DMs.
func (d *Discord) Connect(_ context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: token not set")
	}

	s, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	s.AddHandler(d.onMessage)

	if err := s.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	d.session = s
	d.up.Store(true)

	if s.State != nil && s.State.User != nil {
		d.logger.Info("connected", "bot", s.State.User.Username)
	}
	return nil
}

func (d *Discord) Disconnect() error {
	d.up.Store(false)
	if d.session == nil {
		return nil
	}
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("discord: close: %w", err)
	}
	return nil
}

// Send answers in channel to. An image goes out as a single embed; text
// longer than Discord's limit is split and only the first part quotes the
// original message.
func (d *Discord) Send(_ context.Context, to string, msg *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	var quote *discordgo.MessageReference
	if msg.ReplyTo != "" {
		quote = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: to}
	}

	if img := msg.Image; img != nil {
		embed := &discordgo.MessageEmbed{
			URL:       img.OriginalURL,
			Image:     &discordgo.MessageEmbedImage{URL: img.OriginalURL},
			Thumbnail: &discordgo.MessageEmbedThumbnail{URL: img.PreviewURL},
		}
		return d.post(to, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}, Reference: quote})
	}

	for _, part := range splitMessage(msg.Content, maxMessageLen) {
		if err := d.post(to, &discordgo.MessageSend{Content: part, Reference: quote}); err != nil {
			return err
		}
		quote = nil
	}
	return nil
}

func (d *Discord) post(to string, m *discordgo.MessageSend) error {
	if _, err := d.session.ChannelMessageSendComplex(to, m); err != nil {
		d.failures.Add(1)
		return fmt.Errorf("discord: send to %s: %w", to, err)
	}
	return nil
}

func (d *Discord) Receive() <-chan *channels.IncomingMessage { return d.inbox }

func (d *Discord) IsConnected() bool { return d.up.Load() }

func (d *Discord) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  d.up.Load(),
		ErrorCount: int(d.failures.Load()),
	}
	if ns := d.lastSeen.Load(); ns != 0 {
		h.LastMessageAt = time.Unix(0, ns)
	}
	return h
}

// OpenMedia fetches the attachment from Discord's CDN.
func (d *Discord) OpenMedia(ctx context.Context, msg *channels.IncomingMessage) (io.ReadCloser, error) {
	if msg.Media == nil || msg.Media.URL == "" {
		return nil, fmt.Errorf("%w: message %q has no attachment", channels.ErrMediaDownloadFailed, msg.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.Media.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: cdn returned %s", channels.ErrMediaDownloadFailed, resp.Status)
	}
	return resp.Body, nil
}

func (d *Discord) onMessage(s *discordgo.Session, ev *discordgo.MessageCreate) {
	if ev.Author == nil || ev.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && ev.Author.ID == s.State.User.ID {
		return
	}

	in, ok := d.convert(ev.Message)
	if !ok {
		return
	}
	d.lastSeen.Store(time.Now().UnixNano())

	if d.cfg.SendTyping {
		_ = s.ChannelTyping(ev.ChannelID)
	}

	select {
	case d.inbox <- in:
	default:
		d.failures.Add(1)
		d.logger.Warn("inbox full, message dropped", "message_id", in.ID)
	}
}

// convert filters by the allowlists and maps m onto an IncomingMessage.
// Messages with neither text nor an audio attachment are dropped.
func (d *Discord) convert(m *discordgo.Message) (*channels.IncomingMessage, bool) {
	if m.GuildID != "" && len(d.cfg.AllowedGuilds) > 0 && !slices.Contains(d.cfg.AllowedGuilds, m.GuildID) {
		return nil, false
	}
	if len(d.cfg.AllowedChannels) > 0 && !slices.Contains(d.cfg.AllowedChannels, m.ChannelID) {
		return nil, false
	}

	in := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   d.Name(),
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.GuildID != "" {
		in.IsGroup = true
		in.GroupID = m.ChannelID
	}

	if att := firstAudio(m.Attachments); att != nil {
		in.Type = channels.MessageAudio
		in.Media = &channels.MediaInfo{
			Type:     channels.MessageAudio,
			MimeType: att.ContentType,
			Filename: att.Filename,
			FileSize: uint64(att.Size),
			URL:      att.URL,
		}
		return in, true
	}

	return in, strings.TrimSpace(in.Content) != ""
}

func firstAudio(atts []*discordgo.MessageAttachment) *discordgo.MessageAttachment {
	for _, a := range atts {
		if strings.HasPrefix(strings.ToLower(a.ContentType), "audio/") {
			return a
		}
	}
	return nil
}

// splitMessage cuts text into pieces of at most limit bytes. A newline in
// the back half of a piece is preferred as the cut point; otherwise the cut
// moves back to a rune boundary.
func splitMessage(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := limit
		if nl := strings.LastIndexByte(text[:limit], '\n'); nl > limit/2 {
			cut = nl + 1
		} else {
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return append(parts, text)
}

var _ channels.MediaChannel = (*Discord)(nil)
