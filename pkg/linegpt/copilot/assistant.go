// Package copilot implements the linegpt orchestrator: it takes messages from
// every channel, runs them through the command router and sends the replies
// back where they came from.
package copilot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jholhewres/linegpt/pkg/linegpt/channels"
	"github.com/jholhewres/linegpt/pkg/linegpt/credentials"
	"github.com/jholhewres/linegpt/pkg/linegpt/media"
	"github.com/jholhewres/linegpt/pkg/linegpt/model"
	"github.com/jholhewres/linegpt/pkg/linegpt/reader"
)

// Assistant is the main orchestrator.
// Message flow: channel → manager → router → memory/model → reply → channel.
type Assistant struct {
	config *Config

	channelMgr *channels.Manager
	memory     *Memory
	clients    *ClientRegistry
	temp       *media.TempStore

	// store is opened on Start unless set beforehand with SetStore.
	store credentials.Store

	router *Router

	startedAt time.Time
	logger    *slog.Logger

	// ctx ends intake; turnCtx outlives it so in-flight turns can still
	// answer while the channels are connected.
	loop       sync.WaitGroup
	turns      sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	turnCtx    context.Context
	turnCancel context.CancelFunc
}

// New creates an Assistant with its dependencies. Nothing touches the
// network or the credential store until Start.
func New(cfg *Config, logger *slog.Logger) (*Assistant, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	temp, err := media.NewTempStore(media.Config{
		Dir:           cfg.Media.TempDir,
		MaxAge:        cfg.Media.MaxAge,
		SweepSchedule: cfg.Media.SweepSchedule,
	}, logger)
	if err != nil {
		return nil, err
	}

	factory := model.NewFactory(model.Options{
		BaseURL:     cfg.Model.BaseURL,
		ImageSize:   cfg.Model.ImageSize,
		HTTPTimeout: cfg.Model.Timeout,
	}, logger)

	return &Assistant{
		config:     cfg,
		channelMgr: channels.NewManager(logger.With("component", "channels")),
		memory:     NewMemory(cfg.Memory.SystemMessage, cfg.Memory.Window),
		clients: NewClientRegistry(func(token string) ModelClient {
			return factory.New(token)
		}),
		temp:   temp,
		logger: logger,
	}, nil
}

// SetStore uses s instead of opening the configured backend.
func (a *Assistant) SetStore(s credentials.Store) { a.store = s }

// Start opens the credential store, restores registered clients, starts the
// channels and the message loop.
func (a *Assistant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.turnCtx, a.turnCancel = context.WithCancel(context.WithoutCancel(ctx))
	a.startedAt = time.Now()

	a.logger.Info("starting linegpt",
		"name", a.config.Name,
		"engine", a.config.Model.Engine,
		"credentials", a.config.Credentials.Backend,
		"plain_text", a.config.Chat.PlainText,
	)

	// 1. Credentials.
	if a.store == nil {
		store, err := credentials.Open(a.ctx, a.config.Credentials, a.logger)
		if err != nil {
			return fmt.Errorf("opening credential store: %w", err)
		}
		a.store = store
	}
	tokens, err := credentials.LoadOrEmpty(a.ctx, a.store)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	a.clients.Restore(tokens)
	a.logger.Info("credentials restored", "identities", a.clients.Len())

	// 2. Router.
	a.router = a.newRouter()

	// 3. Temp file sweeper.
	if err := a.temp.StartSweeper(a.ctx); err != nil {
		return err
	}

	// 4. Channels (zero channels is fine for the CLI).
	if err := a.channelMgr.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	// 5. Message loop.
	a.loop.Add(1)
	go a.messageLoop()

	a.logger.Info("linegpt started")
	return nil
}

// Stop ends intake, lets in-flight turns finish and reply for up to
// gateway.shutdown_timeout, then disconnects the channels. Turns still
// running after that are cancelled and their replies dropped.
func (a *Assistant) Stop() {
	a.logger.Info("stopping linegpt...")

	if a.cancel != nil {
		a.cancel()
	}
	a.loop.Wait()
	a.drainTurns(a.config.Gateway.ShutdownTimeout)

	a.channelMgr.Stop()
	a.temp.Stop()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing credential store", "error", err)
		}
	}
	a.logger.Info("linegpt stopped")
}

func (a *Assistant) drainTurns(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		a.turns.Wait()
		close(done)
	}()

	if grace <= 0 {
		grace = 10 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		a.logger.Warn("in-flight turns still running, cancelling", "grace", grace)
		if a.turnCancel != nil {
			a.turnCancel()
		}
		<-done
	}
	if a.turnCancel != nil {
		a.turnCancel()
	}
}

// ChannelManager returns the channel manager for external registration.
func (a *Assistant) ChannelManager() *channels.Manager { return a.channelMgr }

// Router returns the command router. Nil before Start.
func (a *Assistant) Router() *Router { return a.router }

// Status is the snapshot served on /status.
type Status struct {
	Name          string                           `json:"name"`
	Engine        string                           `json:"engine"`
	Uptime        string                           `json:"uptime"`
	Identities    int                              `json:"identities"`
	Conversations int                              `json:"conversations"`
	Channels      map[string]channels.HealthStatus `json:"channels"`
}

// Status reports channel health and registry size.
func (a *Assistant) Status() Status {
	return Status{
		Name:          a.config.Name,
		Engine:        a.config.Model.Engine,
		Uptime:        time.Since(a.startedAt).Truncate(time.Second).String(),
		Identities:    a.clients.Len(),
		Conversations: a.memory.Len(),
		Channels:      a.channelMgr.HealthAll(),
	}
}

func (a *Assistant) newRouter() *Router {
	cfg := a.config
	cache := reader.NewCache(cfg.Reader.CacheSize, cfg.Reader.CacheTTL)

	return NewRouter(RouterOptions{
		Memory:  a.memory,
		Clients: a.clients,
		Store:   a.store,
		YouTube: reader.NewYouTube(reader.YouTubeConfig{
			Step:       cfg.Reader.YouTubeStep,
			ChunkLines: cfg.Reader.ChunkLines,
			Timeout:    cfg.Model.Timeout,
		}, cache),
		Bilibili: reader.NewBilibili(reader.BilibiliConfig{
			Step:       cfg.Reader.BilibiliStep,
			ChunkLines: cfg.Reader.ChunkLines,
			Timeout:    cfg.Model.Timeout,
		}, cache),
		Website: reader.NewWebsite(reader.WebsiteConfig{
			ChunkChars: cfg.Reader.WebsiteChunkChars,
			Timeout:    cfg.Model.Timeout,
		}),
		TempFiles:           a.temp,
		Templates:           cfg.Summary,
		Engine:              cfg.Model.Engine,
		TranscriptionEngine: cfg.Model.TranscriptionEngine,
		Timeout:             cfg.Model.Timeout,
		PlainText:           cfg.Chat.PlainText,
		Logger:              a.logger,
	})
}

// messageLoop is the main loop that processes messages from all channels.
func (a *Assistant) messageLoop() {
	defer a.loop.Done()
	for {
		select {
		case msg, ok := <-a.channelMgr.Messages():
			if !ok {
				return
			}
			a.turns.Add(1)
			go func() {
				defer a.turns.Done()
				a.handleMessage(msg)
			}()

		case <-a.ctx.Done():
			return
		}
	}
}

// handleMessage routes one message and sends the reply, if any.
func (a *Assistant) handleMessage(msg *channels.IncomingMessage) {
	var (
		reply *Reply
		err   error
	)

	switch msg.Type {
	case channels.MessageText:
		reply, err = a.router.HandleText(a.turnCtx, Inbound{
			Channel: msg.Channel,
			UserID:  msg.From,
			GroupID: msg.GroupID,
			Text:    msg.Content,
		})
	case channels.MessageAudio:
		reply, err = a.router.HandleAudio(a.turnCtx, AudioInbound{
			Channel: msg.Channel,
			UserID:  msg.From,
			GroupID: msg.GroupID,
			Ext:     audioExt(msg.Media),
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return a.channelMgr.OpenMedia(ctx, msg)
			},
		})
	default:
		return
	}

	if err != nil {
		a.logger.Debug("turn failed", "channel", msg.Channel, "msg_id", msg.ID, "error", err)
	}
	if reply == nil {
		return
	}
	a.sendReply(msg, reply)
}

func (a *Assistant) sendReply(original *channels.IncomingMessage, reply *Reply) {
	out := &channels.OutgoingMessage{
		Content: reply.Text,
		ReplyTo: original.ReplyToken,
	}
	if out.ReplyTo == "" {
		out.ReplyTo = original.ID
	}
	if reply.ImageURL != "" {
		out.Image = &channels.ImageContent{OriginalURL: reply.ImageURL, PreviewURL: reply.ImageURL}
	}

	if err := a.channelMgr.Send(a.turnCtx, original.Channel, original.ChatID, out); err != nil {
		a.logger.Error("failed to send reply",
			"channel", original.Channel,
			"chat_id", original.ChatID,
			"error", err,
		)
	}
}

// audioExt picks a file extension the transcription API accepts.
func audioExt(info *channels.MediaInfo) string {
	if info == nil {
		return ".m4a"
	}
	if ext := filepath.Ext(info.Filename); ext != "" {
		return ext
	}
	switch info.MimeType {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".m4a"
	}
}
