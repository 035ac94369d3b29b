// Package copilot – config.go defines all configuration structures
// for the linegpt assistant.
package copilot

import (
	"fmt"
	"time"

	"github.com/jholhewres/linegpt/pkg/linegpt/channels/discord"
	"github.com/jholhewres/linegpt/pkg/linegpt/channels/line"
	"github.com/jholhewres/linegpt/pkg/linegpt/credentials"
)

// DefaultSystemMessage is the persona used when SYSTEM_MESSAGE is unset.
const DefaultSystemMessage = "You are a helpful assistant."

// Plain text handling modes.
const (
	PlainTextDrop = "drop"
	PlainTextChat = "chat"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name used in logs and the CLI prompt.
	Name string `yaml:"name"`

	// Model configures the language-model API.
	Model ModelConfig `yaml:"model"`

	// Memory configures per-conversation history.
	Memory MemoryConfig `yaml:"memory"`

	// Chat configures how messages without a command are treated.
	Chat ChatConfig `yaml:"chat"`

	// Credentials configures where registered API tokens are persisted.
	Credentials credentials.Config `yaml:"credentials"`

	// Reader configures transcript and website extraction.
	Reader ReaderConfig `yaml:"reader"`

	// Summary holds the summarization prompts per platform.
	Summary SummaryConfig `yaml:"summary"`

	// Channels configures messaging platforms.
	Channels ChannelsConfig `yaml:"channels"`

	// Gateway configures the HTTP server.
	Gateway GatewayConfig `yaml:"gateway"`

	// Media configures temporary audio storage.
	Media MediaConfig `yaml:"media"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig configures the OpenAI-compatible API.
type ModelConfig struct {
	// Engine is the chat model (e.g. "gpt-3.5-turbo").
	Engine string `yaml:"engine"`

	// TranscriptionEngine is the speech-to-text model.
	TranscriptionEngine string `yaml:"transcription_engine"`

	// BaseURL overrides the API root (empty uses the OpenAI default).
	BaseURL string `yaml:"base_url"`

	// ImageSize is the generated image size (e.g. "512x512").
	ImageSize string `yaml:"image_size"`

	// Timeout bounds every upstream call.
	Timeout time.Duration `yaml:"timeout"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	// Window is the number of recent exchanges kept in the model context.
	// Each exchange is one user and one assistant entry.
	Window int `yaml:"window"`

	// SystemMessage is the default system prompt for new conversations.
	SystemMessage string `yaml:"system_message"`
}

// ChatConfig configures command-less messages.
type ChatConfig struct {
	// PlainText is "drop" (ignore) or "chat" (treat as /Chat).
	PlainText string `yaml:"plain_text"`
}

// ReaderConfig configures content extraction.
type ReaderConfig struct {
	// YouTubeStep keeps every n-th caption line.
	YouTubeStep int `yaml:"youtube_step"`

	// BilibiliStep keeps every n-th subtitle line.
	BilibiliStep int `yaml:"bilibili_step"`

	// ChunkLines is the number of transcript lines per summarized chunk.
	ChunkLines int `yaml:"chunk_lines"`

	// WebsiteChunkChars is the maximum characters per website chunk.
	WebsiteChunkChars int `yaml:"website_chunk_chars"`

	// CacheSize is the number of transcripts kept in memory (0 disables).
	CacheSize int `yaml:"cache_size"`

	// CacheTTL is how long a cached transcript stays valid.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// SummaryConfig holds prompt templates per content source.
type SummaryConfig struct {
	YouTube  SummaryTemplates `yaml:"youtube"`
	Bilibili SummaryTemplates `yaml:"bilibili"`
	Website  SummaryTemplates `yaml:"website"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	// LINE is the primary webhook channel.
	LINE line.Config `yaml:"line"`

	// Discord is optional and only started when a token is set.
	Discord discord.Config `yaml:"discord"`
}

// GatewayConfig configures the HTTP server.
type GatewayConfig struct {
	// Address is the listen address (default "0.0.0.0:8080").
	Address string `yaml:"address"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MediaConfig configures temporary audio files.
type MediaConfig struct {
	// TempDir holds downloaded audio while it is transcribed.
	TempDir string `yaml:"temp_dir"`

	// MaxAge is how old a stray temp file must be before the sweeper
	// removes it.
	MaxAge time.Duration `yaml:"max_age"`

	// SweepSchedule is the cron spec for the sweeper.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "linegpt",
		Model: ModelConfig{
			Engine:              "gpt-3.5-turbo",
			TranscriptionEngine: "whisper-1",
			ImageSize:           "512x512",
			Timeout:             60 * time.Second,
		},
		Memory: MemoryConfig{
			Window:        2,
			SystemMessage: DefaultSystemMessage,
		},
		Chat:        ChatConfig{PlainText: PlainTextDrop},
		Credentials: credentials.DefaultConfig(),
		Reader: ReaderConfig{
			YouTubeStep:       4,
			BilibiliStep:      2,
			ChunkLines:        150,
			WebsiteChunkChars: 2000,
			CacheSize:         64,
			CacheTTL:          time.Hour,
		},
		Summary: SummaryConfig{
			YouTube:  DefaultYouTubeTemplates(),
			Bilibili: DefaultBilibiliTemplates(),
			Website:  DefaultWebsiteTemplates(),
		},
		Channels: ChannelsConfig{
			Discord: discord.DefaultConfig(),
		},
		Gateway: GatewayConfig{
			Address:         "0.0.0.0:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Media: MediaConfig{
			TempDir:       "./data/tmp",
			MaxAge:        30 * time.Minute,
			SweepSchedule: "@every 10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations the assistant cannot run with.
func (c *Config) Validate() error {
	if c.Model.Engine == "" {
		return fmt.Errorf("model.engine is required")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model.timeout must be positive, got %s", c.Model.Timeout)
	}
	if c.Memory.Window < 1 {
		return fmt.Errorf("memory.window must be at least 1, got %d", c.Memory.Window)
	}
	switch c.Chat.PlainText {
	case PlainTextDrop, PlainTextChat:
	default:
		return fmt.Errorf("chat.plain_text must be %q or %q, got %q", PlainTextDrop, PlainTextChat, c.Chat.PlainText)
	}
	if err := c.Credentials.Validate(); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	if c.Media.MaxAge <= 0 {
		return fmt.Errorf("media.max_age must be positive, got %s", c.Media.MaxAge)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}
