// Package model wraps the OpenAI-compatible API used by linegpt: chat
// completions, image generation, audio transcription and token checks.
// Every call returns an *APIError with a classified ErrorKind on failure.
package model

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Conversation roles.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// DefaultTranscriptionEngine is the speech-to-text model used for audio.
const DefaultTranscriptionEngine = openai.Whisper1

// Message is one conversation entry sent to or returned by the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures clients created by a Factory.
type Options struct {
	// BaseURL overrides the API endpoint (default https://api.openai.com/v1).
	BaseURL string

	// ImageSize is the generated image size (default 512x512).
	ImageSize string

	// HTTPTimeout bounds a single HTTP round trip.
	HTTPTimeout time.Duration
}

// Client is bound to one API token.
type Client struct {
	token     string
	api       *openai.Client
	imageSize string
	logger    *slog.Logger
}

// Factory builds clients for tokens sharing the same Options.
type Factory struct {
	opts   Options
	logger *slog.Logger
}

// NewFactory creates a Factory. A nil logger falls back to slog.Default.
func NewFactory(opts Options, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ImageSize == "" {
		opts.ImageSize = openai.CreateImageSize512x512
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 120 * time.Second
	}
	return &Factory{opts: opts, logger: logger}
}

// New returns a client for token.
func (f *Factory) New(token string) *Client {
	cfg := openai.DefaultConfig(token)
	if f.opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(f.opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: f.opts.HTTPTimeout}

	return &Client{
		token:     token,
		api:       openai.NewClientWithConfig(cfg),
		imageSize: f.opts.ImageSize,
		logger:    f.logger.With("component", "model"),
	}
}

// Token returns the API token the client is bound to.
func (c *Client) Token() string { return c.token }

// ChatCompletion sends the conversation and returns the first choice.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, engine string) (Message, error) {
	start := time.Now()

	req := openai.ChatCompletionRequest{
		Model:    engine,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	c.logger.Debug("sending chat completion", "engine", engine, "messages", len(messages))

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return Message{}, classifyError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, &APIError{Kind: ErrorEmpty, Op: "chat completion", Message: "no choices in response"}
	}

	choice := resp.Choices[0].Message
	role := choice.Role
	if role == "" {
		role = RoleAssistant
	}

	c.logger.Info("chat completion done",
		"engine", engine,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return Message{Role: role, Content: strings.TrimSpace(choice.Content)}, nil
}

// ImageGeneration creates one image for prompt and returns its URL.
func (c *Client) ImageGeneration(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", classifyError("image generation", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &APIError{Kind: ErrorEmpty, Op: "image generation", Message: "no image in response"}
	}

	c.logger.Info("image generation done", "duration_ms", time.Since(start).Milliseconds())
	return resp.Data[0].URL, nil
}

// AudioTranscription transcribes the audio file at path.
func (c *Client) AudioTranscription(ctx context.Context, path, engine string) (string, error) {
	if engine == "" {
		engine = DefaultTranscriptionEngine
	}
	start := time.Now()

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    engine,
		FilePath: path,
	})
	if err != nil {
		return "", classifyError("audio transcription", err)
	}

	c.logger.Info("audio transcription done",
		"engine", engine,
		"duration_ms", time.Since(start).Milliseconds(),
		"chars", len(resp.Text),
	)
	return strings.TrimSpace(resp.Text), nil
}

// CheckToken verifies the token by listing the available models.
func (c *Client) CheckToken(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return classifyError("token check", err)
	}
	return nil
}
