package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/linegpt/pkg/linegpt/channels/discord"
	"github.com/jholhewres/linegpt/pkg/linegpt/channels/line"
	"github.com/jholhewres/linegpt/pkg/linegpt/copilot"
	"github.com/jholhewres/linegpt/pkg/linegpt/gateway"
)

// newServeCmd creates the `linegpt serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and messaging channels",
		Long: `Start linegpt as a service: the LINE webhook is served on
/callback and Discord connects when a bot token is configured.

Without a config file the environment is used (LINE_CHANNEL_SECRET,
LINE_CHANNEL_ACCESS_TOKEN, SYSTEM_MESSAGE, OPENAI_MODEL_ENGINE, USE_MONGO, ...).

Examples:
  linegpt serve
  linegpt serve --channel line
  linegpt serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (line, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd, true)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	slog.SetDefault(logger)

	// ── Resolve secrets ──
	copilot.ResolveSecrets(cfg, logger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── Create assistant ──
	assistant, err := copilot.New(cfg, logger)
	if err != nil {
		return err
	}

	// ── Register channels ──
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	var callback http.Handler
	lineCfg := cfg.Channels.LINE
	if shouldEnable("line", channelFilter, true) && lineCfg.ChannelSecret != "" && lineCfg.ChannelAccessToken != "" {
		ch, err := line.New(lineCfg, logger)
		if err != nil {
			return err
		}
		if err := assistant.ChannelManager().Register(ch); err != nil {
			return err
		}
		callback = ch.Handler()
		logger.Info("LINE channel registered")
	}

	if shouldEnable("discord", channelFilter, true) && cfg.Channels.Discord.Token != "" {
		if err := assistant.ChannelManager().Register(discord.New(cfg.Channels.Discord, logger)); err != nil {
			logger.Error("failed to register Discord", "error", err)
		} else {
			logger.Info("Discord channel registered")
		}
	}

	// ── Start ──
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := assistant.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	gw := gateway.New(cfg.Gateway, callback, assistant, logger)
	if err := gw.Start(ctx); err != nil {
		assistant.Stop()
		return err
	}

	logger.Info("linegpt running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"address", gw.Addr(),
		"engine", cfg.Model.Engine,
	)

	// ── Wait for shutdown ──
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		if err := gw.Stop(); err != nil {
			logger.Warn("gateway shutdown", "error", err)
		}
		assistant.Stop()
		close(done)
	}()

	// The gateway and the turn drain each get ShutdownTimeout.
	timeout := 2*cfg.Gateway.ShutdownTimeout + 5*time.Second
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(timeout):
		logger.Warn("shutdown timed out, forcing exit", "timeout", timeout)
	}
	return nil
}

// resolveConfig loads the config file when one exists. Otherwise it offers
// the setup wizard on a terminal and falls back to the environment.
func resolveConfig(cmd *cobra.Command, offerSetup bool) (*copilot.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	// Explicit path first.
	if configPath != "" {
		cfg, err := copilot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	// Auto-discover config file.
	if found := copilot.FindConfigFile(); found != "" {
		cfg, err := copilot.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	cfg := copilot.LoadConfigFromEnv()
	if !offerSetup || !term.IsTerminal(int(os.Stdin.Fd())) || os.Getenv("LINE_CHANNEL_SECRET") != "" {
		return cfg, nil
	}

	runSetupNow := true
	err := huh.NewConfirm().
		Title("No configuration file found. Run the setup wizard now?").
		Affirmative("Yes").
		Negative("No, use the environment").
		Value(&runSetupNow).
		Run()
	if err != nil || !runSetupNow {
		return cfg, nil
	}

	path, err := runInteractiveSetup()
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	return copilot.LoadConfigFromFile(path)
}

// newLogger builds the slog logger from the logging config and --verbose.
func newLogger(cmd *cobra.Command, cfg *copilot.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Logging.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}

// isAbort reports whether a huh form was cancelled by the user.
func isAbort(err error) bool {
	return errors.Is(err, huh.ErrUserAborted)
}
