package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/linegpt/pkg/linegpt/copilot"
)

// cliChannel is the channel name the terminal session routes under.
const cliChannel = "cli"

// newChatCmd creates the `linegpt chat` command for terminal conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the bot from the terminal",
		Long: `Runs the same command router the chat platforms use, with the
terminal as the conversation. Register a token first with /Reg sk-xxxxx;
it is persisted like any other registration.

Examples:
  linegpt chat "/Chat what is the capital of Japan?"
  linegpt chat            # interactive mode
  linegpt chat --user me  # pick the identity`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().String("user", "cli-user", "identity the conversation is stored under")
	cmd.Flags().String("group", "", "group identity, to try /RegGroup and shared history")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, false)
	if err != nil {
		return err
	}
	if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	cfg.Logging.Format = "text"
	logger := newLogger(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	assistant, err := copilot.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := assistant.Start(ctx); err != nil {
		return err
	}
	defer assistant.Stop()

	user, _ := cmd.Flags().GetString("user")
	group, _ := cmd.Flags().GetString("group")
	session := &chatSession{
		router: assistant.Router(),
		user:   user,
		group:  group,
		out:    cmd.OutOrStdout(),
	}

	// Single message.
	if len(args) > 0 {
		return session.send(ctx, args[0])
	}

	return session.repl(ctx, cfg.Name)
}

// chatSession feeds terminal lines to the router.
type chatSession struct {
	router *copilot.Router
	user   string
	group  string
	out    io.Writer
}

func (s *chatSession) send(ctx context.Context, text string) error {
	reply, err := s.router.HandleText(ctx, copilot.Inbound{
		Channel: cliChannel,
		UserID:  s.user,
		GroupID: s.group,
		Text:    text,
	})
	if reply == nil {
		if err != nil {
			return err
		}
		if !strings.HasPrefix(strings.TrimSpace(text), "/") {
			fmt.Fprintln(s.out, "(ignored: start with /Chat, or set chat.plain_text: chat)")
		}
		return nil
	}

	if reply.ImageURL != "" {
		fmt.Fprintf(s.out, "[image] %s\n", reply.ImageURL)
	}
	if reply.Text != "" {
		fmt.Fprintln(s.out, reply.Text)
	}
	return nil
}

func (s *chatSession) repl(ctx context.Context, name string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 name + "> ",
		HistoryFile:            historyFile(),
		DisableAutoSaveHistory: true,
		InterruptPrompt:        "^C",
		EOFPrompt:              "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	s.out = rl.Stdout()

	fmt.Fprintln(s.out, "Type /Help for commands, exit or Ctrl+D to quit.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if keepInHistory(line) {
			_ = rl.SaveHistory(line)
		}

		if err := s.send(ctx, line); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// keepInHistory keeps API tokens out of the plaintext history file.
func keepInHistory(line string) bool {
	return line != "/Reg" && !strings.HasPrefix(line, "/Reg ")
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "linegpt")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}
