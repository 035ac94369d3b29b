// Package commands implements the linegpt CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "linegpt",
		Short: "linegpt - ChatGPT on LINE",
		Long: `linegpt answers LINE (and optionally Discord) messages with an
OpenAI-compatible model. Every user registers their own API token, chats,
generates images, sends voice messages and asks for summaries of YouTube,
Bilibili and website links.

Examples:
  linegpt serve
  linegpt chat
  linegpt setup
  linegpt creds migrate --to sqlite`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newSecretCmd(),
		newCredsCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
