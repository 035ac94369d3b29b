package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/linegpt/pkg/linegpt/copilot"
)

// newConfigCmd creates the `linegpt config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Manage the linegpt configuration.

Examples:
  linegpt config init
  linegpt config show
  linegpt config validate`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = defaultConfigPath
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := copilot.SaveConfigToFile(copilot.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, false)
			if err != nil {
				return err
			}

			masked := *cfg
			masked.Channels.LINE.ChannelSecret = mask(cfg.Channels.LINE.ChannelSecret)
			masked.Channels.LINE.ChannelAccessToken = mask(cfg.Channels.LINE.ChannelAccessToken)
			masked.Channels.Discord.Token = mask(cfg.Channels.Discord.Token)
			masked.Credentials.VaultPassword = mask(cfg.Credentials.VaultPassword)
			masked.Credentials.MongoURI = mask(cfg.Credentials.MongoURI)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report problems",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, false)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cfg.Channels.LINE.ChannelSecret == "" || cfg.Channels.LINE.ChannelAccessToken == "" {
				fmt.Fprintln(out, "warning: LINE credentials are not set in the file or environment (the keyring is checked at serve time)")
			}
			fmt.Fprintln(out, "config OK")
			return nil
		},
	}
}

// mask hides all but the last four characters of a secret.
func mask(s string) string {
	if s == "" || copilot.IsEnvReference(s) {
		return s
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
