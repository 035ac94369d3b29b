package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/linegpt/pkg/linegpt/copilot"
	"github.com/jholhewres/linegpt/pkg/linegpt/credentials"
)

// secretNames maps CLI names to keyring entries.
var secretNames = map[string]string{
	"line-secret":   copilot.KeyringLineSecret,
	"line-token":    copilot.KeyringLineToken,
	"discord-token": copilot.KeyringDiscordToken,
}

func secretKey(name string) (string, error) {
	key, ok := secretNames[name]
	if !ok {
		names := make([]string, 0, len(secretNames))
		for n := range secretNames {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", fmt.Errorf("unknown secret %q (one of %s)", name, strings.Join(names, ", "))
	}
	return key, nil
}

// newSecretCmd creates the `linegpt secret` command group.
func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage channel secrets in the OS keyring",
		Long: `Channel secrets stored in the OS keyring take precedence over the
environment and config.yaml.

Examples:
  linegpt secret set line-token
  linegpt secret list
  linegpt secret delete discord-token`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <name>",
			Short: "Store a secret (read without echo)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := secretKey(args[0])
				if err != nil {
					return err
				}
				value, err := credentials.ReadPassword(args[0] + ": ")
				if err != nil {
					return err
				}
				if strings.TrimSpace(value) == "" {
					return fmt.Errorf("empty value")
				}
				if err := copilot.StoreKeyring(key, strings.TrimSpace(value)); err != nil {
					return fmt.Errorf("storing %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s stored in the OS keyring\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove a secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := secretKey(args[0])
				if err != nil {
					return err
				}
				if err := copilot.DeleteKeyring(key); err != nil {
					return fmt.Errorf("deleting %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Show which secrets are set",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if !copilot.KeyringAvailable() {
					return fmt.Errorf("OS keyring not available")
				}
				names := make([]string, 0, len(secretNames))
				for n := range secretNames {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					state := "not set"
					if copilot.GetKeyring(secretNames[n]) != "" {
						state = "set"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", n, state)
				}
				return nil
			},
		},
	)
	return cmd
}
