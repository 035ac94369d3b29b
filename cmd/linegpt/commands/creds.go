package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jholhewres/linegpt/pkg/linegpt/credentials"
)

// newCredsCmd creates the `linegpt creds` command group for registered tokens.
func newCredsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Inspect and migrate registered API tokens",
		Long: `Registered API tokens are kept in the credentials backend
(file, vault, sqlite or mongo) so the bot restores them on restart.

Examples:
  linegpt creds list
  linegpt creds migrate --to sqlite
  linegpt creds migrate --to mongo --mongo-uri mongodb://localhost:27017`,
	}

	cmd.AddCommand(newCredsListCmd(), newCredsMigrateCmd())
	return cmd
}

func newCredsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered identities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, false)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := credentials.Open(ctx, cfg.Credentials, slog.Default())
			if err != nil {
				return err
			}
			defer store.Close()

			tokens, err := credentials.LoadOrEmpty(ctx, store)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d registered identities (%s backend)\n", len(tokens), cfg.Credentials.Backend)
			for _, id := range sortedKeys(tokens) {
				fmt.Fprintf(out, "  %-40s %s\n", id, mask(tokens[id]))
			}
			return nil
		},
	}
}

func newCredsMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every registered token to another backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, false)
			if err != nil {
				return err
			}

			dstCfg := cfg.Credentials
			dstCfg.Backend, _ = cmd.Flags().GetString("to")
			if v, _ := cmd.Flags().GetString("path"); v != "" {
				dstCfg.Path = v
				dstCfg.VaultPath = v
				dstCfg.SQLitePath = v
			}
			if v, _ := cmd.Flags().GetString("mongo-uri"); v != "" {
				dstCfg.MongoURI = v
			}
			if dstCfg == cfg.Credentials {
				return fmt.Errorf("source and destination are the same")
			}

			ctx := cmd.Context()
			src, err := credentials.Open(ctx, cfg.Credentials, slog.Default())
			if err != nil {
				return fmt.Errorf("opening source: %w", err)
			}
			defer src.Close()

			dst, err := credentials.Open(ctx, dstCfg, slog.Default())
			if err != nil {
				return fmt.Errorf("opening destination: %w", err)
			}
			defer dst.Close()

			n, err := migrateCredentials(ctx, src, dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d identities from %s to %s\n", n, cfg.Credentials.Backend, dstCfg.Backend)
			fmt.Fprintf(cmd.OutOrStdout(), "set credentials.backend: %s in config.yaml to use it\n", dstCfg.Backend)
			return nil
		},
	}

	cmd.Flags().String("to", credentials.BackendSQLite, "destination backend (file, vault, sqlite, mongo)")
	cmd.Flags().String("path", "", "destination file for file, vault or sqlite")
	cmd.Flags().String("mongo-uri", "", "destination MongoDB URI")
	return cmd
}

// migrateCredentials copies every pair from src into dst in one Save.
func migrateCredentials(ctx context.Context, src, dst credentials.Store) (int, error) {
	tokens, err := credentials.LoadOrEmpty(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("loading source: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}
	if err := dst.Save(ctx, tokens); err != nil {
		return 0, fmt.Errorf("saving destination: %w", err)
	}
	return len(tokens), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
