// Package cli implements supportctl, the operator tool for schema
// migrations, actor provisioning and credential housekeeping.
package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/whisper/support-chat/internal/config"
	"github.com/whisper/support-chat/internal/dependencies/clock"
	"github.com/whisper/support-chat/internal/factory"
	"github.com/whisper/support-chat/internal/storage"
)

// env carries what every subcommand needs. Tests replace openStore and
// clock.
type env struct {
	cfg       config.Config
	output    string
	dsn       string
	clock     clock.Clock
	openStore func(ctx context.Context, cfg config.StorageConfig) (storage.Store, error)
	loadCfg   func() (config.Config, error)
}

func defaultEnv() *env {
	return &env{
		output:    "text",
		clock:     clock.New(),
		openStore: factory.OpenStore,
		loadCfg: func() (config.Config, error) {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return config.Config{}, err
			}
			return config.Load()
		},
	}
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultEnv())
}

func newRootCmd(e *env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "supportctl",
		Short: "Operator tool for the support chat server",
		Long: `supportctl manages the support chat database.

It applies schema migrations, provisions actors, mints bearer tokens for
them and purges expired credential revocations. Configuration is read the
same way the server reads it: defaults, CONFIG_FILE, then the environment.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadCfg()
			if err != nil {
				return err
			}
			if e.dsn != "" {
				cfg.Storage.Driver = config.StoragePostgres
				cfg.Storage.DSN = e.dsn
			}
			e.cfg = cfg
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&e.dsn, "dsn", "", "Postgres DSN, overrides DATABASE_URL")
	rootCmd.PersistentFlags().StringVarP(&e.output, "output", "o", e.output, "Output format: text, json")

	rootCmd.AddCommand(newMigrateCmd(e))
	rootCmd.AddCommand(newActorCmd(e))
	rootCmd.AddCommand(newTokenCmd(e))
	rootCmd.AddCommand(newRevokedCmd(e))

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (e *env) store(ctx context.Context) (storage.Store, error) {
	return e.openStore(ctx, e.cfg.Storage)
}

func (e *env) out(w io.Writer) *Output {
	return NewOutput(w, e.output)
}
