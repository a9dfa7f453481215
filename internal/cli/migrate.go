package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whisper/support-chat/internal/config"
	"github.com/whisper/support-chat/internal/storage/postgres"
)

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Postgres schema migrations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if e.cfg.Storage.Driver != config.StoragePostgres || e.cfg.Storage.DSN == "" {
				return fmt.Errorf("migrations need a postgres DSN (--dsn or DATABASE_URL)")
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postgres.MigrateUp(e.cfg.Storage.DSN); err != nil {
				return err
			}
			return printVersion(cmd, e)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			if err := postgres.MigrateDown(e.cfg.Storage.DSN, steps); err != nil {
				return err
			}
			return printVersion(cmd, e)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd, e)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, e *env) error {
	v, dirty, err := postgres.MigrationVersion(e.cfg.Storage.DSN)
	if err != nil {
		return err
	}
	result := struct {
		Version uint `json:"version"`
		Dirty   bool `json:"dirty"`
	}{v, dirty}
	text := fmt.Sprintf("schema version %d", v)
	if dirty {
		text += " (dirty)"
	}
	return e.out(cmd.OutOrStdout()).Print(result, text)
}
