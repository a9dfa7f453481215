package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRevokedCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoked",
		Short: "Revoked credential housekeeping",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete revocations whose credentials have expired anyway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.store(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PurgeRevoked(ctx, e.clock.Now())
			if err != nil {
				return err
			}
			result := struct {
				Purged int64 `json:"purged"`
			}{n}
			return e.out(cmd.OutOrStdout()).Print(result, fmt.Sprintf("purged %d revocations", n))
		},
	})

	return cmd
}
