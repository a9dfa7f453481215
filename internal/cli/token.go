package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisper/support-chat/internal/auth"
	"github.com/whisper/support-chat/internal/model"
)

func newTokenCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token commands",
	}
	cmd.AddCommand(newTokenMintCmd(e))
	return cmd
}

func newTokenMintCmd(e *env) *cobra.Command {
	var actorID string

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token for an existing actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.Auth.Secret == "" {
				return fmt.Errorf("JWT_SECRET is required to mint tokens")
			}

			ctx := cmd.Context()
			store, err := e.store(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			actor, err := store.GetActor(ctx, actorID)
			if err != nil {
				return err
			}
			if actor.IsBanned {
				return fmt.Errorf("actor %s: %w", actor.ID, model.ErrForbidden)
			}

			issuer := auth.NewIssuer([]byte(e.cfg.Auth.Secret), e.cfg.Auth.Issuer, e.cfg.Auth.TokenTTL, e.clock)
			token, expires, err := issuer.Issue(actor.ID)
			if err != nil {
				return err
			}

			result := struct {
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expiresAt"`
			}{token, expires}
			return e.out(cmd.OutOrStdout()).Print(result, token)
		},
	}

	cmd.Flags().StringVar(&actorID, "actor", "", "Actor id (required)")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}
