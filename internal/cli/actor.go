package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/whisper/support-chat/internal/content"
	"github.com/whisper/support-chat/internal/model"
)

func newActorCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Actor provisioning",
	}

	cmd.AddCommand(newActorCreateCmd(e))
	cmd.AddCommand(newActorShowCmd(e))

	return cmd
}

func newActorCreateCmd(e *env) *cobra.Command {
	var (
		pseudonym, avatar string
		realName, contact string
		admin             bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := errors.Join(
				content.ValidatePseudonym(pseudonym),
				content.ValidateAvatar(avatar),
				content.ValidateEmergencyContact(contact),
			); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := e.store(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			actor := &model.Actor{
				ID:               uuid.NewString(),
				Pseudonym:        pseudonym,
				Avatar:           avatar,
				RealName:         realName,
				EmergencyContact: contact,
				IsAdmin:          admin,
				CreatedAt:        e.clock.Now(),
			}
			if err := store.CreateActor(ctx, actor); err != nil {
				return fmt.Errorf("create actor: %w", err)
			}

			return e.out(cmd.OutOrStdout()).Print(actor, actor.ID)
		},
	}

	cmd.Flags().StringVar(&pseudonym, "pseudonym", "", "Public display name (required)")
	cmd.Flags().StringVar(&avatar, "avatar", "", "Avatar glyph (required)")
	cmd.Flags().StringVar(&realName, "real-name", "", "Real name, never shown to other actors")
	cmd.Flags().StringVar(&contact, "emergency-contact", "", "Phone number or email")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant moderator rights")
	_ = cmd.MarkFlagRequired("pseudonym")
	_ = cmd.MarkFlagRequired("avatar")

	return cmd
}

func newActorShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an actor's public profile and flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.store(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			actor, err := store.GetActor(ctx, args[0])
			if err != nil {
				return err
			}
			text := fmt.Sprintf("%s %s %s admin=%t banned=%t",
				actor.ID, actor.Avatar, actor.Pseudonym, actor.IsAdmin, actor.IsBanned)
			return e.out(cmd.OutOrStdout()).Print(actor.Public(), text)
		},
	}
}
