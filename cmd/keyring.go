package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/cryptovault/internal/crypto"
	"github.com/illarion/cryptovault/internal/keyring"
)

func keyringCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the vault password in the OS keyring",
	}
	cmd.AddCommand(keyringSaveCmd(a), keyringDeleteCmd(a), keyringStatusCmd(a))
	return cmd
}

// keyringSaveCmd always prompts so a stale keyring entry cannot be re-saved
func keyringSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Save the vault password to the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			vaultID, err := v.ID(cmd.Context())
			if err != nil {
				return err
			}

			password := []byte(a.password)
			if len(password) == 0 {
				if password, err = readPasswordConfirm(); err != nil {
					return err
				}
			}
			defer crypto.ClearBytes(password)

			if err := keyring.SavePassword(vaultID, string(password)); err != nil {
				return fmt.Errorf("failed to save to keyring: %w", err)
			}
			fmt.Fprintln(out(cmd), "Password saved to keyring")
			return nil
		},
	}
}

func keyringDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the vault password from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			vaultID, err := v.ID(cmd.Context())
			if err != nil {
				return err
			}

			if err := keyring.DeletePassword(vaultID); err != nil {
				if keyring.IsNotFound(err) {
					fmt.Fprintln(out(cmd), "No password stored in keyring")
					return nil
				}
				return fmt.Errorf("failed to delete from keyring: %w", err)
			}
			fmt.Fprintln(out(cmd), "Password removed from keyring")
			return nil
		},
	}
}

func keyringStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the vault password is in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			vaultID, err := v.ID(cmd.Context())
			if err != nil {
				return err
			}

			if keyring.HasPassword(vaultID) {
				fmt.Fprintln(out(cmd), "Password: stored in keyring")
			} else {
				fmt.Fprintln(out(cmd), "Password: not stored")
			}
			return nil
		},
	}
}
