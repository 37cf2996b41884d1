package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func encryptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a file into the vault",
		Long: `Encrypts a file with a key derived from the password and stores it in
the vault. Prints the new file ID. The source file is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			return a.withSecret(cmd.Context(), true, func(password []byte) error {
				id, err := v.Encrypt(cmd.Context(), args[0], password)
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "Encrypted %s\n", args[0])
				fmt.Fprintf(out(cmd), "ID: %s\n", id)
				return nil
			})
		},
	}
}
