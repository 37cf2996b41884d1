package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func decryptCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "decrypt <id>",
		Short: "Decrypt a file from the vault",
		Long: `Decrypts a file and writes it to --output, or to its original name in
the current directory. The ID may be abbreviated to any unique prefix.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeIDs(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, id, err := a.resolveID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.withSecret(cmd.Context(), false, func(password []byte) error {
				path, err := v.Decrypt(cmd.Context(), id, password, output)
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "Decrypted to %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: original file name)")
	return cmd
}
