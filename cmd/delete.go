package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a file from the vault",
		Long: `Removes a file and its encrypted content from the vault. The delete is
remembered so that sync removes the file from other devices too.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeIDs(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, id, err := a.resolveID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := v.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Deleted %s\n", id)
			return nil
		},
	}
}
