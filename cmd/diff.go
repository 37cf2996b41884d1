package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func diffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:               "diff <id> <file>",
		Short:             "Compare a vaulted file with a local file",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeIDs(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, id, err := a.resolveID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.withSecret(cmd.Context(), false, func(password []byte) error {
				diff, err := v.Diff(cmd.Context(), id, password, args[1])
				if err != nil {
					return err
				}
				if diff == "" {
					fmt.Fprintf(out(cmd), "No differences\n")
					return nil
				}
				fmt.Fprint(out(cmd), diff)
				return nil
			})
		},
	}
}
