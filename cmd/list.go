package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const shortIDLen = 8

func listCmd(a *app) *cobra.Command {
	var fullID bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List files in the vault",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			// No password required
			files, err := v.List(cmd.Context())
			if err != nil {
				return err
			}

			if len(files) == 0 {
				fmt.Fprintln(out(cmd), "Vault is empty")
				return nil
			}

			tw := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODIFIED\tSIZE")
			for _, f := range files {
				id := f.ID
				if !fullID && len(id) > shortIDLen {
					id = id[:shortIDLen]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					id,
					f.OriginalName,
					f.ModifiedAt.Local().Format("2006-01-02 15:04:05"),
					humanize.IBytes(uint64(f.SizeBytes)),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Total files: %d\n", len(files))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fullID, "full-id", false, "show complete file IDs")
	return cmd
}
