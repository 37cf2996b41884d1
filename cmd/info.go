package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func infoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show vault statistics",
		Long:  "Shows file count and sizes. Does not require a password.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			info, err := v.Info(cmd.Context())
			if err != nil {
				return err
			}

			w := out(cmd)
			fmt.Fprintf(w, "Path:       %s\n", info.Path)
			fmt.Fprintf(w, "Vault ID:   %s\n", info.VaultID)
			fmt.Fprintf(w, "Files:      %d\n", info.Files)
			fmt.Fprintf(w, "Plaintext:  %s\n", humanize.IBytes(uint64(info.PlainBytes)))
			fmt.Fprintf(w, "Stored:     %s\n", humanize.IBytes(uint64(info.StoredBytes)))
			if info.Tombstones > 0 {
				fmt.Fprintf(w, "Deleted:    %d (kept for sync)\n", info.Tombstones)
			}
			if !info.Modified.IsZero() {
				fmt.Fprintf(w, "Modified:   %s (%s)\n", info.Modified.Local().Format(time.RFC3339), humanize.Time(info.Modified))
			}
			if len(info.Orphans) > 0 {
				fmt.Fprintf(w, "Warning: %d records without content: %v\n", len(info.Orphans), info.Orphans)
			}
			return nil
		},
	}
}
