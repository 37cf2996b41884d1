package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/illarion/cryptovault/internal/vault"
)

func compactCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the vault database to reclaim disk space",
		Long:  "Rewrites vault.db without free pages left by deletes. Does not require a password.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			path := filepath.Join(v.Dir(), vault.DatabaseFile)

			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			sizeBefore := info.Size()

			if err := v.Compact(cmd.Context()); err != nil {
				return err
			}

			info, err = os.Stat(path)
			if err != nil {
				return err
			}
			sizeAfter := info.Size()

			fmt.Fprintf(out(cmd), "Compacted: %s -> %s\n", humanize.IBytes(uint64(sizeBefore)), humanize.IBytes(uint64(sizeAfter)))
			return nil
		},
	}
}
