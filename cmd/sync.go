package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/illarion/cryptovault/internal/syncer"
)

func syncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the vault with a remote backend",
		Long: `Synchronizes encrypted files with a remote backend. Only ciphertext and
file metadata leave this machine.

Backends and their settings:
  local         sync_dir
  object_store  access_key, secret_key, bucket, region [endpoint, prefix]   (alias: s3)
  token_drive   access_token [root, timeout]                                (alias: dropbox)`,
	}
	cmd.AddCommand(syncConfigCmd(a), syncRunCmd(a), syncStatusCmd(a), syncDisableCmd(a))
	return cmd
}

// parseSettings turns repeated key=value flags into a map
func parseSettings(pairs []string) (map[string]string, error) {
	settings := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q, want key=value", p)
		}
		settings[key] = value
	}
	return settings, nil
}

func syncConfigCmd(a *app) *cobra.Command {
	var pairs []string

	cmd := &cobra.Command{
		Use:   "config <kind>",
		Short: "Select a remote backend and enable sync",
		Example: `  cryptovault sync config local --set sync_dir=/mnt/usb/vault
  cryptovault sync config s3 --set bucket=my-vault --set region=eu-west-1 \
      --set access_key=AKIA... --set secret_key=...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := parseSettings(pairs)
			if err != nil {
				return err
			}
			svc, err := a.syncService()
			if err != nil {
				return err
			}
			if err := svc.Configure(cmd.Context(), args[0], settings); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Sync enabled with %s backend\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "backend setting as key=value (repeatable)")
	return cmd
}

func printReport(w io.Writer, report *syncer.Report) {
	fmt.Fprintf(w, "Sync: %s\n", report)
	for _, c := range report.Resolved {
		fmt.Fprintf(w, "  conflict %s\n", c)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(w, "  failed %s\n", e)
	}
}

func syncRunCmd(a *app) *cobra.Command {
	var watch time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sync now, or periodically with --watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.syncService()
			if err != nil {
				return err
			}

			if watch > 0 {
				fmt.Fprintf(out(cmd), "Syncing every %s, press Ctrl+C to stop\n", watch)
				return svc.Watch(cmd.Context(), watch, func(report *syncer.Report, err error) {
					if report != nil && (report.Changed() || len(report.Errors) > 0) {
						printReport(out(cmd), report)
					}
					if err != nil {
						HandleError(cmd.ErrOrStderr(), err)
					}
				})
			}

			// Transfers done before a failure are still reported
			report, err := svc.Run(cmd.Context())
			if report != nil && (err == nil || report.Changed() || len(report.Errors) > 0) {
				printReport(out(cmd), report)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "sync repeatedly at this interval (e.g. 5m)")
	return cmd
}

func syncStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync configuration and the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.syncService()
			if err != nil {
				return err
			}
			st, err := svc.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := out(cmd)
			if st.Kind == "" {
				fmt.Fprintln(w, "Sync: not configured")
				return nil
			}
			state := "disabled"
			if st.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(w, "Sync:      %s\n", state)
			fmt.Fprintf(w, "Backend:   %s\n", st.Kind)
			if st.LastSyncAt.IsZero() {
				fmt.Fprintln(w, "Last sync: never")
			} else {
				fmt.Fprintf(w, "Last sync: %s (%s)\n", st.LastSyncAt.Local().Format(time.RFC3339), humanize.Time(st.LastSyncAt))
			}
			switch {
			case st.LastPhase == "":
			case st.LastError != "":
				fmt.Fprintf(w, "Last run:  %s: %s\n", st.LastPhase, st.LastError)
			default:
				fmt.Fprintln(w, "Last run:  ok")
			}
			if st.InSync {
				fmt.Fprintln(w, "Changes:   none since last sync")
			} else {
				fmt.Fprintln(w, "Changes:   pending")
			}
			fmt.Fprintf(w, "Digest:    %s\n", shortDigest(st.LocalDigest))
			return nil
		},
	}
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return d
}

func syncDisableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Turn sync off, keeping the backend settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.syncService()
			if err != nil {
				return err
			}
			if err := svc.Disable(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), "Sync disabled")
			return nil
		},
	}
}
