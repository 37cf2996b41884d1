package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Generate shell completions",
		Long: `Outputs a shell completion script for the specified shell.

Setup:
  # Bash - add to ~/.bashrc
  eval "$(cryptovault completion bash)"

  # Zsh - add to ~/.zshrc
  eval "$(cryptovault completion zsh)"

  # Fish - add to ~/.config/fish/config.fish
  cryptovault completion fish | source`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := out(cmd)
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(w)
			}
			return fmt.Errorf("unknown shell: %s", args[0])
		},
	}
}

// completeIDs offers the IDs of stored files, annotated with their names
func completeIDs(a *app) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveDefault
		}
		v, err := a.openVault()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		files, err := v.List(cmd.Context())
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.ID+"\t"+f.OriginalName)
		}
		return ids, cobra.ShellCompDirectiveNoFileComp
	}
}
