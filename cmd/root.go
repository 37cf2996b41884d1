package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/illarion/cryptovault/internal/config"
	"github.com/illarion/cryptovault/internal/logging"
	"github.com/illarion/cryptovault/internal/syncer"
	"github.com/illarion/cryptovault/internal/vault"
)

// app is the state shared by every command of one invocation
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	password string
	getenv   func(string) string

	vault *vault.Vault
}

// Execute runs the cryptovault command line with os.Args
func Execute(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return NewRootCommand(cfg, os.Getenv).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Flags default to the values
// already in cfg, so flags override the environment.
func NewRootCommand(cfg *config.Config, getenv func(string) string) *cobra.Command {
	a := &app{cfg: cfg, getenv: getenv}

	root := &cobra.Command{
		Use:           "cryptovault",
		Short:         "Encrypted local file vault with remote sync",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			log, err := logging.New(a.cfg.LogLevel)
			if err != nil {
				return err
			}
			log.SetOutput(cmd.ErrOrStderr())
			a.log = log
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.VaultPath, "vault", cfg.VaultPath, "vault directory (env "+config.EnvVaultPath+")")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error (env "+config.EnvLogLevel+")")
	flags.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "PBKDF2 iterations for new files (env "+config.EnvIterations+")")
	flags.DurationVar(&cfg.LockTimeout, "lock-timeout", cfg.LockTimeout, "how long to wait for the vault lock, 0 waits forever (env "+config.EnvLockTimeout+")")
	flags.StringVarP(&a.password, "password", "p", "", "vault password (env "+config.EnvPassword+")")

	root.AddCommand(
		encryptCmd(a),
		decryptCmd(a),
		listCmd(a),
		deleteCmd(a),
		infoCmd(a),
		compactCmd(a),
		diffCmd(a),
		keyringCmd(a),
		syncCmd(a),
		completionCmd(),
	)
	return root
}

// openVault opens the configured vault once per invocation
func (a *app) openVault() (*vault.Vault, error) {
	if a.vault != nil {
		return a.vault, nil
	}
	v, err := vault.Open(a.cfg.VaultPath, vault.Options{
		Iterations:  a.cfg.Iterations,
		LockTimeout: a.cfg.LockTimeout,
		Logger:      a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("open vault %s: %w", a.cfg.VaultPath, err)
	}
	a.vault = v
	return v, nil
}

func (a *app) syncService() (*syncer.Service, error) {
	v, err := a.openVault()
	if err != nil {
		return nil, err
	}
	return syncer.NewService(v, syncer.ServiceOptions{
		RetryAttempts: a.cfg.RetryAttempts,
		RetryBase:     a.cfg.RetryBase,
		Logger:        a.log,
		NewBackend:    newBackend,
	}), nil
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
