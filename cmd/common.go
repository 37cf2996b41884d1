package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/illarion/cryptovault/internal/backend"
	"github.com/illarion/cryptovault/internal/config"
	"github.com/illarion/cryptovault/internal/crypto"
	"github.com/illarion/cryptovault/internal/keyring"
	"github.com/illarion/cryptovault/internal/prompt"
	"github.com/illarion/cryptovault/internal/syncer"
	"github.com/illarion/cryptovault/internal/vault"
)

// swapped in tests
var (
	readPassword        = prompt.ReadPassword
	readPasswordConfirm = prompt.ReadPasswordConfirm
	newBackend          = backend.New
)

// secret resolves the vault password: the --password flag, then the
// environment, then the OS keyring, then a terminal prompt. confirm asks
// twice when prompting. The caller clears the returned slice.
func (a *app) secret(ctx context.Context, confirm bool) ([]byte, error) {
	if a.password != "" {
		return []byte(a.password), nil
	}
	if pw := prompt.FromEnv(a.getenv, config.EnvPassword); pw != nil {
		return pw, nil
	}

	if v, err := a.openVault(); err == nil {
		if id, err := v.ID(ctx); err == nil {
			if pw, err := keyring.GetPassword(id); err == nil {
				a.log.WithField("vault_id", id).Debug("using password from keyring")
				return []byte(pw), nil
			}
		}
	}

	if confirm {
		return readPasswordConfirm()
	}
	return readPassword("Enter password: ")
}

// withSecret resolves the password, runs fn and clears the password
func (a *app) withSecret(ctx context.Context, confirm bool, fn func([]byte) error) error {
	password, err := a.secret(ctx, confirm)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(password)
	return fn(password)
}

// resolveID expands an ID prefix as shown by list
func (a *app) resolveID(ctx context.Context, arg string) (*vault.Vault, string, error) {
	v, err := a.openVault()
	if err != nil {
		return nil, "", err
	}
	id, err := v.Resolve(ctx, arg)
	if err != nil {
		return nil, "", err
	}
	return v, id, nil
}

// HandleError prints err with a hint where one helps
func HandleError(w io.Writer, err error) {
	switch {
	case errors.Is(err, vault.ErrWrongSecret):
		fmt.Fprintf(w, "Error: wrong password, or the file was tampered with\n")
	case errors.Is(err, vault.ErrCorruption):
		fmt.Fprintf(w, "Error: decrypted content does not match its hash, the vault may be corrupted\n")
	case errors.Is(err, vault.ErrAmbiguous):
		fmt.Fprintf(w, "Error: %s\n", err)
		fmt.Fprintf(w, "Use 'cryptovault list --full-id' to see complete IDs\n")
	case errors.Is(err, vault.ErrNotFound):
		fmt.Fprintf(w, "Error: %s\n", err)
		fmt.Fprintf(w, "Use 'cryptovault list' to see stored files\n")
	case errors.Is(err, vault.ErrUnsafeName):
		fmt.Fprintf(w, "Error: %s\n", err)
		fmt.Fprintf(w, "Use -o to choose where to write the file\n")
	case errors.Is(err, vault.ErrLocked):
		fmt.Fprintf(w, "Error: vault is locked by another process\n")
	case errors.Is(err, crypto.ErrWeakParameter):
		fmt.Fprintf(w, "Error: %s\n", err)
	case errors.Is(err, prompt.ErrMismatch):
		fmt.Fprintf(w, "Error: passwords do not match\n")
	case errors.Is(err, syncer.ErrSyncDisabled):
		fmt.Fprintf(w, "Error: sync is disabled\n")
		fmt.Fprintf(w, "Run 'cryptovault sync config <kind> --set key=value' to enable it\n")
	case errors.Is(err, syncer.ErrNotConfigured):
		fmt.Fprintf(w, "Error: no sync backend configured\n")
		fmt.Fprintf(w, "Run 'cryptovault sync config <kind> --set key=value' first\n")
	case errors.Is(err, backend.ErrInvalidConfig):
		fmt.Fprintf(w, "Error: %s\n", err)
	case errors.Is(err, backend.ErrAuth):
		fmt.Fprintf(w, "Error: remote rejected the credentials: %s\n", err)
	case errors.Is(err, backend.ErrUnavailable):
		fmt.Fprintf(w, "Error: remote unavailable, try again later: %s\n", err)
	default:
		fmt.Fprintf(w, "Error: %s\n", err)
	}
}
