// Package prompt reads secrets from the terminal or the environment.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/illarion/cryptovault/internal/crypto"
)

var ErrMismatch = errors.New("passwords do not match")

// readPassword is swapped in tests
var readPassword = term.ReadPassword

// Output receives prompts; stderr keeps stdout clean for piping
var Output io.Writer = os.Stderr

// ReadPassword reads a password from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(Output, prompt)
	password, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(Output)

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match.
// The caller owns the returned slice.
func ReadPasswordConfirm() ([]byte, error) {
	first, err := ReadPassword("Enter password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(first)

	second, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(second)

	if !crypto.ConstantTimeCompare(first, second) {
		return nil, ErrMismatch
	}

	result := make([]byte, len(first))
	copy(result, first)
	return result, nil
}

// FromEnv returns a copy of the named variable, or nil when it is unset
func FromEnv(getenv func(string) string, name string) []byte {
	v := getenv(name)
	if v == "" {
		return nil
	}
	return []byte(v)
}
