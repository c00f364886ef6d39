// Package passphrase resolves keystore passphrases from the environment or
// an interactive terminal prompt.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// EnvVar is the environment variable consulted before prompting.
const EnvVar = "STAKELEDGER_KEYSTORE_PASSPHRASE"

// ErrEmpty is returned when no passphrase could be resolved.
var ErrEmpty = errors.New("passphrase: empty passphrase")

// Resolve returns the keystore passphrase. The environment variable wins;
// otherwise the user is prompted on the controlling terminal. confirm asks
// for the passphrase twice, for key creation flows.
func Resolve(confirm bool) (string, error) {
	if fromEnv := strings.TrimSpace(os.Getenv(EnvVar)); fromEnv != "" {
		return fromEnv, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("passphrase: %s not set and stdin is not a terminal", EnvVar)
	}

	first, err := prompt("Keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", ErrEmpty
	}
	if confirm {
		second, err := prompt("Confirm passphrase: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", errors.New("passphrase: entries do not match")
		}
	}
	return first, nil
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("passphrase: read: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
