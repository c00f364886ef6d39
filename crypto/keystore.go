package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// Keys are stored on disk as Ethereum v3 keystore files so operators can
// inspect and manage them with standard tooling.

// SaveToKeystore encrypts key under passphrase and writes it to path. The
// parent directory is created when missing; the final file is 0600 and
// replaces any previous keystore at that path atomically.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	switch {
	case key == nil:
		return errors.New("crypto: nil private key")
	case path == "":
		return errors.New("crypto: keystore path required")
	}
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return fmt.Errorf("crypto: create keystore directory: %w", err)
	}

	// The go-ethereum keystore only writes into a managed directory, so
	// stage the file in a scratch dir next to the target and move it into
	// place afterwards.
	scratch, err := os.MkdirTemp(parent, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	store := keystore.NewKeyStore(scratch, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := store.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}
	staged, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	if len(staged) != 1 {
		return fmt.Errorf("crypto: expected one staged keystore file, found %d", len(staged))
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(scratch, staged[0].Name()), path); err != nil {
		return fmt.Errorf("crypto: install keystore: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore reads and decrypts the keystore file at path.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: keystore path required")
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(encrypted, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
