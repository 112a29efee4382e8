// Package keys reads and writes keypairs in the Solana CLI keypair file
// format: a JSON array of the 64 private key bytes.
package keys

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound indicates no keypair file exists at the path.
	ErrNotFound = errors.New("keypair file not found")

	// ErrInvalidKeypair indicates the file does not hold a valid keypair.
	ErrInvalidKeypair = errors.New("invalid keypair file")
)

// Load reads the keypair stored at path.
func Load(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", path)
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to read keypair file %s", path)
	}

	var values []byte
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, errors.Wrapf(ErrInvalidKeypair, "%s: %v", path, err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(ErrInvalidKeypair, "%s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(ints))
	}
	for _, v := range ints {
		if v < 0 || v > 255 {
			return nil, errors.Wrapf(ErrInvalidKeypair, "%s: byte value out of range: %d", path, v)
		}
		values = append(values, byte(v))
	}

	key := ed25519.NewKeyFromSeed(values[:ed25519.SeedSize])
	if !key.Equal(ed25519.PrivateKey(values)) {
		return nil, errors.Wrapf(ErrInvalidKeypair, "%s: public key does not match private key", path)
	}

	return key, nil
}

// Save writes key to path, readable only by the owner.
func Save(path string, key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return errors.Wrapf(ErrInvalidKeypair, "expected %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	encoded, err := json.Marshal(ints)
	if err != nil {
		return errors.Wrap(err, "failed to encode keypair")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "failed to create keypair directory for %s", path)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write keypair file %s", path)
	}
	return nil
}

// GenerateAndPersist creates a new keypair and saves it to path.
func GenerateAndPersist(path string) (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate keypair")
	}

	if err := Save(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadOrGenerate loads the keypair at path, generating and persisting a new
// one if none exists. The returned bool is true when a keypair was generated.
func LoadOrGenerate(path string) (ed25519.PrivateKey, bool, error) {
	key, err := Load(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	key, err = GenerateAndPersist(path)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}
