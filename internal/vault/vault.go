// Package vault encrypts and decrypts stored third-party credentials with a
// single process-wide key loaded at startup.
package vault

import (
	"errors"
	"fmt"
	"strings"

	"pkt.systems/pslog"
)

// Vault drivers.
const (
	DriverKeystore   = "keystore"
	DriverPassphrase = "passphrase"
)

var (
	// ErrEmptyPlaintext is returned when asked to encrypt an empty secret.
	ErrEmptyPlaintext = errors.New("vault: plaintext is empty")
	// ErrMalformed is returned for ciphertexts that cannot be parsed.
	ErrMalformed = errors.New("vault: malformed ciphertext")
	// ErrKey is returned when the configured key is missing or unusable.
	ErrKey = errors.New("vault: invalid key")
)

// Vault performs symmetric encryption of credential secrets.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Config selects and configures a vault driver.
type Config struct {
	Driver string
	// KeyStorePath is the kryptograf key store used by the keystore driver.
	KeyStorePath string
	// Key is the passphrase used by the passphrase driver.
	Key    string
	Logger pslog.Logger
}

// New loads the key for the configured driver.
func New(cfg Config) (Vault, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverKeystore
	}
	switch driver {
	case DriverKeystore:
		return NewKeystore(cfg.KeyStorePath, cfg.Logger)
	case DriverPassphrase:
		return NewPassphrase(cfg.Key, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported vault driver %q", cfg.Driver)
	}
}
