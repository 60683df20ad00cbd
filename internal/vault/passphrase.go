package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"pkt.systems/pslog"
)

const (
	minKeyLength = 32
	saltLength   = 16
	ivLength     = 16
)

// Passphrase derives a per-ciphertext AES-256-GCM key from a shared
// passphrase with scrypt. Ciphertexts are "salt:iv:tag:data" in hex.
type Passphrase struct {
	key string
	log pslog.Logger
}

// NewPassphrase returns a passphrase vault. The key must be at least 32 characters.
func NewPassphrase(key string, logger pslog.Logger) (*Passphrase, error) {
	if len(key) < minKeyLength {
		return nil, fmt.Errorf("%w: encryption key must be at least %d characters", ErrKey, minKeyLength)
	}
	if logger != nil {
		logger.Info("vault passphrase ready")
	}
	return &Passphrase{key: key, log: logger}, nil
}

func (p *Passphrase) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", p.failed("encrypt", fmt.Errorf("generate salt: %w", err))
	}
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", p.failed("encrypt", fmt.Errorf("generate iv: %w", err))
	}
	gcm, err := p.aead(salt)
	if err != nil {
		return "", p.failed("encrypt", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(sealed[tagStart:]),
		hex.EncodeToString(sealed[:tagStart]),
	}, ":"), nil
}

func (p *Passphrase) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(strings.TrimSpace(ciphertext), ":")
	if len(parts) != 4 {
		return "", p.failed("decrypt", fmt.Errorf("%w: expected 4 parts, got %d", ErrMalformed, len(parts)))
	}
	decoded := make([][]byte, len(parts))
	for i, part := range parts {
		if part == "" {
			return "", p.failed("decrypt", fmt.Errorf("%w: empty part", ErrMalformed))
		}
		b, err := hex.DecodeString(part)
		if err != nil {
			return "", p.failed("decrypt", fmt.Errorf("%w: %v", ErrMalformed, err))
		}
		decoded[i] = b
	}
	salt, iv, tag, data := decoded[0], decoded[1], decoded[2], decoded[3]
	if len(iv) != ivLength {
		return "", p.failed("decrypt", fmt.Errorf("%w: iv length %d", ErrMalformed, len(iv)))
	}
	gcm, err := p.aead(salt)
	if err != nil {
		return "", p.failed("decrypt", err)
	}
	plain, err := gcm.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return "", p.failed("decrypt", err)
	}
	return string(plain), nil
}

func (p *Passphrase) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(p.key), salt, 16384, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, ivLength)
}

func (p *Passphrase) failed(op string, err error) error {
	if p.log != nil {
		p.log.Warn("vault "+op+" failed", "driver", DriverPassphrase, "err", err)
	}
	return fmt.Errorf("vault %s: %w", op, err)
}
