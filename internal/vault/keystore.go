package vault

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const credentialDescriptor = "afkcraft/credentials"

// Keystore encrypts with a data key derived from a kryptograf key store.
type Keystore struct {
	root     keymgmt.RootKey
	material keymgmt.Material
	log      pslog.Logger
}

// EnsureKeyStore creates or loads the key store at path and makes sure it
// holds a root key and the credential descriptor.
func EnsureKeyStore(path string, logger pslog.Logger) error {
	_, _, err := loadMaterial(path, logger)
	return err
}

// NewKeystore loads the root key and credential data key from path.
func NewKeystore(path string, logger pslog.Logger) (*Keystore, error) {
	root, material, err := loadMaterial(path, logger)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("vault keystore ready", "path", path)
	}
	return &Keystore{root: root, material: material, log: logger}, nil
}

func loadMaterial(path string, logger pslog.Logger) (keymgmt.RootKey, keymgmt.Material, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return keymgmt.RootKey{}, keymgmt.Material{}, fmt.Errorf("%w: key store path is required", ErrKey)
	}
	fail := func(err error) (keymgmt.RootKey, keymgmt.Material, error) {
		if logger != nil {
			logger.Warn("vault keystore load failed", "path", path, "err", err)
		}
		return keymgmt.RootKey{}, keymgmt.Material{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fail(err)
	}
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		return fail(err)
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return fail(err)
	}
	material, err := store.EnsureDescriptor(credentialDescriptor, root, []byte(credentialDescriptor))
	if err != nil {
		return fail(err)
	}
	if err := store.Commit(); err != nil {
		return fail(err)
	}
	return root, material, nil
}

// Encrypt returns the base64 encoded kryptograf stream for plaintext.
func (k *Keystore) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	var buf bytes.Buffer
	w, err := kryptograf.New(k.root).EncryptWriter(&buf, k.material)
	if err != nil {
		return "", k.failed("encrypt", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		_ = w.Close()
		return "", k.failed("encrypt", err)
	}
	if err := w.Close(); err != nil {
		return "", k.failed("encrypt", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt reverses Encrypt.
func (k *Keystore) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil || len(raw) == 0 {
		return "", k.failed("decrypt", ErrMalformed)
	}
	r, err := kryptograf.New(k.root).DecryptReader(bytes.NewReader(raw), k.material)
	if err != nil {
		return "", k.failed("decrypt", err)
	}
	defer func() { _ = r.Close() }()
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", k.failed("decrypt", err)
	}
	return string(plain), nil
}

func (k *Keystore) failed(op string, err error) error {
	if k.log != nil {
		k.log.Warn("vault "+op+" failed", "driver", DriverKeystore, "err", err)
	}
	return fmt.Errorf("vault %s: %w", op, err)
}
