package secretbox

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// LocalKeyProtector encrypts the binding token with a per-user symmetric key
// stored under the OS-appropriate per-user config directory (os.UserConfigDir,
// which resolves under the calling user's profile — never a machine-wide
// path), so moving the data directory to another account fails closed: the
// key file does not travel with it. This stands in for the platform DPAPI/
// Keychain service on platforms where no native service is
// wired; its Name ("local-aead") is deliberately not "null" so production
// code accepts it.
type LocalKeyProtector struct {
	keyPath string
}

// NewLocalKeyProtector returns a protector whose key lives under dir
// (typically os.UserConfigDir()+"/controledu"). The key is generated on
// first use and written with 0600 permissions.
func NewLocalKeyProtector(dir string) (*LocalKeyProtector, error) {
	if dir == "" {
		return nil, errors.New("secretbox: empty key directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("secretbox: create key dir: %w", err)
	}
	return &LocalKeyProtector{keyPath: filepath.Join(dir, "binding.key")}, nil
}

func (p *LocalKeyProtector) Name() string { return "local-aead" }

func (p *LocalKeyProtector) loadOrCreateKey() ([]byte, error) {
	if data, err := os.ReadFile(p.keyPath); err == nil {
		key, decErr := hex.DecodeString(string(data))
		if decErr == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
		return nil, fmt.Errorf("secretbox: corrupt key file %s", p.keyPath)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secretbox: generate key: %w", err)
	}
	if err := os.WriteFile(p.keyPath, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("secretbox: persist key: %w", err)
	}
	return key, nil
}

// Protect encrypts plain with a fresh random nonce, returning nonce||ciphertext.
func (p *LocalKeyProtector) Protect(plain []byte) ([]byte, error) {
	key, err := p.loadOrCreateKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// Unprotect reverses Protect; it fails if the opaque blob was tampered with
// or produced under a different key.
func (p *LocalKeyProtector) Unprotect(opaque []byte) ([]byte, error) {
	key, err := p.loadOrCreateKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(opaque) < aead.NonceSize() {
		return nil, errors.New("secretbox: opaque blob too short")
	}
	nonce, ciphertext := opaque[:aead.NonceSize()], opaque[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
