package infra

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

const keySize = 32 // 256-bit SQLCipher key

// FileKeyProvider keeps the registry key in a 0600 file in the data dir.
// The parent, a parent relaunched by the watchdog and `status` can all open
// the registry at the same time, so the key is published with a hard link:
// the first writer wins and nobody ever reads a half-written file.
type FileKeyProvider struct {
	keyPath string
	chown   func(path string) error
}

// NewFileKeyProvider creates a provider for the key location in paths.
// Under sudo in user mode the key is handed to the invoking user.
func NewFileKeyProvider(paths *ExecModeConfig) *FileKeyProvider {
	p := &FileKeyProvider{keyPath: paths.KeyPath}
	if uid, gid, ok := paths.FileOwner(); ok {
		p.chown = func(path string) error { return os.Chown(path, uid, gid) }
	}
	return p
}

// GetKey reads and decodes the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// StoreKey publishes key unless a key file already exists, in which case the
// error wraps fs.ErrExist.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	dir := filepath.Dir(p.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.keyPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, err = tmp.WriteString(base64.StdEncoding.EncodeToString(key))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	if p.chown != nil {
		if err := p.chown(tmpPath); err != nil {
			return fmt.Errorf("failed to hand key to user: %w", err)
		}
		if err := p.chown(dir); err != nil {
			return fmt.Errorf("failed to hand data directory to user: %w", err)
		}
	}

	if err := os.Link(tmpPath, p.keyPath); err != nil {
		return fmt.Errorf("failed to publish key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the stored key, generating one on first use. Losing the
// creation race to another process returns that process's key.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return provider.GetKey()
		}
		return nil, err
	}
	return key, nil
}

// Ensure FileKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
