package securestore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const DefaultKeyPath = "claves/aes.key"

// KeySource locates the data key on disk. When Passphrase is set, newly
// generated keys are written wrapped and wrapped files are unwrapped on load.
type KeySource struct {
	Path       string
	Passphrase string
	Logger     *slog.Logger
}

// LoadOrCreate returns the 32-byte data key, generating and persisting one
// when the file is missing. A raw key file of the wrong length is replaced.
func (ks KeySource) LoadOrCreate() ([]byte, error) {
	logger := ks.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := strings.TrimSpace(ks.Path)
	if path == "" {
		path = DefaultKeyPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create key directory: %v", ErrKeyBootstrap, err)
	}

	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, ok, loadErr := ks.decode(existing, logger, path)
		if loadErr != nil {
			return nil, loadErr
		}
		if ok {
			return key, nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("%w: read key file: %v", ErrKeyBootstrap, err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrKeyBootstrap, err)
	}
	content := key
	if ks.Passphrase != "" {
		wrapped, err := wrapKey(ks.Passphrase, key)
		if err != nil {
			return nil, fmt.Errorf("%w: wrap key: %v", ErrKeyBootstrap, err)
		}
		content = wrapped
	}
	if err := writeKeyFile(path, content); err != nil {
		return nil, fmt.Errorf("%w: write key file: %v", ErrKeyBootstrap, err)
	}
	logger.Info("encryption key generated", "component", "securestore", "path", path, "wrapped", ks.Passphrase != "")
	return key, nil
}

// decode reports ok=false when the raw file must be regenerated.
func (ks KeySource) decode(data []byte, logger *slog.Logger, path string) ([]byte, bool, error) {
	if isWrapped(data) {
		if ks.Passphrase == "" {
			return nil, false, fmt.Errorf("%w: key file is wrapped but no passphrase is configured", ErrKeyBootstrap)
		}
		key, err := unwrapKey(ks.Passphrase, data)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrKeyBootstrap, err)
		}
		if len(key) != KeySize {
			return nil, false, fmt.Errorf("%w: wrapped key has invalid length", ErrKeyBootstrap)
		}
		return key, true, nil
	}
	if len(data) != KeySize {
		logger.Warn("encryption key has invalid length, regenerating",
			"component", "securestore",
			"path", path,
			"length", len(data),
		)
		return nil, false, nil
	}
	if ks.Passphrase != "" {
		logger.Warn("encryption key file is not wrapped", "component", "securestore", "path", path)
	}
	return append([]byte(nil), data...), true, nil
}

func writeKeyFile(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".aes.key-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
