package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"auditpoller/pkg/config"
	apperrors "auditpoller/pkg/errors"
)

// Secret names for the audit-log API key pair
const (
	KeyAccess = "access_key"
	KeySecret = "secret_key"
)

// Masked marks a config value whose secret lives in the store
const Masked = config.Masked

// Errors
var (
	ErrSecretNotFound   = errors.New("secret not found")
	ErrInvalidKey       = errors.New("invalid secret key or realm")
	ErrStoreUnavailable = errors.New("secret store unavailable")
)

// SecretStore persists secrets by (key, realm). The realm is the input name.
type SecretStore interface {
	Get(key, realm string) (string, error)
	Set(key, realm, value string) error
	Delete(key, realm string) error
}

// Credentials is the resolved API key pair for one input
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Manager chains secret stores. Reads return the first hit; writes go to the
// first store that accepts them; deletes hit every store.
type Manager struct {
	stores []SecretStore
}

// NewManager creates a manager with keyring, encrypted file and environment
// backends, in that order. The keyring is skipped when unavailable.
func NewManager() (*Manager, error) {
	var stores []SecretStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "secrets.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over explicit stores
func NewManagerWithStores(stores ...SecretStore) *Manager {
	return &Manager{stores: stores}
}

// Get returns the secret from the first store that has it
func (m *Manager) Get(key, realm string) (string, error) {
	for _, store := range m.stores {
		if value, err := store.Get(key, realm); err == nil {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %s for %s", ErrSecretNotFound, key, realm)
}

// Set stores the secret in the first store that accepts it
func (m *Manager) Set(key, realm, value string) error {
	if key == "" || realm == "" {
		return ErrInvalidKey
	}

	var lastErr error
	for _, store := range m.stores {
		if err := store.Set(key, realm, value); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store secret: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Delete removes the secret from every store that holds it
func (m *Manager) Delete(key, realm string) error {
	deleted := false
	for _, store := range m.stores {
		if err := store.Delete(key, realm); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %s for %s", ErrSecretNotFound, key, realm)
	}
	return nil
}

// ResolveCredentials turns configured key values into usable credentials.
//
// A value equal to Masked is read from the store and must exist there. Any
// other value is a fresh literal: the old stored secret is replaced, and the
// key is listed in the returned updates so the caller can mask it in config.
func ResolveCredentials(store SecretStore, realm, accessKey, secretKey string) (*Credentials, []string, error) {
	values := map[string]string{KeyAccess: accessKey, KeySecret: secretKey}
	var updates []string

	for _, key := range []string{KeyAccess, KeySecret} {
		value := values[key]
		if value == Masked {
			stored, err := store.Get(key, realm)
			if err != nil {
				return nil, nil, apperrors.Wrap(apperrors.ErrorTypeConfig, err,
					"encrypted %s was not found for %s, reconfigure its value", key, realm)
			}
			values[key] = stored
			continue
		}
		if value == "" {
			return nil, nil, apperrors.New(apperrors.ErrorTypeConfig, "%s is empty for %s", key, realm)
		}

		_ = store.Delete(key, realm)
		if err := store.Set(key, realm, value); err != nil {
			return nil, nil, apperrors.Wrap(apperrors.ErrorTypeConfig, err, "failed to store %s for %s", key, realm)
		}
		updates = append(updates, key)
	}

	return &Credentials{AccessKey: values[KeyAccess], SecretKey: values[KeySecret]}, updates, nil
}

// MaskSecret masks all but the first 4 and last 4 characters of a secret
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "auditpoller")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "auditpoller")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "auditpoller")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "auditpoller")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}
