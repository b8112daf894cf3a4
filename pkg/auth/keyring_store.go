package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "auditpoller"

// KeyringStore implements SecretStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keyring-backed store after probing availability
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// keyringUser scopes the key by realm inside the single keyring service
func keyringUser(key, realm string) string {
	return realm + ":" + key
}

func (k *KeyringStore) Get(key, realm string) (string, error) {
	if key == "" || realm == "" {
		return "", ErrInvalidKey
	}
	value, err := keyring.Get(keyringService, keyringUser(key, realm))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("failed to read from keyring: %w", err)
	}
	return value, nil
}

func (k *KeyringStore) Set(key, realm, value string) error {
	if key == "" || realm == "" {
		return ErrInvalidKey
	}
	if err := keyring.Set(keyringService, keyringUser(key, realm), value); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

func (k *KeyringStore) Delete(key, realm string) error {
	if key == "" || realm == "" {
		return ErrInvalidKey
	}
	if err := keyring.Delete(keyringService, keyringUser(key, realm)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
