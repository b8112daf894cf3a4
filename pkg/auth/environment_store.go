package auth

import (
	"os"
	"strings"
)

// EnvironmentStore reads secrets from AUDITPOLLER_<REALM>_<KEY>. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based secret store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// EnvName returns the variable consulted for (key, realm)
func EnvName(key, realm string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				return r
			}
			return '_'
		}, strings.ToUpper(s))
	}
	return "AUDITPOLLER_" + clean(realm) + "_" + clean(key)
}

func (e *EnvironmentStore) Get(key, realm string) (string, error) {
	if value := os.Getenv(EnvName(key, realm)); value != "" {
		return value, nil
	}
	return "", ErrSecretNotFound
}

func (e *EnvironmentStore) Set(key, realm, value string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Delete(key, realm string) error {
	return ErrStoreUnavailable
}
