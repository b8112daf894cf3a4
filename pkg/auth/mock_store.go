package auth

import "sync"

// MockStore implements SecretStore in memory for tests
type MockStore struct {
	mu      sync.RWMutex
	secrets map[string]string

	// Error injection for testing
	GetError    error
	SetError    error
	DeleteError error
}

// NewMockStore creates a new mock secret store
func NewMockStore() *MockStore {
	return &MockStore{secrets: make(map[string]string)}
}

func mockKey(key, realm string) string { return realm + "\x00" + key }

func (m *MockStore) Get(key, realm string) (string, error) {
	if m.GetError != nil {
		return "", m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.secrets[mockKey(key, realm)]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (m *MockStore) Set(key, realm, value string) error {
	if m.SetError != nil {
		return m.SetError
	}
	if key == "" || realm == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[mockKey(key, realm)] = value
	return nil
}

func (m *MockStore) Delete(key, realm string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := mockKey(key, realm)
	if _, ok := m.secrets[k]; !ok {
		return ErrSecretNotFound
	}
	delete(m.secrets, k)
	return nil
}

// Count returns the number of stored secrets
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}
