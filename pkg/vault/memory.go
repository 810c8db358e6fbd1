package vault

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps credentials in process memory. Intended for tests and
// development; everything is lost when the process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[string]Credential),
	}
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.creds))
	for id := range s.creds {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Get(ctx context.Context, loginID string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[normalizeLoginID(loginID)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, nil
}

func (s *MemoryStore) Save(ctx context.Context, loginID string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[normalizeLoginID(loginID)] = cred
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, loginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeLoginID(loginID)
	if _, ok := s.creds[key]; !ok {
		return ErrCredentialNotFound
	}
	delete(s.creds, key)
	return nil
}

// normalizeLoginID lowercases login identifiers so lookups stay
// case-insensitive across all store backends.
func normalizeLoginID(loginID string) string {
	return strings.ToLower(strings.TrimSpace(loginID))
}

var _ Store = (*MemoryStore)(nil)
