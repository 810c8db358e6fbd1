package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrymomot/devidkit/pkg/config"
)

// FileConfig holds configuration for the encrypted file store.
type FileConfig struct {
	Path string `env:"VAULT_FILE_PATH,required"`   // Path is the location of the encrypted credentials file.
	Key  string `env:"VAULT_FILE_KEY,required"`    // Key is the 32-byte encryption key, base64 standard encoding.
	Mode uint32 `env:"VAULT_FILE_MODE" envDefault:"384"` // Mode is the file permission mask (0600 by default).
}

// FileStore persists credentials in a single AES-256-GCM encrypted file.
// It is the desktop-host analog of an OS credential locker: one file, one
// key, owner-only permissions. All operations are safe for concurrent use
// within a process; the store does not coordinate across processes.
type FileStore struct {
	path string
	key  []byte
	mode os.FileMode
	mu   sync.Mutex
}

// NewFileStore creates a file store at path using the given 32-byte key.
// The file is created lazily on the first Save.
func NewFileStore(path string, key []byte) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("vault: file store path is required")
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	s := &FileStore{
		path: path,
		key:  append([]byte(nil), key...),
		mode: 0o600,
	}
	return s, nil
}

// NewFileStoreFromConfig creates a file store from an env-loaded config.
// The key is expected in base64 standard encoding.
func NewFileStoreFromConfig(cfg FileConfig) (*FileStore, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.Key)
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}

	s, err := NewFileStore(cfg.Path, key)
	if err != nil {
		return nil, err
	}
	if cfg.Mode != 0 {
		s.mode = os.FileMode(cfg.Mode)
	}
	return s, nil
}

// NewFileStoreFromEnv creates a file store configured from environment
// variables. See FileConfig for the variables it reads.
func NewFileStoreFromEnv() (*FileStore, error) {
	var cfg FileConfig
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return NewFileStoreFromConfig(cfg)
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(creds))
	for id := range creds {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *FileStore) Get(ctx context.Context, loginID string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.load()
	if err != nil {
		return Credential{}, err
	}

	cred, ok := creds[normalizeLoginID(loginID)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, nil
}

func (s *FileStore) Save(ctx context.Context, loginID string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.load()
	if err != nil {
		return err
	}

	creds[normalizeLoginID(loginID)] = cred
	return s.persist(creds)
}

func (s *FileStore) Delete(ctx context.Context, loginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.load()
	if err != nil {
		return err
	}

	key := normalizeLoginID(loginID)
	if _, ok := creds[key]; !ok {
		return ErrCredentialNotFound
	}
	delete(creds, key)
	return s.persist(creds)
}

// load reads and decrypts the whole credential file. A missing file is an
// empty store, not an error.
func (s *FileStore) load() (map[string]Credential, error) {
	ciphertext, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]Credential), nil
		}
		return nil, errors.Join(ErrVaultUnavailable, err)
	}

	plaintext, err := decryptBytes(s.key, ciphertext)
	if err != nil {
		return nil, err
	}

	creds := make(map[string]Credential)
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, errors.Join(ErrInvalidCiphertext, err)
	}
	return creds, nil
}

// persist encrypts and writes the credential map atomically via a temp
// file and rename, so a crash never leaves a half-written vault.
func (s *FileStore) persist(creds map[string]Credential) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return errors.Join(ErrEncryptionFailed, err)
	}

	ciphertext, err := encryptBytes(s.key, plaintext)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(ciphertext); err != nil {
		_ = tmp.Close()
		return errors.Join(ErrVaultUnavailable, err)
	}
	if err := tmp.Chmod(s.mode); err != nil {
		_ = tmp.Close()
		return errors.Join(ErrVaultUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
