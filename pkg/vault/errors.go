package vault

import "errors"

var (
	ErrCredentialNotFound = errors.New("vault: credential not found")
	ErrVaultUnavailable   = errors.New("vault: backend is not available")

	// Encrypted file backend errors
	ErrInvalidKey        = errors.New("vault: invalid encryption key: must be 32 bytes")
	ErrEncryptionFailed  = errors.New("vault: encryption failed")
	ErrDecryptionFailed  = errors.New("vault: decryption failed")
	ErrInvalidCiphertext = errors.New("vault: invalid ciphertext format")

	// Connection helper errors
	ErrFailedToParseRedisConnString = errors.New("vault: failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("vault: redis did not become ready within the given time period")
	ErrFailedToParseDBConfig        = errors.New("vault: failed to parse postgres config")
	ErrFailedToOpenDBConnection     = errors.New("vault: failed to open postgres connection")
	ErrFailedToApplyMigrations      = errors.New("vault: failed to apply migrations")
	ErrMigrationPathNotProvided     = errors.New("vault: migration path not provided")
	ErrMigrationsDirNotFound        = errors.New("vault: migrations directory not found")
)
