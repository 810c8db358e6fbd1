package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the required size of the file store encryption key.
	KeySize = 32 // 256 bits for AES-256

	// saltInfo provides domain separation for HKDF key derivation.
	saltInfo = "devidkit-vault-v1"
)

// GenerateKey creates a new random 32-byte key suitable for a FileStore.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// deriveKey stretches the caller-provided key through HKDF-SHA-256 so the
// raw key material is never used directly as the cipher key.
func deriveKey(key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	hkdfReader := hkdf.New(sha256.New, key, nil, []byte(saltInfo))

	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdfReader, derived); err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	return derived, nil
}

// encryptBytes seals data with AES-256-GCM. The nonce is prepended to the
// ciphertext so the result is self-contained.
func encryptBytes(key, data []byte) ([]byte, error) {
	derived, err := deriveKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	return aesGCM.Seal(nonce, nonce, data, nil), nil
}

// decryptBytes opens ciphertext produced by encryptBytes.
func decryptBytes(key, ciphertext []byte) ([]byte, error) {
	derived, err := deriveKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
