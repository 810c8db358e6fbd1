package vault

import (
	"context"
	"time"
)

// Credential is the secret stored for one logged-in account. It carries
// everything needed to act on the account's behalf against the remote
// service; callers outside the vault treat it as opaque.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Valid reports whether the credential carries a usable access token.
func (c Credential) Valid() bool {
	return c.AccessToken != ""
}

// Expired reports whether the credential has a known expiry in the past.
// Credentials without an expiry never expire.
func (c Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// Store is a durable key-value store of login identifier to credential.
// Login identifiers are case-insensitive; implementations normalize them.
// All implementations must be safe for concurrent use.
type Store interface {
	// List returns the login identifiers of all stored credentials.
	List(ctx context.Context) ([]string, error)

	// Get retrieves the credential for a login identifier.
	// Returns ErrCredentialNotFound if no credential is stored.
	Get(ctx context.Context, loginID string) (Credential, error)

	// Save stores a credential. Creates if new, overwrites if it exists.
	Save(ctx context.Context, loginID string, cred Credential) error

	// Delete removes the credential for a login identifier.
	// Returns ErrCredentialNotFound if no credential is stored.
	Delete(ctx context.Context, loginID string) error
}
