package identity

import (
	"context"
	"time"

	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// RemoteClient is an authenticated handle to the remote service, owned by
// the identity that carries it. Close releases the handle's resources
// when the identity is removed or replaced.
type RemoteClient interface {
	Close() error
}

// Profile holds the canonical account attributes resolved from the remote
// service for one credential.
type Profile struct {
	LoginID     string
	DisplayName string
	Email       string
	ProfileURL  string
}

// Resolver translates a stored credential into canonical account
// attributes and an authenticated client handle.
type Resolver interface {
	Resolve(ctx context.Context, cred vault.Credential) (Profile, RemoteClient, error)
}

// Identity is a logged-in account's local representation. Callers receive
// value copies; the registry keeps the authoritative state.
type Identity struct {
	LoginID     string
	DisplayName string
	Email       string
	ProfileURL  string
	LoggedInAt  time.Time

	// Client is the authenticated handle for remote calls on behalf of
	// this account. Copies of an Identity share the same handle.
	Client RemoteClient
}

// EventKind labels a registry change.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// Event describes one change to the set of logged-in identities.
type Event struct {
	Kind     EventKind
	Identity Identity
}
