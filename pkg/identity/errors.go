package identity

import "errors"

var (
	ErrNotFound          = errors.New("identity: not found")
	ErrMissingLoginID    = errors.New("identity: profile has no login id")
	ErrDuplicateIdentity = errors.New("identity: login id and profile url match different stored identities")
)
