// Package vault provides durable storage for account credentials, keyed by
// a case-insensitive login identifier.
//
// The Store interface is the boundary the rest of the module depends on:
// enumerate, get, save, remove. Four backends are provided:
//
//   - MemoryStore: process memory, for tests and development.
//   - FileStore: a single AES-256-GCM encrypted file with owner-only
//     permissions, for desktop hosts without a server-side store.
//   - RedisStore: one Redis hash, one field per login identifier.
//   - PostgresStore: one table row per login identifier, with goose-based
//     schema migrations.
//
// All backends normalize login identifiers to lower case so lookups are
// case-insensitive regardless of how the remote service capitalizes them.
//
// # Usage
//
//	key, _ := vault.GenerateKey()
//	store, err := vault.NewFileStore("/home/me/.devidkit/credentials", key)
//	if err != nil {
//	    // handle error
//	}
//
//	err = store.Save(ctx, "octocat", vault.Credential{AccessToken: "gho_..."})
//
// # Error Handling
//
// Functions return rich errors wrapping package sentinels such as
// ErrCredentialNotFound or ErrVaultUnavailable. Use errors.Is to match.
package vault
