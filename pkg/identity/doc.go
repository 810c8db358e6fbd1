// Package identity maintains the process-wide registry of logged-in
// identities for one external account system.
//
// The Registry is the single source of truth for "who is logged in". It
// is populated once at startup by Restore from the credentials persisted
// in a vault.Store, mutated by login and logout flows through
// CreateOrUpdate and Remove, and observed through the Events stream.
//
// Invariants:
//
//   - At most one Identity per case-insensitive login id.
//   - Reads and writes of the backing collection happen under a short
//     registry lock that is never held across vault or resolver calls.
//   - Every mutation fires exactly one Added, Updated or Removed event,
//     in mutation-completion order; restored identities fire none.
//
// The registry owns all Identity values and their remote client handles;
// callers receive copies. Dependencies are injected: construct one
// Registry per process with NewRegistry(store, resolver) and share the
// instance, rather than relying on hidden global state.
package identity
