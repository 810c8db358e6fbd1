// Package authflow drives the authorization-code login flow and
// correlates browser-issued redirects back to the in-memory request that
// initiated them.
//
// The login flow spans two logically separate invocations connected only
// by the pending-request table: Begin registers a request under a
// cryptographically random state token and starts the external
// authorization step, and Resolve later matches the redirect URI to that
// request by exact token equality. The initiating flow parks on
// Request.Await in between; the wait holds no locks.
//
// Correlation guarantees:
//
//   - A redirect matches at most one pending entry, consumed atomically
//     with the lookup, so a request resolves at most once.
//   - Unmatched and malformed redirects are logged and dropped; they may
//     belong to an already-handled or stale request.
//   - A request whose initiation fails is removed immediately and never
//     remains pending.
//   - Requests that outlive their TTL are evicted by a background sweep
//     and fail with ErrLoginTimeout.
//
// The Authorizer interface is the boundary to the provider-specific
// OAuth machinery; see pkg/ghauth for the GitHub implementation.
package authflow
