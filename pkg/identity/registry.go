package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/devidkit/pkg/notifier"
	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// restoreConcurrency bounds how many credentials are resolved in parallel
// during startup restoration.
const restoreConcurrency = 4

// Registry is the single source of truth for which identities are logged
// in. All reads and writes of the backing collection happen under a short
// registry lock; the lock is never held across calls into the vault or
// the resolver.
type Registry struct {
	store    vault.Store
	resolver Resolver
	events   *notifier.Notifier[Event]
	logger   *slog.Logger

	mu         sync.RWMutex
	identities map[string]Identity // key = normalized login id

	// dispatchMu serializes mutation+publish pairs so the notification
	// order matches the order in which mutations complete. Readers only
	// take mu and are never blocked by event dispatch.
	dispatchMu sync.Mutex
}

// RegistryOption configures a Registry during construction.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for best-effort failure reporting.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry backed by the given credential
// store and resolver. Call Restore before sharing the registry to load
// previously persisted identities.
func NewRegistry(store vault.Store, resolver Resolver, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:      store,
		resolver:   resolver,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		identities: make(map[string]Identity),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.events = notifier.New(notifier.WithLogger[Event](r.logger))
	return r
}

// Events exposes the change notification stream. Subscribers see Added,
// Updated and Removed events for every mutation after they subscribe;
// there is no replay of earlier events.
func (r *Registry) Events() *notifier.Notifier[Event] {
	return r.events
}

// List returns a snapshot of all logged-in identities, ordered by login
// id. The result never aliases registry state.
func (r *Registry) List() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Identity, 0, len(r.identities))
	for _, ident := range r.identities {
		out = append(out, ident)
	}
	slices.SortFunc(out, func(a, b Identity) int {
		return strings.Compare(normalizeLoginID(a.LoginID), normalizeLoginID(b.LoginID))
	})
	return out
}

// Find returns the identity for a login id, or ErrNotFound.
func (r *Registry) Find(loginID string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ident, ok := r.identities[normalizeLoginID(loginID)]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

// CreateOrUpdate inserts a new identity or updates the stored one that
// matches the profile, persisting the credential to the vault. A match on
// login id wins over a match on profile URL; if both keys match different
// stored identities the state is ambiguous and ErrDuplicateIdentity is
// returned without mutating anything, the vault included.
func (r *Registry) CreateOrUpdate(ctx context.Context, profile Profile, client RemoteClient, cred vault.Credential) (Identity, error) {
	if profile.LoginID == "" {
		return Identity{}, ErrMissingLoginID
	}
	key := normalizeLoginID(profile.LoginID)

	// Reject an ambiguous merge before the vault is touched.
	r.mu.RLock()
	_, _, err := r.mergeTarget(key, profile.ProfileURL)
	r.mu.RUnlock()
	if err != nil {
		return Identity{}, err
	}

	// The save overwrites whatever the vault holds for this login id.
	// Capture the previous credential so a merge that turns ambiguous
	// under concurrent mutation can be rolled back.
	prev, prevErr := r.store.Get(ctx, profile.LoginID)
	if prevErr != nil && !errors.Is(prevErr, vault.ErrCredentialNotFound) {
		r.logger.Warn("cannot capture previous credential before save",
			slog.String("login_id", profile.LoginID),
			slog.Any("error", prevErr),
		)
	}

	// Persist outside any lock. A failed save leaves the registry
	// untouched so memory and vault cannot disagree about a new login.
	if err := r.store.Save(ctx, profile.LoginID, cred); err != nil {
		return Identity{}, fmt.Errorf("persist credential for %q: %w", profile.LoginID, err)
	}

	r.dispatchMu.Lock()

	r.mu.Lock()
	existing, renamedFrom, err := r.mergeTarget(key, profile.ProfileURL)
	if err != nil {
		r.mu.Unlock()
		r.dispatchMu.Unlock()
		// A concurrent mutation made the merge ambiguous after the
		// save; put the vault back the way it was.
		r.rollbackCredential(ctx, profile.LoginID, prev, prevErr)
		return Identity{}, err
	}

	ident := Identity{
		LoginID:     profile.LoginID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		ProfileURL:  profile.ProfileURL,
		LoggedInAt:  time.Now(),
		Client:      client,
	}

	var replaced RemoteClient
	kind := EventAdded
	if existing != nil {
		kind = EventUpdated
		ident.LoggedInAt = existing.LoggedInAt
		if existing.Client != nil && existing.Client != client {
			replaced = existing.Client
		}
		if renamedFrom != "" {
			delete(r.identities, renamedFrom)
		}
	}
	r.identities[key] = ident
	r.mu.Unlock()

	r.events.Publish(Event{Kind: kind, Identity: ident})
	r.dispatchMu.Unlock()

	r.releaseClient(replaced)
	if renamedFrom != "" {
		// The account was renamed upstream; the credential stored under
		// the old login id is stale now. Best effort cleanup.
		if err := r.store.Delete(ctx, renamedFrom); err != nil {
			r.logger.Warn("failed to remove credential for renamed login",
				slog.String("login_id", renamedFrom),
				slog.Any("error", err),
			)
		}
	}

	return ident, nil
}

// rollbackCredential restores the vault entry for loginID to its state
// before a rejected CreateOrUpdate overwrote it. prevErr is the result of
// the capture read: nil means prev holds the old credential, a not-found
// means the entry did not exist, anything else means the old value is
// unknown and the rollback is skipped.
func (r *Registry) rollbackCredential(ctx context.Context, loginID string, prev vault.Credential, prevErr error) {
	var err error
	switch {
	case prevErr == nil:
		err = r.store.Save(ctx, loginID, prev)
	case errors.Is(prevErr, vault.ErrCredentialNotFound):
		err = r.store.Delete(ctx, loginID)
	default:
		r.logger.Warn("previous credential unknown, leaving vault as is",
			slog.String("login_id", loginID),
		)
		return
	}
	if err != nil {
		r.logger.Warn("failed to roll back credential after rejected merge",
			slog.String("login_id", loginID),
			slog.Any("error", err),
		)
	}
}

// mergeTarget locates the stored identity the profile should merge into.
// Caller holds r.mu. renamedFrom is set when the match came from the
// profile URL under a different login id.
func (r *Registry) mergeTarget(key, profileURL string) (existing *Identity, renamedFrom string, err error) {
	if ident, ok := r.identities[key]; ok {
		existing = &ident
	}

	if profileURL == "" {
		return existing, "", nil
	}
	for k, ident := range r.identities {
		if !strings.EqualFold(ident.ProfileURL, profileURL) {
			continue
		}
		if existing != nil {
			if k != key {
				return nil, "", ErrDuplicateIdentity
			}
			continue
		}
		existing = &ident
		renamedFrom = k
	}
	return existing, renamedFrom, nil
}

// Remove logs an identity out: it is erased from the registry, its client
// handle is released and its credential is removed from the vault. Vault
// deletion is best effort; a failure there is logged but the in-memory
// removal still succeeds. Returns ErrNotFound when the login id is not
// present; no notification fires in that case.
func (r *Registry) Remove(ctx context.Context, loginID string) error {
	key := normalizeLoginID(loginID)

	r.dispatchMu.Lock()

	r.mu.Lock()
	ident, ok := r.identities[key]
	if !ok {
		r.mu.Unlock()
		r.dispatchMu.Unlock()
		return ErrNotFound
	}
	delete(r.identities, key)
	r.mu.Unlock()

	r.events.Publish(Event{Kind: EventRemoved, Identity: ident})
	r.dispatchMu.Unlock()

	r.releaseClient(ident.Client)

	if err := r.store.Delete(ctx, loginID); err != nil {
		r.logger.Warn("failed to remove credential from vault",
			slog.String("login_id", loginID),
			slog.Any("error", err),
		)
	}
	return nil
}

// Restore loads the given login ids from the vault, resolves their
// account attributes and inserts them directly, without firing
// notifications. It runs before any subscriber can attach. A failure for
// one id never aborts restoration of the others; failures are logged and
// that id is skipped.
func (r *Registry) Restore(ctx context.Context, loginIDs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)

	for _, loginID := range loginIDs {
		g.Go(func() error {
			if err := r.restoreOne(ctx, loginID); err != nil {
				r.logger.Warn("failed to restore identity",
					slog.String("login_id", loginID),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Registry) restoreOne(ctx context.Context, loginID string) error {
	cred, err := r.store.Get(ctx, loginID)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	profile, client, err := r.resolver.Resolve(ctx, cred)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}
	if profile.LoginID == "" {
		profile.LoginID = loginID
	}

	ident := Identity{
		LoginID:     profile.LoginID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		ProfileURL:  profile.ProfileURL,
		LoggedInAt:  time.Now(),
		Client:      client,
	}

	r.mu.Lock()
	r.identities[normalizeLoginID(profile.LoginID)] = ident
	r.mu.Unlock()
	return nil
}

// Close releases all client handles and drops the in-memory state. The
// vault is left untouched so identities restore on the next start.
func (r *Registry) Close() error {
	r.mu.Lock()
	idents := make([]Identity, 0, len(r.identities))
	for _, ident := range r.identities {
		idents = append(idents, ident)
	}
	clear(r.identities)
	r.mu.Unlock()

	for _, ident := range idents {
		r.releaseClient(ident.Client)
	}
	r.events.Close()
	return nil
}

func (r *Registry) releaseClient(client RemoteClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		r.logger.Warn("failed to release remote client handle", slog.Any("error", err))
	}
}

func normalizeLoginID(loginID string) string {
	return strings.ToLower(strings.TrimSpace(loginID))
}
