package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/devidkit/pkg/authflow"
	"github.com/dmitrymomot/devidkit/pkg/identity"
	"github.com/dmitrymomot/devidkit/pkg/notifier"
	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// AccountProvider is the full external-account collaborator: it starts
// and finishes the authorization-code flow and resolves stored
// credentials back into account attributes. ghauth.Resolver satisfies it.
type AccountProvider interface {
	identity.Resolver
	authflow.Authorizer
}

// State reports whether a login id is currently logged in.
type State string

const (
	StateLoggedIn  State = "logged_in"
	StateLoggedOut State = "logged_out"
)

// Service is the externally callable surface of the identity-session
// subsystem. Construct one per process with New and share the instance;
// construction restores previously persisted identities before the
// service is handed out, so restoration never races caller-driven
// mutation.
type Service struct {
	registry *identity.Registry
	flow     *authflow.Coordinator
	accounts AccountProvider
	logger   *slog.Logger
}

// Option configures a Service during construction.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	flowOpts []authflow.Option
}

// WithLogger sets the logger shared by the service and its parts.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLoginTTL bounds how long a login attempt may wait for its redirect.
func WithLoginTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.flowOpts = append(o.flowOpts, authflow.WithRequestTTL(ttl))
	}
}

// WithURLOpener sets the callback that presents authorization URLs to
// the user, typically by opening the system browser.
func WithURLOpener(open authflow.URLOpener) Option {
	return func(o *options) {
		o.flowOpts = append(o.flowOpts, authflow.WithURLOpener(open))
	}
}

// New constructs the identity-session service on top of a credential
// store and an account provider, and restores all identities persisted
// in the store. A restore failure for one identity is logged and skipped;
// only a store that cannot be enumerated fails construction.
func New(ctx context.Context, store vault.Store, accounts AccountProvider, opts ...Option) (*Service, error) {
	o := &options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{
		accounts: accounts,
		logger:   o.logger,
	}
	s.registry = identity.NewRegistry(store, accounts, identity.WithLogger(o.logger))
	s.flow = authflow.NewCoordinator(accounts, append(o.flowOpts, authflow.WithLogger(o.logger))...)

	loginIDs, err := store.List(ctx)
	if err != nil {
		_ = s.flow.Close()
		_ = s.registry.Close()
		return nil, fmt.Errorf("enumerate stored credentials: %w", err)
	}
	if err := s.registry.Restore(ctx, loginIDs); err != nil {
		// Identities restored before the failure hold client handles.
		_ = s.flow.Close()
		_ = s.registry.Close()
		return nil, fmt.Errorf("restore identities: %w", err)
	}

	return s, nil
}

// ListLoggedIn returns a snapshot of all logged-in identities.
func (s *Service) ListLoggedIn() []identity.Identity {
	return s.registry.List()
}

// Find returns the logged-in identity for a login id, or
// identity.ErrNotFound.
func (s *Service) Find(loginID string) (identity.Identity, error) {
	return s.registry.Find(loginID)
}

// StateOf reports whether the login id is currently logged in.
func (s *Service) StateOf(loginID string) State {
	if _, err := s.registry.Find(loginID); err != nil {
		return StateLoggedOut
	}
	return StateLoggedIn
}

// StartLogin begins a new login attempt and returns the pending request.
// The host presents req.AuthURL to the user (unless a URL opener is
// configured) and later feeds the redirect to HandleRedirect; the
// attempt finishes with CompleteLogin.
func (s *Service) StartLogin(ctx context.Context) (*authflow.Request, error) {
	return s.flow.Begin(ctx)
}

// CompleteLogin parks until the request resolves, then registers the
// authorized account and returns its identity. When ctx is cancelled the
// pending request is evicted so it never lingers.
func (s *Service) CompleteLogin(ctx context.Context, req *authflow.Request) (identity.Identity, error) {
	cred, err := req.Await(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.flow.Cancel(req)
		}
		return identity.Identity{}, err
	}

	profile, client, err := s.accounts.Resolve(ctx, cred)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("resolve authorized account: %w", err)
	}

	ident, err := s.registry.CreateOrUpdate(ctx, profile, client, cred)
	if err != nil {
		return identity.Identity{}, err
	}

	s.logger.Info("identity logged in",
		slog.String("login_id", ident.LoginID),
		slog.String("request_id", req.ID().String()),
	)
	return ident, nil
}

// Login runs a whole login attempt: begin, wait for the redirect,
// register the account. It suspends the calling flow until the matching
// redirect arrives, the attempt times out, or ctx is cancelled.
func (s *Service) Login(ctx context.Context) (identity.Identity, error) {
	req, err := s.StartLogin(ctx)
	if err != nil {
		return identity.Identity{}, err
	}
	return s.CompleteLogin(ctx, req)
}

// Logout removes the identity and its stored credential. Returns
// identity.ErrNotFound when no such identity is logged in.
func (s *Service) Logout(ctx context.Context, loginID string) error {
	return s.registry.Remove(ctx, loginID)
}

// HandleRedirect delivers an authorization redirect URI received by the
// host. It drives completion of the matching pending login; unmatched or
// malformed redirects are logged and dropped.
func (s *Service) HandleRedirect(ctx context.Context, uri string) {
	s.flow.Resolve(ctx, uri)
}

// Events exposes the identity change stream. Subscribers receive Added,
// Updated and Removed events for mutations after they subscribe.
func (s *Service) Events() *notifier.Notifier[identity.Event] {
	return s.registry.Events()
}

// Close cancels pending login attempts and releases all identity client
// handles. Stored credentials are kept for the next start.
func (s *Service) Close() error {
	_ = s.flow.Close()
	return s.registry.Close()
}
