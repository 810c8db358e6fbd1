package authflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// Authorizer is the external collaborator that starts an authorization
// and exchanges its result. Implementations embed the state token in the
// authorization URL and turn the redirect's code into a credential.
type Authorizer interface {
	// AuthURL builds the authorization URL carrying the given state token.
	AuthURL(state string) (string, error)

	// Exchange swaps the redirect's authorization code for a credential.
	Exchange(ctx context.Context, code string) (vault.Credential, error)
}

// URLOpener presents an authorization URL to the user, typically by
// opening the system browser. A failure aborts the login attempt.
type URLOpener func(url string) error

// Coordinator creates, tracks and resolves pending authorization
// requests. Requests are correlated to their redirect by an unguessable
// state token and removed from the pending table on resolution, failure,
// cancellation or deadline expiry; they are never retained past that.
type Coordinator struct {
	authorizer Authorizer
	opener     URLOpener
	ttl        time.Duration
	sweepEvery time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*Request

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Coordinator during construction.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithRequestTTL sets how long a pending request may wait for its
// redirect before it is evicted with ErrLoginTimeout.
func WithRequestTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.ttl = ttl
	}
}

// WithSweepInterval sets how often expired pending requests are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.sweepEvery = d
	}
}

// WithURLOpener sets the callback that presents the authorization URL to
// the user when a request begins. Without an opener the host is expected
// to open Request.AuthURL itself.
func WithURLOpener(open URLOpener) Option {
	return func(c *Coordinator) {
		c.opener = open
	}
}

// NewCoordinator creates a coordinator with an empty pending table.
// Defaults: request TTL 10 minutes, sweep interval 1 minute.
func NewCoordinator(authorizer Authorizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		authorizer: authorizer,
		ttl:        10 * time.Minute,
		sweepEvery: time.Minute,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending:    make(map[string]*Request),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.sweepLoop()

	return c
}

// Begin generates a state token, registers a pending request and starts
// the external authorization step. If initiation fails the request is
// removed before the error is returned; it never remains pending.
func (c *Coordinator) Begin(ctx context.Context) (*Request, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("%w: generate state token: %w", ErrAuthInitiationFailed, err)
	}

	authURL, err := c.authorizer.AuthURL(state)
	if err != nil {
		return nil, fmt.Errorf("%w: build authorization url: %w", ErrAuthInitiationFailed, err)
	}

	req := newRequest(state, authURL, c.ttl)

	c.mu.Lock()
	c.pending[state] = req
	c.mu.Unlock()

	req.markInitiated()

	if c.opener != nil {
		if err := c.opener(authURL); err != nil {
			c.evict(state)
			req.fail(ErrAuthInitiationFailed)
			return nil, fmt.Errorf("%w: open authorization url: %w", ErrAuthInitiationFailed, err)
		}
	}

	return req, nil
}

// Resolve matches a redirect URI to its pending request by state token
// and completes it. The pending entry is consumed atomically with the
// lookup, so a given request resolves at most once; a second redirect
// bearing the same token is unmatched. Unmatched or malformed redirects
// are logged and dropped without error, since they may belong to a stale
// or already-handled request.
func (c *Coordinator) Resolve(ctx context.Context, redirectURI string) (*Request, bool) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		c.logger.Warn("authflow: dropping malformed redirect uri", slog.Any("error", err))
		return nil, false
	}

	q := u.Query()
	state := q.Get("state")
	if state == "" {
		c.logger.Warn("authflow: dropping redirect without state token")
		return nil, false
	}

	c.mu.Lock()
	req, ok := c.pending[state]
	if ok {
		delete(c.pending, state)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("authflow: dropping redirect with no matching pending request")
		return nil, false
	}

	if errCode := q.Get("error"); errCode != "" {
		req.fail(fmt.Errorf("%w: %s", ErrAuthorizationDenied, errCode))
		return req, true
	}

	code := q.Get("code")
	if code == "" {
		req.fail(fmt.Errorf("%w: redirect carries no authorization code", ErrAuthorizationDenied))
		return req, true
	}

	// Exchange happens outside the pending-table lock; it is a network
	// call against the remote service.
	cred, err := c.authorizer.Exchange(ctx, code)
	if err != nil {
		req.fail(fmt.Errorf("exchange authorization code: %w", err))
		return req, true
	}

	req.complete(cred)
	return req, true
}

// Cancel evicts a pending request and fails it with ErrLoginCanceled.
// Requests already resolved are left untouched.
func (c *Coordinator) Cancel(req *Request) {
	if req == nil {
		return
	}
	c.evict(req.stateToken)
	req.fail(ErrLoginCanceled)
}

// PendingCount reports how many requests are currently awaiting their
// redirect.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the sweep loop and fails all pending requests with
// ErrLoginCanceled. Close is idempotent.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		pending := make([]*Request, 0, len(c.pending))
		for _, req := range c.pending {
			pending = append(pending, req)
		}
		clear(c.pending)
		c.mu.Unlock()

		for _, req := range pending {
			req.fail(ErrLoginCanceled)
		}
	})
	return nil
}

func (c *Coordinator) evict(state string) {
	c.mu.Lock()
	delete(c.pending, state)
	c.mu.Unlock()
}

// sweepLoop periodically evicts pending requests whose deadline passed,
// failing them with ErrLoginTimeout so parked Await calls return.
func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Coordinator) sweep(now time.Time) {
	c.mu.Lock()
	var expired []*Request
	for state, req := range c.pending {
		if req.expired(now) {
			delete(c.pending, state)
			expired = append(expired, req)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		if req.fail(ErrLoginTimeout) {
			c.logger.Warn("authflow: evicted expired pending request",
				slog.String("request_id", req.id.String()),
				slog.Time("created_at", req.createdAt),
			)
		}
	}
}

// generateState returns a cryptographically random state token with 256
// bits of entropy, unique among currently pending requests with
// negligible collision probability.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
