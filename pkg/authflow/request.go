package authflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// RequestState tracks the lifecycle of a pending authorization request.
// Transitions: Created -> AuthorizationInitiated -> {Completed | Failed}.
// There is no transition out of a terminal state.
type RequestState string

const (
	StateCreated   RequestState = "created"
	StateInitiated RequestState = "authorization_initiated"
	StateCompleted RequestState = "completed"
	StateFailed    RequestState = "failed"
)

// Request is one in-flight authorization attempt. The initiating flow
// parks on Await until the matching redirect resolves the request, a
// failure path fails it, or the deadline evicts it.
type Request struct {
	id         uuid.UUID
	stateToken string
	authURL    string
	createdAt  time.Time
	expiresAt  time.Time

	mu    sync.Mutex
	state RequestState
	cred  vault.Credential
	err   error
	done  chan struct{}
}

func newRequest(stateToken, authURL string, ttl time.Duration) *Request {
	now := time.Now()
	return &Request{
		id:         uuid.New(),
		stateToken: stateToken,
		authURL:    authURL,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		state:      StateCreated,
		done:       make(chan struct{}),
	}
}

// ID returns the request's unique identifier.
func (r *Request) ID() uuid.UUID { return r.id }

// StateToken returns the unguessable correlation token embedded in the
// authorization URL and echoed back in the redirect.
func (r *Request) StateToken() string { return r.stateToken }

// AuthURL returns the authorization URL the host should open for the
// user.
func (r *Request) AuthURL() string { return r.authURL }

// CreatedAt returns when the request was created.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// State returns the request's current lifecycle state.
func (r *Request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Await blocks until the request reaches a terminal state or ctx is
// cancelled, and returns the exchanged credential on success.
func (r *Request) Await(ctx context.Context) (vault.Credential, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.cred, r.err
	case <-ctx.Done():
		return vault.Credential{}, ctx.Err()
	}
}

// AwaitWithTimeout is like Await but bounds the wait with a caller-side
// timeout in addition to the coordinator's own request deadline.
func (r *Request) AwaitWithTimeout(ctx context.Context, timeout time.Duration) (vault.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cred, err := r.Await(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return vault.Credential{}, ErrLoginTimeout
	}
	return cred, err
}

func (r *Request) markInitiated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateCreated {
		r.state = StateInitiated
	}
}

// complete moves the request to Completed. Returns false if the request
// was already terminal.
func (r *Request) complete(cred vault.Credential) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateCompleted || r.state == StateFailed {
		return false
	}
	r.state = StateCompleted
	r.cred = cred
	close(r.done)
	return true
}

// fail moves the request to Failed. Returns false if the request was
// already terminal.
func (r *Request) fail(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateCompleted || r.state == StateFailed {
		return false
	}
	r.state = StateFailed
	r.err = err
	close(r.done)
	return true
}

func (r *Request) expired(now time.Time) bool {
	return now.After(r.expiresAt)
}
