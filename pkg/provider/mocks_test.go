package provider_test

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dmitrymomot/devidkit/pkg/identity"
	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// fakeAccounts is a deterministic AccountProvider: Exchange turns a code
// into the token "tok-<code>", and Resolve maps that token back to a
// profile whose login id is the code.
type fakeAccounts struct {
	mu          sync.Mutex
	authURLErr  error
	exchangeErr error
	resolveErr  error
	clients     []*fakeClient
}

func (f *fakeAccounts) AuthURL(state string) (string, error) {
	if f.authURLErr != nil {
		return "", f.authURLErr
	}
	return "https://auth.example.com/authorize?state=" + url.QueryEscape(state), nil
}

func (f *fakeAccounts) Exchange(ctx context.Context, code string) (vault.Credential, error) {
	if f.exchangeErr != nil {
		return vault.Credential{}, f.exchangeErr
	}
	return vault.Credential{AccessToken: "tok-" + code, TokenType: "bearer"}, nil
}

func (f *fakeAccounts) Resolve(ctx context.Context, cred vault.Credential) (identity.Profile, identity.RemoteClient, error) {
	if f.resolveErr != nil {
		return identity.Profile{}, nil, f.resolveErr
	}
	login := strings.TrimPrefix(cred.AccessToken, "tok-")
	client := &fakeClient{}
	f.mu.Lock()
	f.clients = append(f.clients, client)
	f.mu.Unlock()
	return identity.Profile{
		LoginID:     login,
		DisplayName: strings.ToUpper(login),
		Email:       login + "@example.com",
		ProfileURL:  "https://example.com/" + login,
	}, client, nil
}

type fakeClient struct {
	closed atomic.Bool
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

// failingStore wraps a MemoryStore but fails enumeration.
type failingStore struct {
	vault.Store
	listErr error
}

func (s *failingStore) List(ctx context.Context) ([]string, error) {
	return nil, s.listErr
}
