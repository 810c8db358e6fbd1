package ghauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/dmitrymomot/devidkit/pkg/identity"
	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// Client is the authenticated handle handed to the identity that logged
// in. It owns an HTTP client whose transport injects the account's
// credential into every request.
type Client struct {
	httpClient *http.Client
	apiBaseURL string
}

func newClient(cred vault.Credential, apiBaseURL string) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken:  cred.AccessToken,
		TokenType:    cred.TokenType,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.ExpiresAt,
	})

	return &Client{
		httpClient: oauth2.NewClient(context.Background(), src),
		apiBaseURL: apiBaseURL,
	}
}

// HTTPClient returns the authenticated HTTP client for GitHub API calls
// on behalf of this account.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Get performs an authenticated GET against the GitHub API and decodes
// the JSON response into out. path must start with a slash.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteCallFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: github api returned status %d", ErrRemoteCallFailed, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteCallFailed, err)
	}
	return nil
}

// Close releases the handle's idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

var _ identity.RemoteClient = (*Client)(nil)
