package ghauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/dmitrymomot/devidkit/pkg/authflow"
	"github.com/dmitrymomot/devidkit/pkg/config"
	"github.com/dmitrymomot/devidkit/pkg/identity"
	"github.com/dmitrymomot/devidkit/pkg/vault"
)

const defaultAPIBaseURL = "https://api.github.com"

// Resolver is the GitHub implementation of the external account
// collaborators: it builds authorization URLs, exchanges authorization
// codes for credentials, and resolves credentials into canonical account
// attributes plus an authenticated client handle.
type Resolver struct {
	conf       *oauth2.Config
	httpClient *http.Client
	apiBaseURL string
}

// Option configures a Resolver during construction.
type Option func(*Resolver)

// WithHTTPClient sets the HTTP client used for GitHub REST calls.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithAPIBaseURL overrides the GitHub API base URL, for GitHub Enterprise
// hosts and tests.
func WithAPIBaseURL(baseURL string) Option {
	return func(r *Resolver) {
		if baseURL != "" {
			r.apiBaseURL = baseURL
		}
	}
}

// WithEndpoint overrides the OAuth endpoint, for GitHub Enterprise hosts
// and tests.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(r *Resolver) {
		r.conf.Endpoint = endpoint
	}
}

// NewResolver creates a GitHub resolver for the given OAuth application.
func NewResolver(cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     github.Endpoint,
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiBaseURL: defaultAPIBaseURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewResolverFromEnv creates a GitHub resolver configured from
// environment variables. See Config for the variables it reads.
func NewResolverFromEnv(opts ...Option) (*Resolver, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load github oauth config: %w", err)
	}
	return NewResolver(cfg, opts...), nil
}

// AuthURL builds the GitHub authorization URL with the given state token.
func (r *Resolver) AuthURL(state string) (string, error) {
	return r.conf.AuthCodeURL(state), nil
}

// Exchange swaps an authorization code for a credential.
func (r *Resolver) Exchange(ctx context.Context, code string) (vault.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	tok, err := r.conf.Exchange(ctx, code)
	if err != nil {
		return vault.Credential{}, ErrInvalidCode
	}

	return vault.Credential{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// Resolve fetches the account attributes behind a credential and returns
// them with an authenticated client handle for later remote calls.
func (r *Resolver) Resolve(ctx context.Context, cred vault.Credential) (identity.Profile, identity.RemoteClient, error) {
	u, err := r.fetchUser(ctx, cred.AccessToken)
	if err != nil {
		return identity.Profile{}, nil, err
	}

	// GitHub omits the email from /user when the primary email is
	// private; fall back to the emails endpoint.
	email := u.Email
	if email == "" {
		emails, err := r.fetchEmails(ctx, cred.AccessToken)
		if err != nil {
			return identity.Profile{}, nil, err
		}

		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
		if email == "" {
			for _, e := range emails {
				if e.Verified {
					email = e.Email
					break
				}
			}
		}
	}

	displayName := u.Name
	if displayName == "" {
		displayName = u.Login
	}

	profile := identity.Profile{
		LoginID:     u.Login,
		DisplayName: displayName,
		Email:       email,
		ProfileURL:  u.HTMLURL,
	}

	client := newClient(cred, r.apiBaseURL)
	return profile, client, nil
}

func (r *Resolver) fetchUser(ctx context.Context, accessToken string) (*ghUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiBaseURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: github api returned status %d", ErrProfileFetchFailed, resp.StatusCode)
	}

	var user ghUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}

	return &user, nil
}

func (r *Resolver) fetchEmails(ctx context.Context, accessToken string) ([]ghEmail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiBaseURL+"/user/emails", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: github api returned status %d", ErrProfileFetchFailed, resp.StatusCode)
	}

	var emails []ghEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}

	return emails, nil
}

type ghUser struct {
	ID      int64  `json:"id"`
	Login   string `json:"login"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	HTMLURL string `json:"html_url"`
}

type ghEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Compile-time interface assertions
var (
	_ authflow.Authorizer = (*Resolver)(nil)
	_ identity.Resolver   = (*Resolver)(nil)
)
