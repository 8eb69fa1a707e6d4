// Package oauth manages the bearer token of the disk provider.
//
// A token moves through NO_TOKEN, AUTHORIZING, VALID, REFRESHING and
// EXPIRED. Token() drives the transitions: it returns the cached token while
// it is fresh, refreshes it inside the refresh window, and once expiry is
// close enough that a refresh would be pointless it opens the authorization
// page and reports ErrAuthorizationRequired. The browser redirect lands in
// CompleteAuthorization, which exchanges the code and persists the token.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/danieljhkim/gitback/internal/clock"
	"github.com/danieljhkim/gitback/internal/config"
	"github.com/danieljhkim/gitback/internal/credentials"
)

// Store is the subset of the credential store the manager needs.
type Store interface {
	AppCredentials() (*credentials.App, error)
	LoadToken() (*credentials.Token, error)
	SaveToken(tok *credentials.Token) error
}

// State classifies a token against the expiry policy.
type State int

const (
	// StateValid means the cached token can be used as is.
	StateValid State = iota
	// StateRefreshDue means the token is inside the refresh window.
	StateRefreshDue
	// StateExpired means the token must be replaced by re-authorization.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRefreshDue:
		return "refresh-due"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Manager obtains, refreshes and persists the bearer token.
type Manager struct {
	cfg        config.OAuthConfig
	store      Store
	opener     Opener
	clock      clock.Clock
	httpClient *http.Client
	logger     *zap.Logger
}

// NewManager creates a Manager. A nil httpClient uses http.DefaultClient.
func NewManager(cfg config.OAuthConfig, store Store, opener Opener, clk clock.Clock, httpClient *http.Client, logger *zap.Logger) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		opener:     opener,
		clock:      clk,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Classify applies the expiry policy to tok at now.
func (m *Manager) Classify(tok *credentials.Token, now time.Time) State {
	age := now.Sub(tok.IssuedAt)
	lifetime := tok.ExpiresIn()
	switch {
	case age >= lifetime-m.cfg.ReauthLead:
		return StateExpired
	case age >= lifetime-m.cfg.RefreshLead:
		return StateRefreshDue
	default:
		return StateValid
	}
}

// Token returns a usable access token. When none exists or the cached one
// is expired it starts authorization and returns ErrAuthorizationRequired.
func (m *Manager) Token(ctx context.Context) (string, error) {
	tok, err := m.store.LoadToken()
	if errors.Is(err, credentials.ErrCredentialMissing) {
		m.logger.Info("no token stored, starting authorization")
		return "", m.startAuthorization()
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}

	state := m.Classify(tok, m.clock.Now())
	switch state {
	case StateValid:
		return tok.AccessToken, nil
	case StateRefreshDue:
		m.logger.Info("token inside refresh window, refreshing", zap.Time("expires_at", tok.ExpiresAt()))
		refreshed, err := m.Refresh(ctx, tok)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	default:
		m.logger.Warn("token expired, re-authorization required", zap.Time("expires_at", tok.ExpiresAt()))
		return "", m.startAuthorization()
	}
}

// AuthorizationURL returns the page the user must visit to grant access.
func (m *Manager) AuthorizationURL() (string, error) {
	conf, err := m.oauthConfig()
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL("", oauth2.SetAuthURLParam("force_confirm", "yes")), nil
}

// Authorize opens the authorization page and returns its URL.
func (m *Manager) Authorize() (string, error) {
	u, err := m.AuthorizationURL()
	if err != nil {
		return "", err
	}
	if err := m.opener.Open(u); err != nil {
		// The URL is still printed by the caller, so a headless host can continue.
		m.logger.Warn("failed to open browser", zap.Error(err))
	}
	return u, nil
}

func (m *Manager) startAuthorization() error {
	u, err := m.Authorize()
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: complete sign-in at %s", ErrAuthorizationRequired, u)
}

// CompleteAuthorization handles the redirect URI delivered by the browser,
// exchanging its code for a token and persisting it.
func (m *Manager) CompleteAuthorization(ctx context.Context, redirectURI string) (*credentials.Token, error) {
	code, err := m.parseRedirect(redirectURI)
	if err != nil {
		return nil, err
	}

	conf, err := m.oauthConfig()
	if err != nil {
		return nil, err
	}
	issuedAt := m.clock.Now()
	raw, err := conf.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	tok, err := m.toRecord(raw, issuedAt)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveToken(tok); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	m.logger.Info("authorization completed", zap.Int64("expires_in", tok.ExpiresInSeconds))
	return tok, nil
}

// Refresh exchanges tok's refresh token for a new token and persists it.
// On failure the stored token is left untouched.
func (m *Manager) Refresh(ctx context.Context, tok *credentials.Token) (*credentials.Token, error) {
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token has no refresh token", ErrAuthorizationRequired)
	}
	conf, err := m.oauthConfig()
	if err != nil {
		return nil, err
	}

	issuedAt := m.clock.Now()
	// An empty access token forces the source to hit the token endpoint.
	src := conf.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})
	raw, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	refreshed, err := m.toRecord(raw, issuedAt)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveToken(refreshed); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return refreshed, nil
}

func (m *Manager) parseRedirect(redirectURI string) (string, error) {
	want, err := url.Parse(m.cfg.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid configured redirect uri: %w", err)
	}
	got, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirect, err)
	}
	if got.Scheme != want.Scheme || got.Host != want.Host {
		return "", fmt.Errorf("%w: expected %s://%s, got %s", ErrInvalidRedirect, want.Scheme, want.Host, redirectURI)
	}

	q := got.Query()
	if code := q.Get("error"); code != "" {
		return "", &AuthorizationError{Code: code, Description: q.Get("error_description")}
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: no code parameter", ErrInvalidRedirect)
	}
	return code, nil
}

func (m *Manager) oauthConfig() (*oauth2.Config, error) {
	app, err := m.store.AppCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load app credentials: %w", err)
	}
	return &oauth2.Config{
		ClientID:     app.ID,
		ClientSecret: app.Secret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.cfg.AuthorizeURL,
			TokenURL:  m.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// toRecord converts a token response into the persisted form. expires_in
// is taken from the response rather than from Expiry so that the lifetime
// is independent of the local clock.
func (m *Manager) toRecord(raw *oauth2.Token, issuedAt time.Time) (*credentials.Token, error) {
	if raw.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}
	expiresIn := raw.ExpiresIn
	if expiresIn <= 0 {
		switch v := raw.Extra("expires_in").(type) {
		case float64:
			expiresIn = int64(v)
		case int64:
			expiresIn = v
		}
	}
	if expiresIn <= 0 && !raw.Expiry.IsZero() {
		expiresIn = int64(raw.Expiry.Sub(issuedAt).Seconds())
	}
	if expiresIn <= 0 {
		return nil, errors.New("token response has no expires_in")
	}
	return &credentials.Token{
		AccessToken:      raw.AccessToken,
		RefreshToken:     raw.RefreshToken,
		ExpiresInSeconds: expiresIn,
		IssuedAt:         issuedAt,
	}, nil
}
