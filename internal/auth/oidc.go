package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	// oidcStateBytes is the length of the random state parameter for CSRF protection.
	oidcStateBytes = 16

	// oidcCodeVerifierBytes is the length of the PKCE code verifier
	// before encoding. RFC 7636 requires at least 32 bytes of entropy.
	oidcCodeVerifierBytes = 32
)

// OIDCConfig configures the single OIDC identity provider the daemon
// trusts. There is no provider table: a daemon either has none
// configured or exactly one, loaded from its config file at startup.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// AllowedEmail is the single identity this provider is permitted
	// to log in as. Any other verified identity is rejected: this is
	// an admin gate, not a user-provisioning flow.
	AllowedEmail string
}

// OIDCProvider implements the Authorization Code flow with PKCE for a
// single configured identity provider and a single allowed identity.
type OIDCProvider struct {
	cfg         OIDCConfig
	provider    *gooidc.Provider
	oauth2Cfg   oauth2.Config
	verifierCfg *gooidc.Config
}

// NewOIDCProvider discovers the issuer's OIDC configuration and
// returns an OIDCProvider ready to start login flows.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: discovering OIDC issuer %q: %w", cfg.Issuer, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	}

	return &OIDCProvider{
		cfg:      cfg,
		provider: provider,
		oauth2Cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifierCfg: &gooidc.Config{ClientID: cfg.ClientID},
	}, nil
}

// ProviderType implements AuthProvider.
func (p *OIDCProvider) ProviderType() string { return "oidc" }

// AuthorizationURL generates the OIDC authorization URL with a random
// state parameter and PKCE code verifier. The caller must store state
// and codeVerifier in a short-lived session cookie before redirecting.
func (p *OIDCProvider) AuthorizationURL() (url, state, codeVerifier string, err error) {
	state, err = generateRandomBase64(oidcStateBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("auth: generating OIDC state: %w", err)
	}
	codeVerifier, err = generateRandomBase64(oidcCodeVerifierBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("auth: generating PKCE code verifier: %w", err)
	}

	url = p.oauth2Cfg.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(codeVerifier),
	)
	return url, state, codeVerifier, nil
}

// ExchangeCode completes the Authorization Code flow: it checks the
// state parameter, exchanges the code for tokens, verifies the ID
// token, and confirms the asserted identity matches the configured
// AllowedEmail. On success it returns that email, the subject the
// caller passes to JWTManager.GenerateAccessToken.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, req OIDCCallbackRequest) (string, error) {
	if req.State != req.SessionState {
		return "", ErrOIDCStateMismatch
	}
	if req.CodeVerifier == "" {
		return "", ErrOIDCCodeVerifierMissing
	}

	oauth2Token, err := p.oauth2Cfg.Exchange(ctx, req.Code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		return "", fmt.Errorf("auth: exchanging OIDC code: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return "", fmt.Errorf("auth: OIDC token response missing id_token")
	}

	idToken, err := p.provider.Verifier(p.verifierCfg).Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("auth: verifying OIDC id_token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("auth: extracting OIDC claims: %w", err)
	}

	if !strings.EqualFold(claims.Email, p.cfg.AllowedEmail) {
		return "", ErrOIDCEmailNotAllowed
	}
	return claims.Email, nil
}

// generateRandomBase64 returns a URL-safe base64-encoded random
// string of n bytes.
func generateRandomBase64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
