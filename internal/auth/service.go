package auth

import (
	"context"
	"sync"
	"time"
)

// refreshTokenDuration defines how long a refresh token remains valid.
const refreshTokenDuration = 7 * 24 * time.Hour

// refreshEntry is one outstanding refresh token, keyed by its SHA-256
// hash so the raw token itself is never held past issuance.
type refreshEntry struct {
	email     string
	expiresAt time.Time
}

// AuthService is the entry point for all authentication operations
// against the HTTP admin surface. It holds the local admin provider,
// an optional OIDC provider, and the JWT manager, and owns the
// in-memory refresh-token store — there being no user database in
// this daemon, refresh tokens live only as long as the process does.
type AuthService struct {
	jwt   *JWTManager
	local *LocalProvider
	oidc  *OIDCProvider // nil if no OIDC provider is configured

	mu     sync.Mutex
	tokens map[string]refreshEntry
}

// NewAuthService returns an AuthService. oidc may be nil.
func NewAuthService(jwt *JWTManager, local *LocalProvider, oidc *OIDCProvider) *AuthService {
	return &AuthService{
		jwt:    jwt,
		local:  local,
		oidc:   oidc,
		tokens: make(map[string]refreshEntry),
	}
}

// LoginLocal authenticates the configured admin's username/password.
func (s *AuthService) LoginLocal(_ context.Context, username, password string) (*TokenPair, error) {
	email, ok := s.local.Authenticate(username, password)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return s.issueTokenPair(email)
}

// OIDCEnabled reports whether an OIDC provider is configured, so the
// HTTP layer can decide whether to expose the /auth/oidc/* routes.
func (s *AuthService) OIDCEnabled() bool { return s.oidc != nil }

// AuthorizationURL starts an OIDC login. Returns ErrOIDCNotConfigured
// if no provider is configured.
func (s *AuthService) AuthorizationURL() (url, state, codeVerifier string, err error) {
	if s.oidc == nil {
		return "", "", "", ErrOIDCNotConfigured
	}
	return s.oidc.AuthorizationURL()
}

// ExchangeCode completes an OIDC login and issues a token pair.
func (s *AuthService) ExchangeCode(ctx context.Context, req OIDCCallbackRequest) (*TokenPair, error) {
	if s.oidc == nil {
		return nil, ErrOIDCNotConfigured
	}
	email, err := s.oidc.ExchangeCode(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.issueTokenPair(email)
}

// RefreshToken validates and rotates a refresh token issued by either
// login path; both share this same in-memory store once issued.
func (s *AuthService) RefreshToken(_ context.Context, rawToken string) (*TokenPair, error) {
	hash := hashRefreshToken(rawToken)

	s.mu.Lock()
	entry, ok := s.tokens[hash]
	if ok {
		// Delete before issuing the new pair: if issuance fails below,
		// the caller must log in again rather than being able to
		// replay this token.
		delete(s.tokens, hash)
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrRefreshTokenNotFound
	}
	if time.Now().After(entry.expiresAt) {
		return nil, ErrTokenExpired
	}
	return s.issueTokenPair(entry.email)
}

// Logout invalidates the given refresh token. A token that does not
// exist is a no-op — the client should clear its cookie regardless.
func (s *AuthService) Logout(_ context.Context, rawToken string) error {
	hash := hashRefreshToken(rawToken)
	s.mu.Lock()
	delete(s.tokens, hash)
	s.mu.Unlock()
	return nil
}

// ValidateAccessToken parses and verifies a JWT access token. Used by
// the HTTP middleware to authenticate incoming requests.
func (s *AuthService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.jwt.ValidateAccessToken(tokenString)
}

func (s *AuthService) issueTokenPair(email string) (*TokenPair, error) {
	accessToken, err := s.jwt.GenerateAccessToken(email)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(refreshTokenDuration)

	s.mu.Lock()
	s.tokens[hashRefreshToken(rawRefresh)] = refreshEntry{email: email, expiresAt: expiresAt}
	s.mu.Unlock()
	return &TokenPair{
		AccessToken:           accessToken,
		RefreshToken:          rawRefresh,
		RefreshTokenExpiresAt: expiresAt,
	}, nil
}
