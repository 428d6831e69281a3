package auth

import "time"

// TokenPair is returned after a successful login or token refresh.
// AccessToken is a signed JWT meant for the Authorization header;
// RefreshToken is an opaque string the HTTP layer sets as an
// httpOnly cookie and never returns in a response body otherwise.
type TokenPair struct {
	AccessToken string

	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// OIDCCallbackRequest carries the parameters received on the OAuth2
// callback route.
type OIDCCallbackRequest struct {
	Code         string
	State        string
	SessionState string
	CodeVerifier string
}
