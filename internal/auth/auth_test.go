package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldroot-labs/barc/internal/auth"
)

func newTestService(t *testing.T) (*auth.AuthService, string) {
	t.Helper()
	hash, err := auth.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	local := auth.NewLocalProvider("admin", hash)

	jwt, err := auth.NewJWTManagerGenerated("barc")
	require.NoError(t, err)

	return auth.NewAuthService(jwt, local, nil), hash
}

func TestLoginLocalSucceedsWithCorrectCredentials(t *testing.T) {
	svc, _ := newTestService(t)

	pair, err := svc.LoginLocal(context.Background(), "admin", "correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Email)
}

func TestLoginLocalRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.LoginLocal(context.Background(), "admin", "wrong password")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLoginLocalRejectsUnknownUsername(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.LoginLocal(context.Background(), "someone-else", "correct horse battery staple")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestRefreshTokenRotatesAndInvalidatesThePrevious(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.LoginLocal(context.Background(), "admin", "correct horse battery staple")
	require.NoError(t, err)

	second, err := svc.RefreshToken(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = svc.RefreshToken(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, auth.ErrRefreshTokenNotFound)
}

func TestLogoutInvalidatesRefreshToken(t *testing.T) {
	svc, _ := newTestService(t)

	pair, err := svc.LoginLocal(context.Background(), "admin", "correct horse battery staple")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), pair.RefreshToken))

	_, err = svc.RefreshToken(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrRefreshTokenNotFound)
}

func TestOIDCDisabledByDefault(t *testing.T) {
	svc, _ := newTestService(t)
	assert.False(t, svc.OIDCEnabled())

	_, _, _, err := svc.AuthorizationURL()
	require.ErrorIs(t, err, auth.ErrOIDCNotConfigured)
}

func TestValidateAccessTokenRejectsTamperedToken(t *testing.T) {
	svc, _ := newTestService(t)

	pair, err := svc.LoginLocal(context.Background(), "admin", "correct horse battery staple")
	require.NoError(t, err)

	tampered := pair.AccessToken + "x"
	_, err = svc.ValidateAccessToken(tampered)
	require.Error(t, err)
}
