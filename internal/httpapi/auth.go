package httpapi

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/auth"
)

const (
	refreshTokenCookie = "barc_refresh_token"
	oidcStateCookie    = "barc_oidc_state"
	oidcVerifierCookie = "barc_oidc_verifier"
	oidcCookieTTL      = 10 * time.Minute
)

// AuthHandler groups the admin-surface login handlers. It depends only
// on AuthService, never on the local/OIDC providers directly.
type AuthHandler struct {
	svc    *auth.AuthService
	logger *zap.Logger
	secure bool
}

// NewAuthHandler returns an AuthHandler. secure controls whether
// cookies carry the Secure flag — true behind HTTPS, false for local
// development over plain HTTP.
func NewAuthHandler(svc *auth.AuthService, logger *zap.Logger, secure bool) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger.Named("auth_handler"), secure: secure}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		errBadRequest(w, "username and password are required")
		return
	}

	pair, err := h.svc.LoginLocal(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			errUnauthorized(w)
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		errInternal(w)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	ok(w, loginResponse{AccessToken: pair.AccessToken})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshTokenCookie)
	if err != nil {
		noContent(w)
		return
	}
	if err := h.svc.Logout(r.Context(), cookie.Value); err != nil {
		h.logger.Warn("logout error", zap.Error(err))
	}
	h.clearRefreshCookie(w)
	noContent(w)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshTokenCookie)
	if err != nil {
		errUnauthorized(w)
		return
	}

	pair, err := h.svc.RefreshToken(r.Context(), cookie.Value)
	if err != nil {
		h.clearRefreshCookie(w)
		errUnauthorized(w)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	ok(w, loginResponse{AccessToken: pair.AccessToken})
}

// OIDCLogin handles GET /api/v1/auth/oidc/login.
func (h *AuthHandler) OIDCLogin(w http.ResponseWriter, r *http.Request) {
	if !h.svc.OIDCEnabled() {
		errBadRequest(w, "OIDC is not configured")
		return
	}

	redirectURL, state, codeVerifier, err := h.svc.AuthorizationURL()
	if err != nil {
		h.logger.Error("failed to generate OIDC authorization URL", zap.Error(err))
		errInternal(w)
		return
	}

	expires := time.Now().Add(oidcCookieTTL)
	http.SetCookie(w, &http.Cookie{
		Name: oidcStateCookie, Value: state, Expires: expires,
		HttpOnly: true, Secure: h.secure, SameSite: http.SameSiteLaxMode, Path: "/",
	})
	http.SetCookie(w, &http.Cookie{
		Name: oidcVerifierCookie, Value: codeVerifier, Expires: expires,
		HttpOnly: true, Secure: h.secure, SameSite: http.SameSiteLaxMode, Path: "/",
	})

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// OIDCCallback handles GET /api/v1/auth/oidc/callback.
func (h *AuthHandler) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oidcStateCookie)
	if err != nil {
		errBadRequest(w, "missing OIDC state cookie")
		return
	}
	verifierCookie, err := r.Cookie(oidcVerifierCookie)
	if err != nil {
		errBadRequest(w, "missing OIDC verifier cookie")
		return
	}
	h.clearOIDCCookies(w)

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		errBadRequest(w, "missing code or state parameter")
		return
	}

	pair, err := h.svc.ExchangeCode(r.Context(), auth.OIDCCallbackRequest{
		Code:         code,
		State:        state,
		SessionState: stateCookie.Value,
		CodeVerifier: verifierCookie.Value,
	})
	if err != nil {
		if errors.Is(err, auth.ErrOIDCEmailNotAllowed) || errors.Is(err, auth.ErrOIDCStateMismatch) {
			errUnauthorized(w)
			return
		}
		h.logger.Error("OIDC code exchange failed", zap.Error(err))
		errInternal(w)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	http.Redirect(w, r, "/?token="+pair.AccessToken, http.StatusFound)
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name: refreshTokenCookie, Value: token, Expires: expiresAt,
		HttpOnly: true, Secure: h.secure, SameSite: http.SameSiteStrictMode, Path: "/api/v1/auth",
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name: refreshTokenCookie, Value: "", Expires: time.Unix(0, 0), MaxAge: -1,
		HttpOnly: true, Secure: h.secure, SameSite: http.SameSiteStrictMode, Path: "/api/v1/auth",
	})
}

func (h *AuthHandler) clearOIDCCookies(w http.ResponseWriter) {
	for _, name := range []string{oidcStateCookie, oidcVerifierCookie} {
		http.SetCookie(w, &http.Cookie{
			Name: name, Value: "", Expires: time.Unix(0, 0), MaxAge: -1,
			HttpOnly: true, Secure: h.secure, SameSite: http.SameSiteLaxMode, Path: "/",
		})
	}
}
