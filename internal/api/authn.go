// authn.go implements the developer console login flow: OIDC redirect,
// callback, token refresh, and the current-developer endpoint.
package api

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/auth"
	"github.com/appchat-platform/appchat-platform/internal/auth/oidc"
	"github.com/appchat-platform/appchat-platform/internal/config"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
	"github.com/appchat-platform/appchat-platform/internal/middleware"
)

const (
	developerJWTTTL = 24 * time.Hour
	loginStateTTL   = 5 * time.Minute
)

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	cfg          *config.Config
	developers   *repositories.DeveloperRepository
	oidcProvider *oidc.OIDCProvider

	mu           sync.Mutex
	sessionStore map[string]time.Time // state -> created at; in-memory, single instance
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, developers *repositories.DeveloperRepository) (*AuthHandlers, error) {
	h := &AuthHandlers{
		cfg:          cfg,
		developers:   developers,
		sessionStore: make(map[string]time.Time),
	}

	if cfg.Auth.OIDC.Enabled {
		provider, err := oidc.NewOIDCProvider(&cfg.Auth.OIDC)
		if err != nil {
			return nil, err
		}
		h.oidcProvider = provider
	}

	return h, nil
}

// generateState generates a random state string for OAuth
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// LoginHandler initiates the OIDC login flow
// GET /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.oidcProvider == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "OIDC provider not configured"})
			return
		}

		state, err := generateState()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
			return
		}

		h.mu.Lock()
		h.sessionStore[state] = time.Now()
		h.mu.Unlock()

		c.Redirect(http.StatusFound, h.oidcProvider.GetAuthURL(state))
	}
}

// CallbackHandler handles the OIDC callback: validates state, exchanges the
// code, upserts the developer, and hands the browser a platform JWT.
// GET /api/v1/auth/callback?code=...&state=...
func (h *AuthHandlers) CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		frontendBase := deriveFrontendURL(h.cfg)

		callbackError := func(errCode, description string) {
			if frontendBase == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": description})
				return
			}
			target := fmt.Sprintf(
				"%s/auth/callback?error=%s&error_description=%s",
				frontendBase,
				url.QueryEscape(errCode),
				url.QueryEscape(description),
			)
			c.Redirect(http.StatusFound, target)
		}

		if h.oidcProvider == nil {
			callbackError("provider_not_configured", "OIDC provider is not configured.")
			return
		}

		code := c.Query("code")
		state := c.Query("state")

		h.mu.Lock()
		createdAt, exists := h.sessionStore[state]
		delete(h.sessionStore, state) // single use
		h.mu.Unlock()

		if !exists {
			callbackError("invalid_state", "Invalid state parameter. Please try logging in again.")
			return
		}
		if time.Since(createdAt) > loginStateTTL {
			callbackError("state_expired", "Login session expired. Please try logging in again.")
			return
		}

		ctx := c.Request.Context()

		token, err := h.oidcProvider.ExchangeCode(ctx, code)
		if err != nil {
			callbackError("token_exchange_failed", "Failed to exchange authorization code for token.")
			return
		}

		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok {
			callbackError("no_id_token", "The identity provider did not return an ID token.")
			return
		}

		idToken, err := h.oidcProvider.VerifyIDToken(ctx, rawIDToken)
		if err != nil {
			callbackError("id_token_invalid", "The ID token could not be verified.")
			return
		}

		sub, email, name, err := h.oidcProvider.ExtractUserInfo(idToken)
		if err != nil {
			callbackError("user_info_failed", "Failed to extract user information from the ID token.")
			return
		}

		developer, err := h.developers.UpsertByOIDCSubject(ctx, sub, email, name)
		if err != nil {
			callbackError("developer_upsert_failed", "Failed to look up or create your account.")
			return
		}

		jwtToken, err := auth.GenerateJWT(developer.ID, developer.Email, developerJWTTTL)
		if err != nil {
			callbackError("jwt_failed", "Failed to generate an authentication token.")
			return
		}

		c.Redirect(http.StatusFound, fmt.Sprintf("%s/auth/callback?token=%s", frontendBase, url.QueryEscape(jwtToken)))
	}
}

// RefreshHandler exchanges a valid developer JWT for a fresh one
// POST /api/v1/auth/refresh
func (h *AuthHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)

		developer, err := h.developers.GetDeveloperByID(c.Request.Context(), developerID)
		if err != nil || developer == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Developer not found"})
			return
		}

		newToken, err := auth.GenerateJWT(developer.ID, developer.Email, developerJWTTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate new token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      newToken,
			"expires_in": int(developerJWTTTL.Seconds()),
		})
	}
}

// MeHandler returns the current authenticated developer
// GET /api/v1/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)

		developer, err := h.developers.GetDeveloperByID(c.Request.Context(), developerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get developer information"})
			return
		}
		if developer == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Developer not found"})
			return
		}

		resp := gin.H{
			"id":         developer.ID,
			"email":      developer.Email,
			"name":       developer.Name,
			"created_at": developer.CreatedAt.Format(time.RFC3339),
		}
		if developer.LastLoginAt != nil {
			resp["last_login_at"] = developer.LastLoginAt.Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, gin.H{"developer": resp})
	}
}

// LogoutHandler terminates the SSO session by redirecting to the provider's
// end_session_endpoint when one is advertised.
// GET /api/v1/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		postLogoutRedirect := deriveFrontendURL(h.cfg) + "/"

		if h.oidcProvider != nil {
			if endSessionURL := h.oidcProvider.GetEndSessionEndpoint(); endSessionURL != "" {
				logoutURL, err := url.Parse(endSessionURL)
				if err == nil {
					q := logoutURL.Query()
					q.Set("post_logout_redirect_uri", postLogoutRedirect)
					q.Set("client_id", h.cfg.Auth.OIDC.ClientID)
					logoutURL.RawQuery = q.Encode()
					c.Redirect(http.StatusFound, logoutURL.String())
					return
				}
			}
		}

		c.Redirect(http.StatusFound, postLogoutRedirect)
	}
}

// deriveFrontendURL returns the browser-facing base URL of the developer
// console. PublicURL wins; the OIDC redirect origin is the fallback since the
// registered callback already points at the console's public address.
func deriveFrontendURL(cfg *config.Config) string {
	if cfg.Server.PublicURL != "" {
		return strings.TrimRight(cfg.Server.PublicURL, "/")
	}
	if cfg.Auth.OIDC.RedirectURL != "" {
		if u, err := url.Parse(cfg.Auth.OIDC.RedirectURL); err == nil {
			return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
		}
	}
	return strings.TrimRight(cfg.Server.BaseURL, "/")
}
