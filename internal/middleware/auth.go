package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/auth"
	"github.com/appchat-platform/appchat-platform/internal/authz"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
	"github.com/appchat-platform/appchat-platform/internal/telemetry"
)

// Context keys set by the auth middleware. Handlers read the caller identity
// from these instead of re-parsing credentials.
const (
	ContextDeveloperID = "developer_id"
	ContextApp         = "app"
	ContextAppID       = "app_id"
	ContextEndUserID   = "end_user_id"
	ContextAuthMethod  = "auth_method"
	ContextCapsGranted = "token_capabilities"
)

// RequireDeveloper validates a platform developer JWT and loads the
// developer record. Management endpoints (app lifecycle, audit, stats) only
// accept this credential class; app secrets and scoped tokens are rejected
// outright.
func RequireDeveloper(developers *repositories.DeveloperRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := auth.ExtractBearerCredential(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := auth.ValidateJWT(credential)
		if err != nil {
			telemetry.CredentialFailuresTotal.WithLabelValues("developer_jwt").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid developer session"})
			return
		}

		developer, err := developers.GetDeveloperByID(c.Request.Context(), claims.DeveloperID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load developer"})
			return
		}
		if developer == nil {
			telemetry.CredentialFailuresTotal.WithLabelValues("developer_jwt").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Developer not found"})
			return
		}

		c.Set(ContextDeveloperID, developer.ID)
		c.Set(ContextAuthMethod, "developer_jwt")
		c.Next()
	}
}

// RequireAppSecret validates an app secret credential. The prefix narrows
// the candidate set with an indexed lookup before the bcrypt comparison, so
// validation stays O(1) in the number of apps.
func RequireAppSecret(validator *authz.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := auth.ExtractBearerCredential(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if !auth.IsAppSecret(credential) {
			telemetry.CredentialFailuresTotal.WithLabelValues("app_secret").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "App secret required"})
			return
		}

		app, err := authenticateAppSecret(c, validator, credential)
		if err != nil || app == nil {
			return
		}

		setAppContext(c, app, "app_secret")
		c.Next()
	}
}

// RequireAppOrScopedToken accepts either credential class: the app's own
// secret, or a scoped end-user token signed with the app's signing secret.
// A scoped token is additionally checked against the endUserId path
// parameter; a valid token presented for a different end-user is an identity
// mismatch, reported distinctly from an invalid credential.
func RequireAppOrScopedToken(validator *authz.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := auth.ExtractBearerCredential(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if auth.IsAppSecret(credential) {
			app, err := authenticateAppSecret(c, validator, credential)
			if err != nil || app == nil {
				return
			}
			setAppContext(c, app, "app_secret")
			c.Next()
			return
		}

		if authenticateScopedToken(c, validator, credential) {
			c.Next()
		}
	}
}

// RequireDeveloperOrScopedToken accepts a developer JWT or a scoped token.
// Used on revocation, which either side of the relationship may trigger: the
// developer on behalf of the app, or the end-user themselves. The developer
// path is tried first because it is stateless.
func RequireDeveloperOrScopedToken(developers *repositories.DeveloperRepository, validator *authz.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := auth.ExtractBearerCredential(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if claims, err := auth.ValidateJWT(credential); err == nil {
			developer, err := developers.GetDeveloperByID(c.Request.Context(), claims.DeveloperID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load developer"})
				return
			}
			if developer == nil {
				telemetry.CredentialFailuresTotal.WithLabelValues("developer_jwt").Inc()
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Developer not found"})
				return
			}
			c.Set(ContextDeveloperID, developer.ID)
			c.Set(ContextAuthMethod, "developer_jwt")
			c.Next()
			return
		}

		if authenticateScopedToken(c, validator, credential) {
			c.Next()
		}
	}
}

// authenticateAppSecret runs prefix lookup + bcrypt validation and writes the
// failure response itself. Returns (nil, nil) after aborting on bad input.
func authenticateAppSecret(c *gin.Context, validator *authz.Validator, credential string) (*models.App, error) {
	app, err := validator.ValidateAppSecret(c.Request.Context(), credential)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return nil, err
	}
	if app == nil {
		telemetry.CredentialFailuresTotal.WithLabelValues("app_secret").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid app secret"})
		return nil, nil
	}
	return app, nil
}

// authenticateScopedToken validates a scoped end-user token against the
// endUserId path parameter (when present) and populates the context. Writes
// the failure response and returns false when the token is rejected.
func authenticateScopedToken(c *gin.Context, validator *authz.Validator, credential string) bool {
	expectedEndUser := c.Param("endUserId")

	app, claims, err := validator.ValidateScopedToken(c.Request.Context(), credential, expectedEndUser)
	if err != nil {
		telemetry.CredentialFailuresTotal.WithLabelValues("scoped_token").Inc()
		switch {
		case errors.Is(err, auth.ErrIdentityMismatch):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Token is scoped to a different end-user"})
		case errors.Is(err, authz.ErrAppInactive):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "App is deactivated"})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid scoped token"})
		}
		return false
	}

	setAppContext(c, app, "scoped_token")
	c.Set(ContextEndUserID, claims.EndUserID)
	c.Set(ContextCapsGranted, claims.Capabilities)
	return true
}

func setAppContext(c *gin.Context, app *models.App, method string) {
	c.Set(ContextApp, app)
	c.Set(ContextAppID, app.ID)
	c.Set(ContextAuthMethod, method)
}
