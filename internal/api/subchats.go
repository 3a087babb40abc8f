// subchats.go implements sub-chat provisioning, lookup, and revocation.
// Provision and lookup are app-facing; revocation accepts the developer's
// JWT or the end-user's own scoped token.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
	"github.com/appchat-platform/appchat-platform/internal/middleware"
	"github.com/appchat-platform/appchat-platform/internal/provisioner"
)

// SubchatHandlers handles sub-chat provisioning endpoints
type SubchatHandlers struct {
	provisioner *provisioner.Provisioner
	apps        *repositories.AppRepository
}

// NewSubchatHandlers creates a new SubchatHandlers instance
func NewSubchatHandlers(p *provisioner.Provisioner, apps *repositories.AppRepository) *SubchatHandlers {
	return &SubchatHandlers{provisioner: p, apps: apps}
}

// ProvisionRequest is the request body for sub-chat provisioning
type ProvisionRequest struct {
	EndUserID    string   `json:"end_user_id" binding:"required"`
	Capabilities []string `json:"capabilities"`
}

// ProvisionHandler provisions (or re-activates) the end-user's sub-chat.
// Idempotent per (app, end-user): repeat calls return the existing chat.
// POST /api/v1/subchats
func (h *SubchatHandlers) ProvisionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProvisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		app := contextApp(c)
		if app == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "App authentication required"})
			return
		}

		result, err := h.provisioner.Provision(c.Request.Context(), app, req.EndUserID, req.Capabilities)
		if err != nil {
			switch {
			case errors.Is(err, provisioner.ErrAppInactive):
				c.JSON(http.StatusForbidden, gin.H{"error": "App is deactivated"})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}

		status := http.StatusOK
		if result.IsNew {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{
			"chat_id":      result.ChatID,
			"is_new":       result.IsNew,
			"capabilities": result.Capabilities,
		})
	}
}

// GetHandler returns the end-user's sub-chat and effective capabilities.
// Accepts the app secret or a scoped token for the same end-user.
// GET /api/v1/subchats/:endUserId
func (h *SubchatHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app := contextApp(c)
		if app == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "App authentication required"})
			return
		}

		info, err := h.provisioner.GetSubchat(c.Request.Context(), app, c.Param("endUserId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up sub-chat"})
			return
		}
		if info == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active sub-chat for end-user"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"chat_id":        info.ChatID,
			"capabilities":   info.Capabilities,
			"authorized_at":  info.AuthorizedAt.Format(time.RFC3339),
			"last_active_at": info.LastActiveAt.Format(time.RFC3339),
		})
	}
}

// RevokeHandler revokes the end-user's authorization. Revocation is terminal:
// subsequent provisioning creates a fresh sub-chat. Developers pass the app
// via the app_id query parameter; end-users are identified by their token.
// DELETE /api/v1/subchats/:endUserId
func (h *SubchatHandlers) RevokeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		endUserID := c.Param("endUserId")

		var app *models.App
		var callerID string

		if developerID := c.GetString(middleware.ContextDeveloperID); developerID != "" {
			appID := c.Query("app_id")
			if appID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "app_id query parameter is required"})
				return
			}
			loaded, err := h.apps.GetAppByID(c.Request.Context(), appID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load app"})
				return
			}
			if loaded == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
				return
			}
			app = loaded
			callerID = developerID
		} else {
			app = contextApp(c)
			callerID = c.GetString(middleware.ContextEndUserID)
		}

		if app == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		if err := h.provisioner.Revoke(c.Request.Context(), app, endUserID, callerID); err != nil {
			switch {
			case errors.Is(err, provisioner.ErrNoActiveAuthorization):
				c.JSON(http.StatusNotFound, gin.H{"error": "No active sub-chat for end-user"})
			case errors.Is(err, provisioner.ErrRevokeNotPermitted):
				c.JSON(http.StatusForbidden, gin.H{"error": "Caller may not revoke this authorization"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke authorization"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

// contextApp returns the authenticated app placed in the request context by
// the auth middleware, or nil when the request authenticated another way.
func contextApp(c *gin.Context) *models.App {
	v, ok := c.Get(middleware.ContextApp)
	if !ok {
		return nil
	}
	app, ok := v.(*models.App)
	if !ok {
		return nil
	}
	return app
}
