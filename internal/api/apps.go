// apps.go implements the developer-facing app lifecycle endpoints: create,
// list, inspect, secret rotation, capability policy, and soft deactivation.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/apps"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/middleware"
)

// AppHandlers handles app lifecycle endpoints
type AppHandlers struct {
	service *apps.Service
}

// NewAppHandlers creates a new AppHandlers instance
func NewAppHandlers(service *apps.Service) *AppHandlers {
	return &AppHandlers{service: service}
}

// CreateAppRequest is the request body for app registration
type CreateAppRequest struct {
	Name         string   `json:"name" binding:"required"`
	ParentChatID *string  `json:"parent_chat_id"`
	Capabilities []string `json:"capabilities"`
}

// UpdateCapabilitiesRequest is the request body for capability policy updates
type UpdateCapabilitiesRequest struct {
	Capabilities []string `json:"capabilities" binding:"required"`
}

// CreateHandler registers a new app. The app secret and signing secret are
// returned in this response and never again.
// POST /api/v1/apps
func (h *AppHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAppRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		developerID := c.GetString(middleware.ContextDeveloperID)

		created, err := h.service.Create(c.Request.Context(), developerID, req.Name, req.ParentChatID, req.Capabilities)
		if err != nil {
			if errors.Is(err, apps.ErrParentChatNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Parent conversation not found"})
				return
			}
			// Capability validation errors name the offending values.
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"app":        appJSON(&created.App),
			"app_secret": created.Secret,
			"jwt_secret": created.JWTSecret,
		})
	}
}

// ListHandler lists the developer's apps with secrets stripped.
// GET /api/v1/apps
func (h *AppHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)

		list, err := h.service.List(c.Request.Context(), developerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list apps"})
			return
		}

		resp := make([]gin.H, 0, len(list))
		for _, app := range list {
			resp = append(resp, appJSON(app))
		}
		c.JSON(http.StatusOK, gin.H{"apps": resp})
	}
}

// GetHandler returns one app with secrets stripped.
// GET /api/v1/apps/:id
func (h *AppHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)

		app, err := h.service.Get(c.Request.Context(), c.Param("id"), developerID)
		if err != nil {
			writeAppError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"app": appJSON(app)})
	}
}

// RotateSecretHandler replaces the app secret, invalidating the old one
// atomically. The new secret appears only in this response.
// POST /api/v1/apps/:id/rotate-secret
func (h *AppHandlers) RotateSecretHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)

		rotated, err := h.service.RotateSecret(c.Request.Context(), c.Param("id"), developerID)
		if err != nil {
			writeAppError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"app":        appJSON(&rotated.App),
			"app_secret": rotated.Secret,
		})
	}
}

// RotateJWTSecretHandler replaces the app's token signing secret. Scoped
// tokens signed with the old secret stop validating immediately.
// POST /api/v1/apps/:id/rotate-jwt-secret
func (h *AppHandlers) RotateJWTSecretHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)

		jwtSecret, err := h.service.RotateJWTSecret(c.Request.Context(), c.Param("id"), developerID)
		if err != nil {
			writeAppError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"jwt_secret": jwtSecret})
	}
}

// UpdateCapabilitiesHandler replaces the app's allowed capability set.
// PUT /api/v1/apps/:id/capabilities
func (h *AppHandlers) UpdateCapabilitiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateCapabilitiesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		developerID := c.GetString(middleware.ContextDeveloperID)

		if err := h.service.UpdateCapabilities(c.Request.Context(), c.Param("id"), developerID, req.Capabilities); err != nil {
			switch {
			case errors.Is(err, apps.ErrAppNotFound), errors.Is(err, apps.ErrNotOwner), errors.Is(err, apps.ErrAppInactive):
				writeAppError(c, err)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"capabilities": req.Capabilities})
	}
}

// DeactivateHandler soft-deletes an app. Existing credentials stop
// validating; audit history is preserved.
// DELETE /api/v1/apps/:id
func (h *AppHandlers) DeactivateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)

		if err := h.service.Deactivate(c.Request.Context(), c.Param("id"), developerID); err != nil {
			writeAppError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"deactivated": true})
	}
}

// writeAppError maps credential store errors to HTTP statuses
func writeAppError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apps.ErrAppNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
	case errors.Is(err, apps.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "App belongs to a different developer"})
	case errors.Is(err, apps.ErrAppInactive):
		c.JSON(http.StatusConflict, gin.H{"error": "App is deactivated"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// appJSON maps an app to its JSON shape. Secret material never appears here;
// the service strips it, and this shape simply has no fields for it.
func appJSON(app *models.App) gin.H {
	out := gin.H{
		"id":                   app.ID,
		"developer_id":         app.DeveloperID,
		"name":                 app.Name,
		"secret_prefix":        app.SecretPrefix,
		"parent_chat_id":       app.ParentChatID,
		"allowed_capabilities": app.AllowedCapabilities,
		"is_active":            app.IsActive,
		"created_at":           app.CreatedAt.Format(time.RFC3339),
	}
	if app.SecretRotatedAt != nil {
		out["secret_rotated_at"] = app.SecretRotatedAt.Format(time.RFC3339)
	}
	if app.JWTRotatedAt != nil {
		out["jwt_rotated_at"] = app.JWTRotatedAt.Format(time.RFC3339)
	}
	return out
}
