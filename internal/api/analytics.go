// analytics.go implements the rollup endpoints: incremental event tracking
// for apps and reconciliation plus metadata migration for developers.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/analytics"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
	"github.com/appchat-platform/appchat-platform/internal/middleware"
)

// AnalyticsHandlers handles rollup tracking and reconciliation endpoints
type AnalyticsHandlers struct {
	service *analytics.Service
	chats   *repositories.ChatRepository
}

// NewAnalyticsHandlers creates a new AnalyticsHandlers instance
func NewAnalyticsHandlers(service *analytics.Service, chats *repositories.ChatRepository) *AnalyticsHandlers {
	return &AnalyticsHandlers{service: service, chats: chats}
}

// TrackUploadRequest is the request body for file upload tracking
type TrackUploadRequest struct {
	EndUserID string `json:"end_user_id" binding:"required"`
	Filename  string `json:"filename" binding:"required"`
	SizeBytes int64  `json:"size_bytes"`
}

// TrackQueryRequest is the request body for query tracking
type TrackQueryRequest struct {
	EndUserID string `json:"end_user_id" binding:"required"`
}

// TrackUploadHandler applies one file upload to the end-user's rollups.
// POST /api/v1/track/upload
func (h *AnalyticsHandlers) TrackUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TrackUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		app := contextApp(c)
		if app == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "App authentication required"})
			return
		}

		result, err := h.service.TrackFileUpload(c.Request.Context(), app, req.EndUserID, req.Filename, req.SizeBytes)
		if err != nil {
			writeTrackError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// TrackQueryHandler applies one query event to the end-user's rollups.
// POST /api/v1/track/query
func (h *AnalyticsHandlers) TrackQueryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TrackQueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		app := contextApp(c)
		if app == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "App authentication required"})
			return
		}

		result, err := h.service.TrackAPIQuery(c.Request.Context(), app, req.EndUserID)
		if err != nil {
			writeTrackError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// RecalculateHandler rebuilds a parent conversation's rollup from scratch
// across every linked sub-chat. Restricted to the conversation's owner.
// POST /api/v1/chats/:id/recalculate
func (h *AnalyticsHandlers) RecalculateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("id")
		if !h.requireChatOwner(c, chatID) {
			return
		}

		meta, err := h.service.Recalculate(c.Request.Context(), chatID)
		if err != nil {
			if errors.Is(err, analytics.ErrChatNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recalculate rollup"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"metadata": meta})
	}
}

// MigrateMetadataHandler upgrades a conversation's metadata to the current
// schema, dropping deprecated fields. Idempotent; restricted to the owner.
// POST /api/v1/chats/:id/migrate-metadata
func (h *AnalyticsHandlers) MigrateMetadataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("id")
		if !h.requireChatOwner(c, chatID) {
			return
		}

		changed, err := h.service.MigrateSchema(c.Request.Context(), chatID)
		if err != nil {
			if errors.Is(err, analytics.ErrChatNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to migrate metadata"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"migrated": changed})
	}
}

// requireChatOwner rejects the request unless the authenticated developer
// owns the conversation. Writes the response itself on failure.
func (h *AnalyticsHandlers) requireChatOwner(c *gin.Context, chatID string) bool {
	developerID := c.GetString(middleware.ContextDeveloperID)

	chat, err := h.chats.GetChatByID(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return false
	}
	if chat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return false
	}
	if chat.OwnerID != developerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Conversation belongs to a different developer"})
		return false
	}
	return true
}

func writeTrackError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, analytics.ErrNoActiveAuthorization):
		c.JSON(http.StatusNotFound, gin.H{"error": "No active sub-chat for end-user"})
	case errors.Is(err, analytics.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record event"})
	}
}
