// audit.go implements the developer-facing audit trail listing.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/apps"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
	"github.com/appchat-platform/appchat-platform/internal/middleware"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditHandlers handles audit trail endpoints
type AuditHandlers struct {
	audits *repositories.AuditRepository
	apps   *apps.Service
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(audits *repositories.AuditRepository, appsService *apps.Service) *AuditHandlers {
	return &AuditHandlers{audits: audits, apps: appsService}
}

// ListHandler returns the app's audit trail, newest first. Filterable by
// end-user, action, decision, and time window via query parameters.
// GET /api/v1/apps/:id/audit
func (h *AuditHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)
		appID := c.Param("id")

		// Ownership check rides on the app service so deactivated apps keep
		// their audit history readable.
		if _, err := h.apps.Get(c.Request.Context(), appID, developerID); err != nil {
			writeAppError(c, err)
			return
		}

		filters := repositories.AuditFilters{AppID: &appID}

		if v := c.Query("end_user_id"); v != "" {
			filters.EndUserID = &v
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("allowed"); v != "" {
			allowed, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid allowed filter"})
				return
			}
			filters.Allowed = &allowed
		}
		if v := c.Query("start"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start time; use RFC 3339"})
				return
			}
			filters.StartDate = &t
		}
		if v := c.Query("end"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end time; use RFC 3339"})
				return
			}
			filters.EndDate = &t
		}

		limit := defaultAuditPageSize
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
				return
			}
			limit = min(n, maxAuditPageSize)
		}
		offset := 0
		if v := c.Query("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
				return
			}
			offset = n
		}

		logs, total, err := h.audits.ListAuditLogs(c.Request.Context(), filters, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}

		entries := make([]gin.H, 0, len(logs))
		for _, log := range logs {
			entries = append(entries, auditLogJSON(log))
		}

		c.JSON(http.StatusOK, gin.H{
			"logs":   entries,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

func auditLogJSON(log *models.AuditLog) gin.H {
	out := gin.H{
		"id":         log.ID,
		"app_id":     log.AppID,
		"action":     log.Action,
		"allowed":    log.Allowed,
		"created_at": log.CreatedAt.Format(time.RFC3339),
	}
	if log.EndUserID != nil {
		out["end_user_id"] = *log.EndUserID
	}
	if log.ChatID != nil {
		out["chat_id"] = *log.ChatID
	}
	if log.RequestedCapability != nil {
		out["requested_capability"] = *log.RequestedCapability
	}
	if len(log.Metadata) > 0 {
		out["metadata"] = log.Metadata
	}
	if log.IPAddress != nil {
		out["ip_address"] = *log.IPAddress
	}
	return out
}
