// stats.go implements the per-app usage stats endpoint. The numbers come
// straight from the authorization and audit tables, so they stay correct
// even when rollup metadata is behind.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/appchat-platform/appchat-platform/internal/apps"
	"github.com/appchat-platform/appchat-platform/internal/middleware"
)

// StatsHandler handles per-app usage statistics
type StatsHandler struct {
	db   *sqlx.DB
	apps *apps.Service
}

// NewStatsHandler creates a new StatsHandler instance
func NewStatsHandler(db *sqlx.DB, appsService *apps.Service) *StatsHandler {
	return &StatsHandler{db: db, apps: appsService}
}

type appStats struct {
	ActiveSubchats   int `db:"active_subchats" json:"active_subchats"`
	RevokedSubchats  int `db:"revoked_subchats" json:"revoked_subchats"`
	DistinctEndUsers int `db:"distinct_end_users" json:"distinct_end_users"`
	TokensIssued     int `db:"tokens_issued" json:"tokens_issued"`
	UploadsTracked   int `db:"uploads_tracked" json:"uploads_tracked"`
	QueriesTracked   int `db:"queries_tracked" json:"queries_tracked"`
	DeniedRequests   int `db:"denied_requests" json:"denied_requests"`
}

// actionCount is one entry of the ranked action breakdown.
type actionCount struct {
	Action string `db:"action" json:"action"`
	Count  int    `db:"count" json:"count"`
}

const appStatsQuery = `
	SELECT
		(SELECT COUNT(*) FROM user_app_chats WHERE app_id = $1 AND NOT is_revoked) AS active_subchats,
		(SELECT COUNT(*) FROM user_app_chats WHERE app_id = $1 AND is_revoked) AS revoked_subchats,
		(SELECT COUNT(DISTINCT end_user_id) FROM user_app_chats WHERE app_id = $1) AS distinct_end_users,
		(SELECT COUNT(*) FROM audit_logs WHERE app_id = $1 AND action = 'token.issue') AS tokens_issued,
		(SELECT COUNT(*) FROM audit_logs WHERE app_id = $1 AND action = 'analytics.track_upload') AS uploads_tracked,
		(SELECT COUNT(*) FROM audit_logs WHERE app_id = $1 AND action = 'analytics.track_query') AS queries_tracked,
		(SELECT COUNT(*) FROM audit_logs WHERE app_id = $1 AND NOT allowed) AS denied_requests
`

const topActionsQuery = `
	SELECT action, COUNT(*) AS count
	FROM audit_logs
	WHERE app_id = $1
	GROUP BY action
	ORDER BY count DESC, action ASC
	LIMIT 5
`

// GetHandler returns aggregate usage numbers for one app.
// GET /api/v1/apps/:id/stats
func (h *StatsHandler) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		developerID := c.GetString(middleware.ContextDeveloperID)
		appID := c.Param("id")

		if _, err := h.apps.Get(c.Request.Context(), appID, developerID); err != nil {
			writeAppError(c, err)
			return
		}

		var stats appStats
		if err := h.db.GetContext(c.Request.Context(), &stats, appStatsQuery, appID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
			return
		}

		topActions := []actionCount{}
		if err := h.db.SelectContext(c.Request.Context(), &topActions, topActionsQuery, appID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"app_id": appID, "stats": stats, "top_actions": topActions})
	}
}
