// tokens.go implements scoped token issuance and the capability check
// endpoint. Both require the app secret; scoped tokens never mint further
// credentials.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/apps"
	"github.com/appchat-platform/appchat-platform/internal/audit"
	"github.com/appchat-platform/appchat-platform/internal/auth"
	"github.com/appchat-platform/appchat-platform/internal/authz"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/telemetry"
)

// TokenHandlers handles scoped token issuance and capability checks
type TokenHandlers struct {
	validator *authz.Validator
	apps      *apps.Service
	recorder  *audit.Recorder
	tokenTTL  time.Duration
}

// NewTokenHandlers creates a new TokenHandlers instance
func NewTokenHandlers(validator *authz.Validator, appsService *apps.Service, recorder *audit.Recorder, tokenTTL time.Duration) *TokenHandlers {
	return &TokenHandlers{
		validator: validator,
		apps:      appsService,
		recorder:  recorder,
		tokenTTL:  tokenTTL,
	}
}

// IssueTokenRequest is the request body for scoped token issuance
type IssueTokenRequest struct {
	EndUserID    string   `json:"end_user_id" binding:"required"`
	Capabilities []string `json:"capabilities"`
}

// CheckCapabilityRequest is the request body for access-log entries. Action
// is the caller's own label for the event; the allowed outcome is always
// derived server-side, never taken from the caller.
type CheckCapabilityRequest struct {
	EndUserID  string `json:"end_user_id" binding:"required"`
	Capability string `json:"capability" binding:"required"`
	ChatID     string `json:"chat_id"`
	Action     string `json:"action"`
}

// IssueHandler mints a scoped token for an already-provisioned end-user.
// Requested capabilities must sit inside the pair's effective set; omitting
// them issues the full effective set.
// POST /api/v1/tokens
func (h *TokenHandlers) IssueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IssueTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		app := contextApp(c)
		if app == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "App authentication required"})
			return
		}

		effective, err := h.validator.ResolveCapabilities(c.Request.Context(), app.ID, req.EndUserID)
		if err != nil {
			if errors.Is(err, authz.ErrNoActiveAuthorization) {
				c.JSON(http.StatusNotFound, gin.H{"error": "End-user has no active sub-chat; provision first"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve capabilities"})
			return
		}

		granted := effective
		if len(req.Capabilities) > 0 {
			if err := auth.ValidateCapabilities(req.Capabilities); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			for _, cap := range req.Capabilities {
				if !auth.HasCapability(effective, auth.Capability(cap)) {
					telemetry.CapabilityDenialsTotal.WithLabelValues(cap).Inc()
					c.JSON(http.StatusForbidden, gin.H{"error": "Requested capability exceeds the effective set: " + cap})
					return
				}
			}
			granted = req.Capabilities
		}

		signingSecret, err := h.apps.SigningSecret(c.Request.Context(), app)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare signing secret"})
			return
		}

		token, err := auth.GenerateScopedToken(app.ID, req.EndUserID, granted, signingSecret, h.tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
			return
		}

		ttl := h.tokenTTL
		if ttl == 0 {
			ttl = auth.DefaultScopedTokenTTL
		}
		expiresAt := time.Now().Add(ttl)

		h.recorder.Record(&models.AuditLog{
			AppID:     app.ID,
			EndUserID: &req.EndUserID,
			Action:    models.ActionTokenIssue,
			Allowed:   true,
			Metadata:  map[string]interface{}{"capabilities": granted},
			IPAddress: clientIP(c),
		})

		c.JSON(http.StatusCreated, gin.H{
			"token":        token,
			"token_type":   "Bearer",
			"expires_at":   expiresAt.UTC().Format(time.RFC3339),
			"capabilities": granted,
		})
	}
}

// CheckHandler evaluates one capability against the pair's effective set and
// records the decision. Unknown pairs fail closed rather than erroring, so
// integrations can probe before provisioning.
// POST /api/v1/access-log
func (h *TokenHandlers) CheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckCapabilityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		app := contextApp(c)
		if app == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "App authentication required"})
			return
		}

		allowed, err := h.validator.CheckCapability(c.Request.Context(), app.ID, req.EndUserID, auth.Capability(req.Capability))
		if err != nil && !errors.Is(err, authz.ErrNoActiveAuthorization) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check capability"})
			return
		}

		if !allowed {
			telemetry.CapabilityDenialsTotal.WithLabelValues(req.Capability).Inc()
		}

		action := models.ActionCapabilityCheck
		if req.Action != "" {
			action = req.Action
		}

		entry := &models.AuditLog{
			AppID:               app.ID,
			EndUserID:           &req.EndUserID,
			Action:              action,
			RequestedCapability: &req.Capability,
			Allowed:             allowed,
			IPAddress:           clientIP(c),
		}
		if req.ChatID != "" {
			entry.ChatID = &req.ChatID
		}
		h.recorder.Record(entry)

		c.JSON(http.StatusOK, gin.H{
			"allowed":    allowed,
			"capability": req.Capability,
		})
	}
}

func clientIP(c *gin.Context) *string {
	ip := c.ClientIP()
	if ip == "" {
		return nil
	}
	return &ip
}
