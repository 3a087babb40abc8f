// Package models - audit_log.go defines the AuditLog model for recording privileged
// actions, capturing app, end-user, conversation, requested capability, decision,
// client IP, and arbitrary metadata. Entries are append-only.
package models

import "time"

// AuditLog represents one immutable audit trail entry
type AuditLog struct {
	ID                  int64
	AppID               string
	EndUserID           *string // Nullable for app-level actions
	ChatID              *string
	Action              string  // "subchat.provision", "token.issue", "capability.check"
	RequestedCapability *string // Set for capability checks, nil otherwise
	Allowed             bool
	Metadata            map[string]interface{} // JSONB: additional context
	IPAddress           *string                // Client IP
	CreatedAt           time.Time
}

// Audit actions recorded by the platform
const (
	ActionAppCreate          = "app.create"
	ActionAppSecretRotate    = "app.rotate_secret"
	ActionAppJWTRotate       = "app.rotate_jwt_secret"
	ActionAppCapabilities    = "app.update_capabilities"
	ActionAppDeactivate      = "app.deactivate"
	ActionSubchatProvision   = "subchat.provision"
	ActionSubchatRevoke      = "subchat.revoke"
	ActionSubchatAccess      = "subchat.access"
	ActionTokenIssue         = "token.issue"
	ActionCapabilityCheck    = "capability.check"
	ActionFileUploadTracked  = "analytics.track_upload"
	ActionQueryTracked       = "analytics.track_query"
	ActionAnalyticsRecalc    = "analytics.recalculate"
	ActionMetadataMigrate    = "metadata.migrate_schema"
)
