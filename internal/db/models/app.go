// Package models defines the database model types for the app chat platform.
// Each type corresponds to a database table.
// Models are pure data types — business logic belongs in the service layer, query logic belongs in the repositories layer.
package models

import "time"

// App represents a developer-owned tenant identity
type App struct {
	ID                  string
	DeveloperID         string
	Name                string
	SecretHash          string  // Bcrypt hash of the full app secret
	SecretPrefix        string  // First chars for display and indexed lookup (e.g., "acs_abc123")
	JWTSecretEnc        *string // AES-GCM encrypted signing secret; nil for legacy apps until first token issue
	ParentChatID        *string // Parent conversation whose published settings the app inherits
	AllowedCapabilities []string
	IsActive            bool
	CreatedAt           time.Time
	SecretRotatedAt     *time.Time
	JWTRotatedAt        *time.Time
}

// AppWithSecret is returned only from creation and rotation; the plaintext
// secret exists nowhere else and is never stored.
type AppWithSecret struct {
	App
	Secret string
}
