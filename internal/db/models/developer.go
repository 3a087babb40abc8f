// Package models - developer.go defines the Developer model for platform accounts
// authenticated via OIDC.
package models

import "time"

// Developer represents a developer account in the platform
type Developer struct {
	ID          string
	OIDCSubject string
	Email       string
	Name        string
	CreatedAt   time.Time
	LastLoginAt *time.Time
}
