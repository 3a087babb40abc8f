// Package models - user_app_chat.go defines the UserAppChat model, the sub-chat
// authorization linking one end-user of one app to their isolated conversation.
package models

import "time"

// UserAppChat represents a sub-chat authorization. At most one non-revoked
// row exists per (AppID, EndUserID); revocation is terminal and a fresh
// provisioning call creates a new row with a new conversation.
type UserAppChat struct {
	ID           string
	AppID        string
	EndUserID    string
	ChatID       string
	Capabilities []string
	IsRevoked    bool
	AuthorizedAt time.Time
	LastActiveAt time.Time
	RevokedAt    *time.Time
	RevokedBy    *string
}
