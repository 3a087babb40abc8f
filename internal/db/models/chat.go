// Package models - chat.go defines the Chat model. Sub-chats are private conversations
// owned by an end-user with chat_type "app_subchat" and a back-reference to the parent
// conversation whose published settings they inherit.
package models

import "time"

// Chat types
const (
	ChatTypeParent  = "parent"
	ChatTypeSubchat = "app_subchat"
)

// Chat visibility
const (
	VisibilityPrivate = "private"
	VisibilityShared  = "shared"
)

// Chat represents a conversation record
type Chat struct {
	ID           string
	OwnerID      string
	Title        string
	Visibility   string
	ChatType     string
	ParentChatID *string
	AppID        *string
	AppMetadata  *ChatMetadata
	IsArchived   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsSubchat returns true if this chat is an app-provisioned sub-conversation
func (c *Chat) IsSubchat() bool {
	return c.ChatType == ChatTypeSubchat
}
