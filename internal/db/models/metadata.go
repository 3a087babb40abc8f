// Package models - metadata.go defines the ChatMetadata JSONB shape used for analytics
// rollups on parent chats and sub-chats. This is a durable, compatibility-sensitive
// format: fields evolve additively, and removing one requires an explicit schema
// migration (see MetadataSchemaVersion and DeprecatedMetadataFields).
package models

import "time"

// MetadataSchemaVersion is the current ChatMetadata schema version.
// Version 1 predates one-way user hashing and carried raw end-user
// identifiers; version 2 removed them.
const MetadataSchemaVersion = 2

// DeprecatedMetadataFields are keys removed by the version 2 schema
// migration. total_messages and recent_file_names leaked content shape;
// end_user_ids leaked raw identifiers from the pre-hashing era.
var DeprecatedMetadataFields = []string{
	"total_messages",
	"recent_file_names",
	"end_user_ids",
}

// MaxUserActivityEntries bounds the per-chat user_activity map so a single
// high-traffic app cannot grow a parent chat's metadata row without limit.
const MaxUserActivityEntries = 1000

// UserActivity holds per-end-user rollup counters, keyed by the one-way
// user hash. Raw end-user identifiers never appear in metadata.
type UserActivity struct {
	FileCount    int64     `json:"file_count"`
	QueryCount   int64     `json:"query_count"`
	StorageBytes int64     `json:"storage_bytes"`
	LastActive   time.Time `json:"last_active"`
}

// ComplianceFlags records the privacy guarantees in effect for a chat
type ComplianceFlags struct {
	PrivacyIsolated      bool `json:"privacy_isolated"`
	RawFileAccessBlocked bool `json:"raw_file_access_blocked"`
}

// ChatMetadata is the analytics rollup stored in chats.app_metadata
type ChatMetadata struct {
	SchemaVersion     int                      `json:"schema_version"`
	TotalUsers        int64                    `json:"total_users"`
	TotalSubchats     int64                    `json:"total_subchats"`
	TotalFiles        int64                    `json:"total_files"`
	TotalQueries      int64                    `json:"total_queries"`
	TotalStorageBytes int64                    `json:"total_storage_bytes"`
	FileTypeStats     map[string]int64         `json:"file_type_stats,omitempty"`
	UserActivity      map[string]*UserActivity `json:"user_activity,omitempty"`
	Compliance        ComplianceFlags          `json:"compliance"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// NewChatMetadata returns an empty rollup at the current schema version
// with the platform's privacy guarantees asserted.
func NewChatMetadata() *ChatMetadata {
	return &ChatMetadata{
		SchemaVersion: MetadataSchemaVersion,
		FileTypeStats: make(map[string]int64),
		UserActivity:  make(map[string]*UserActivity),
		Compliance: ComplianceFlags{
			PrivacyIsolated:      true,
			RawFileAccessBlocked: true,
		},
		UpdatedAt: time.Now().UTC(),
	}
}

// ActivityFor returns the activity entry for a user hash, creating it if
// absent. Returns nil when the map is at its size bound and the hash is new.
func (m *ChatMetadata) ActivityFor(userHash string) *UserActivity {
	if m.UserActivity == nil {
		m.UserActivity = make(map[string]*UserActivity)
	}
	if a, ok := m.UserActivity[userHash]; ok {
		return a
	}
	if len(m.UserActivity) >= MaxUserActivityEntries {
		return nil
	}
	a := &UserActivity{}
	m.UserActivity[userHash] = a
	return a
}
