package analytics

import (
	"context"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
)

// MigrateSchema removes deprecated rollup fields from a conversation's
// metadata and stamps the current schema version. It operates on the raw
// JSONB shape because the typed ChatMetadata struct can no longer see the
// deprecated keys. Safe to run repeatedly: an already-migrated record is a
// no-op and reports migrated=false.
func (s *Service) MigrateSchema(ctx context.Context, chatID string) (bool, error) {
	chat, err := s.chats.GetChatByID(ctx, chatID)
	if err != nil {
		return false, err
	}
	if chat == nil {
		return false, ErrChatNotFound
	}

	raw, err := s.chats.GetRawMetadata(ctx, chatID)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		// Nothing stored yet; nothing to migrate.
		return false, nil
	}

	changed := false
	for _, field := range models.DeprecatedMetadataFields {
		if _, ok := raw[field]; ok {
			delete(raw, field)
			changed = true
		}
	}

	// JSON numbers decode as float64 in an untyped map.
	if version, ok := raw["schema_version"].(float64); !ok || int(version) != models.MetadataSchemaVersion {
		raw["schema_version"] = models.MetadataSchemaVersion
		changed = true
	}

	if !changed {
		return false, nil
	}

	if err := s.chats.UpdateRawMetadata(ctx, chatID, raw); err != nil {
		return false, err
	}

	s.recorder.Record(&models.AuditLog{
		Action:  models.ActionMetadataMigrate,
		ChatID:  &chatID,
		Allowed: true,
		Metadata: map[string]interface{}{
			"schema_version": models.MetadataSchemaVersion,
		},
	})

	return true, nil
}
