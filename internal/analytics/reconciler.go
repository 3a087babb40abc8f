package analytics

import (
	"context"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/telemetry"
)

// Recalculate recomputes a parent conversation's rollups from sub-chat ground
// truth, overwriting whatever the incremental updates accumulated. Sub-chats
// are discovered through all three linkage patterns the platform has ever
// used: the explicit parent back-reference on the chat row, membership in the
// authorization table of an app declaring this parent, and the legacy
// app_chat_links table. Running it twice in a row yields identical values.
func (s *Service) Recalculate(ctx context.Context, parentChatID string) (*models.ChatMetadata, error) {
	start := time.Now()

	parent, err := s.chats.GetChatByID(ctx, parentChatID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, ErrChatNotFound
	}

	subchats, err := s.enumerateSubchats(ctx, parentChatID)
	if err != nil {
		return nil, err
	}

	rollup := models.NewChatMetadata()
	rollup.TotalSubchats = int64(len(subchats))

	// Distinct users are counted outside the bounded activity map so the
	// total stays exact even past the map's size bound.
	userHashes := make(map[string]bool)

	for _, subchat := range subchats {
		meta := subchat.AppMetadata
		if meta == nil {
			continue
		}
		rollup.TotalFiles += meta.TotalFiles
		rollup.TotalQueries += meta.TotalQueries
		rollup.TotalStorageBytes += meta.TotalStorageBytes

		for ext, n := range meta.FileTypeStats {
			rollup.FileTypeStats[ext] += n
		}

		for hash, activity := range meta.UserActivity {
			userHashes[hash] = true
			merged := rollup.ActivityFor(hash)
			if merged == nil {
				continue
			}
			merged.FileCount += activity.FileCount
			merged.QueryCount += activity.QueryCount
			merged.StorageBytes += activity.StorageBytes
			if activity.LastActive.After(merged.LastActive) {
				merged.LastActive = activity.LastActive
			}
		}
	}

	rollup.TotalUsers = int64(len(userHashes))
	rollup.UpdatedAt = time.Now().UTC()

	if err := s.chats.UpdateMetadata(ctx, parentChatID, rollup); err != nil {
		return nil, err
	}

	telemetry.ReconciliationDuration.Observe(time.Since(start).Seconds())
	s.recorder.Record(&models.AuditLog{
		Action:  models.ActionAnalyticsRecalc,
		ChatID:  &parentChatID,
		AppID:   appIDForAudit(subchats),
		Allowed: true,
		Metadata: map[string]interface{}{
			"total_subchats": rollup.TotalSubchats,
			"total_users":    rollup.TotalUsers,
			"total_files":    rollup.TotalFiles,
		},
	})

	return rollup, nil
}

// enumerateSubchats discovers every sub-chat belonging to a parent through
// the three linkage patterns, deduplicated by chat ID.
func (s *Service) enumerateSubchats(ctx context.Context, parentChatID string) ([]*models.Chat, error) {
	seen := make(map[string]bool)
	var subchats []*models.Chat

	// Pattern 1: explicit parent back-reference.
	direct, err := s.chats.ListSubchatsByParent(ctx, parentChatID)
	if err != nil {
		return nil, err
	}
	for _, chat := range direct {
		if !seen[chat.ID] {
			seen[chat.ID] = true
			subchats = append(subchats, chat)
		}
	}

	apps, err := s.apps.ListAppsByParentChat(ctx, parentChatID)
	if err != nil {
		return nil, err
	}

	var extraIDs []string
	for _, app := range apps {
		// Pattern 2: active authorization rows of apps declaring this parent.
		auths, err := s.auths.ListActiveByApp(ctx, app.ID)
		if err != nil {
			return nil, err
		}
		for _, uac := range auths {
			if !seen[uac.ChatID] {
				seen[uac.ChatID] = true
				extraIDs = append(extraIDs, uac.ChatID)
			}
		}

		// Pattern 3: the legacy app_chat_links table.
		legacyIDs, err := s.legacy.ListChatIDsByApp(ctx, app.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range legacyIDs {
			if !seen[id] {
				seen[id] = true
				extraIDs = append(extraIDs, id)
			}
		}
	}

	extra, err := s.chats.GetChatsByIDs(ctx, extraIDs)
	if err != nil {
		return nil, err
	}
	for _, chat := range extra {
		if chat.ID == parentChatID || !chat.IsSubchat() {
			continue
		}
		subchats = append(subchats, chat)
	}

	return subchats, nil
}

// appIDForAudit picks a representative app ID for the reconciliation audit
// row; parents aggregating several apps get the first sub-chat's.
func appIDForAudit(subchats []*models.Chat) string {
	for _, chat := range subchats {
		if chat.AppID != nil && *chat.AppID != "" {
			return *chat.AppID
		}
	}
	return ""
}
