package analytics

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
)

// TrackResult reports which rollups a tracked event actually reached.
// Tracking is eventually consistent: a false ParentUpdated with
// ResolutionFailed set means reconciliation will pick the event up later.
type TrackResult struct {
	SubchatUpdated   bool `json:"subchat_updated"`
	ParentUpdated    bool `json:"parent_updated"`
	ResolutionFailed bool `json:"resolution_failed"`
}

// TrackFileUpload applies one file upload to the end-user's sub-chat rollup
// and, best-effort, to the resolved parent's rollup. The sub-chat update is
// the operation itself and its failure is returned; the parent update never
// fails the call.
func (s *Service) TrackFileUpload(ctx context.Context, app *models.App, endUserID, filename string, sizeBytes int64) (*TrackResult, error) {
	return s.track(ctx, app, endUserID, models.ActionFileUploadTracked, func(meta *models.ChatMetadata, userHash string, now time.Time) {
		meta.TotalFiles++
		meta.TotalStorageBytes += sizeBytes
		if meta.FileTypeStats == nil {
			meta.FileTypeStats = make(map[string]int64)
		}
		meta.FileTypeStats[fileType(filename)]++
		if a := meta.ActivityFor(userHash); a != nil {
			a.FileCount++
			a.StorageBytes += sizeBytes
			a.LastActive = now
		}
	})
}

// TrackAPIQuery applies one query event to the sub-chat rollup and,
// best-effort, to the resolved parent's rollup.
func (s *Service) TrackAPIQuery(ctx context.Context, app *models.App, endUserID string) (*TrackResult, error) {
	return s.track(ctx, app, endUserID, models.ActionQueryTracked, func(meta *models.ChatMetadata, userHash string, now time.Time) {
		meta.TotalQueries++
		if a := meta.ActivityFor(userHash); a != nil {
			a.QueryCount++
			a.LastActive = now
		}
	})
}

// track runs one incremental update against the sub-chat and its parent.
func (s *Service) track(ctx context.Context, app *models.App, endUserID, action string, apply func(*models.ChatMetadata, string, time.Time)) (*TrackResult, error) {
	uac, err := s.auths.GetActiveAuthorization(ctx, app.ID, endUserID)
	if err != nil {
		return nil, err
	}
	if uac == nil {
		return nil, ErrNoActiveAuthorization
	}

	subchat, err := s.chats.GetChatByID(ctx, uac.ChatID)
	if err != nil {
		return nil, err
	}
	if subchat == nil {
		return nil, ErrChatNotFound
	}

	now := time.Now().UTC()
	userHash := HashUserID(endUserID)
	result := &TrackResult{}

	meta := subchat.AppMetadata
	if meta == nil {
		meta = models.NewChatMetadata()
	}
	apply(meta, userHash, now)
	meta.UpdatedAt = now
	if err := s.chats.UpdateMetadata(ctx, subchat.ID, meta); err != nil {
		return nil, err
	}
	result.SubchatUpdated = true

	// Parent rollup is eventually consistent; nothing past this point fails
	// the call.
	parent, err := s.resolveParent(ctx, subchat)
	if err != nil {
		result.ResolutionFailed = true
		slog.Warn("dropping parent rollup update",
			"subchat_id", subchat.ID,
			"app_id", app.ID,
			"error", err)
	} else {
		parentMeta := parent.AppMetadata
		if parentMeta == nil {
			parentMeta = models.NewChatMetadata()
		}
		apply(parentMeta, userHash, now)
		parentMeta.UpdatedAt = now
		if err := s.chats.UpdateMetadata(ctx, parent.ID, parentMeta); err != nil {
			slog.Warn("failed to update parent rollup",
				"parent_id", parent.ID,
				"subchat_id", subchat.ID,
				"error", err)
		} else {
			result.ParentUpdated = true
		}
	}

	s.recorder.Record(&models.AuditLog{
		AppID:     app.ID,
		EndUserID: &endUserID,
		ChatID:    &subchat.ID,
		Action:    action,
		Allowed:   true,
		Metadata: map[string]interface{}{
			"parent_updated":    result.ParentUpdated,
			"resolution_failed": result.ResolutionFailed,
		},
	})

	return result, nil
}

// TrackSubchatCreated bumps the parent rollup for a freshly provisioned
// sub-chat. Entirely best-effort: provisioning already succeeded and must not
// be failed retroactively, so errors are logged and swallowed.
func (s *Service) TrackSubchatCreated(ctx context.Context, subchat *models.Chat, endUserID string) {
	parent, err := s.resolveParent(ctx, subchat)
	if err != nil {
		slog.Warn("dropping parent rollup update for new sub-chat",
			"subchat_id", subchat.ID,
			"error", err)
		return
	}

	now := time.Now().UTC()
	meta := parent.AppMetadata
	if meta == nil {
		meta = models.NewChatMetadata()
	}
	meta.TotalSubchats++
	meta.TotalUsers++
	if a := meta.ActivityFor(HashUserID(endUserID)); a != nil {
		a.LastActive = now
	}
	meta.UpdatedAt = now

	if err := s.chats.UpdateMetadata(ctx, parent.ID, meta); err != nil {
		slog.Warn("failed to update parent rollup for new sub-chat",
			"parent_id", parent.ID,
			"subchat_id", subchat.ID,
			"error", err)
	}
}

// fileType buckets a filename by extension for the file-type histogram.
func fileType(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}
