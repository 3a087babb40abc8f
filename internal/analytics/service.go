package analytics

import (
	"context"
	"errors"

	"github.com/appchat-platform/appchat-platform/internal/audit"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
	"github.com/appchat-platform/appchat-platform/internal/telemetry"
)

var (
	// ErrChatNotFound is returned when the named conversation does not exist.
	ErrChatNotFound = errors.New("analytics: conversation not found")

	// ErrNoActiveAuthorization is returned by trackers when the end-user has
	// no active sub-chat under the app.
	ErrNoActiveAuthorization = errors.New("analytics: no active authorization for end-user")

	// ErrParentUnresolved is the resolution-failure sentinel: neither the
	// sub-chat's own back-reference nor the app's declared parent produced a
	// live conversation. The triggering update is dropped, never
	// misattributed.
	ErrParentUnresolved = errors.New("analytics: parent conversation could not be resolved")
)

// Service maintains analytics rollups.
type Service struct {
	chats    *repositories.ChatRepository
	apps     *repositories.AppRepository
	auths    *repositories.UserAppChatRepository
	legacy   *repositories.LegacyLinkRepository
	recorder *audit.Recorder
}

// NewService creates the analytics service.
func NewService(chats *repositories.ChatRepository, apps *repositories.AppRepository, auths *repositories.UserAppChatRepository, legacy *repositories.LegacyLinkRepository, recorder *audit.Recorder) *Service {
	return &Service{
		chats:    chats,
		apps:     apps,
		auths:    auths,
		legacy:   legacy,
		recorder: recorder,
	}
}

// resolveParent finds the parent conversation for a sub-chat. Order matters
// and is fixed: the sub-chat's explicit back-reference first, then the owning
// app's declared parent. Returns ErrParentUnresolved when neither pattern
// yields a live conversation.
func (s *Service) resolveParent(ctx context.Context, subchat *models.Chat) (*models.Chat, error) {
	if subchat.ParentChatID != nil && *subchat.ParentChatID != "" {
		parent, err := s.chats.GetChatByID(ctx, *subchat.ParentChatID)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			return parent, nil
		}
	}

	if subchat.AppID != nil && *subchat.AppID != "" {
		app, err := s.apps.GetAppByID(ctx, *subchat.AppID)
		if err != nil {
			return nil, err
		}
		if app != nil && app.ParentChatID != nil && *app.ParentChatID != "" {
			parent, err := s.chats.GetChatByID(ctx, *app.ParentChatID)
			if err != nil {
				return nil, err
			}
			if parent != nil {
				return parent, nil
			}
		}
	}

	telemetry.ParentResolutionFailuresTotal.Inc()
	return nil, ErrParentUnresolved
}
