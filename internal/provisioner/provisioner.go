// Package provisioner owns the sub-chat lifecycle: creating the private,
// end-user-owned conversation bound to an (app, end-user) pair, serving
// lookups against it, and terminally revoking it. Provisioning is idempotent
// per pair; concurrent requests converge on one authorization through the
// partial unique index on (app_id, end_user_id) WHERE NOT is_revoked. A
// revoked pair always gets a brand new conversation on re-provision, never
// the old one back.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appchat-platform/appchat-platform/internal/audit"
	"github.com/appchat-platform/appchat-platform/internal/auth"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
	"github.com/appchat-platform/appchat-platform/internal/safego"
	"github.com/appchat-platform/appchat-platform/internal/telemetry"
)

var (
	// ErrAppInactive is returned when provisioning against a deactivated app.
	ErrAppInactive = errors.New("provisioner: app is deactivated")

	// ErrRevokeNotPermitted is returned when the revoke caller is neither the
	// owning developer nor the end-user.
	ErrRevokeNotPermitted = errors.New("provisioner: caller may not revoke this authorization")

	// ErrNoActiveAuthorization is returned by Revoke when nothing is active
	// for the pair.
	ErrNoActiveAuthorization = errors.New("provisioner: no active authorization for end-user")
)

// rollupTracker is the slice of the analytics service the provisioner needs.
// Updates are best-effort; implementations must not fail the caller.
type rollupTracker interface {
	TrackSubchatCreated(ctx context.Context, subchat *models.Chat, endUserID string)
}

// ProvisionResult describes the authorization returned to the app backend.
type ProvisionResult struct {
	ChatID       string
	IsNew        bool
	Capabilities []string
}

// SubchatInfo is the read-path view of an active authorization.
type SubchatInfo struct {
	ChatID       string
	Capabilities []string
	AuthorizedAt time.Time
	LastActiveAt time.Time
}

// Provisioner manages sub-chat authorizations.
type Provisioner struct {
	chats    *repositories.ChatRepository
	auths    *repositories.UserAppChatRepository
	tracker  rollupTracker
	recorder *audit.Recorder
}

// New creates a provisioner. tracker may be nil when analytics is disabled.
func New(chats *repositories.ChatRepository, auths *repositories.UserAppChatRepository, tracker rollupTracker, recorder *audit.Recorder) *Provisioner {
	return &Provisioner{
		chats:    chats,
		auths:    auths,
		tracker:  tracker,
		recorder: recorder,
	}
}

// Provision returns the pair's existing authorization unchanged, or creates a
// fresh private conversation and authorization when none is active. Repeat
// calls are side-effect-free and never escalate the originally granted
// capabilities. requestedCapabilities defaults to the app's full allowed set.
func (p *Provisioner) Provision(ctx context.Context, app *models.App, endUserID string, requestedCapabilities []string) (*ProvisionResult, error) {
	if endUserID == "" {
		return nil, fmt.Errorf("provisioner: end-user id is required")
	}
	if !app.IsActive {
		return nil, ErrAppInactive
	}

	existing, err := p.auths.GetActiveAuthorization(ctx, app.ID, endUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		telemetry.SubchatProvisionsTotal.WithLabelValues("existing").Inc()
		p.recordDecision(app.ID, endUserID, existing.ChatID, models.ActionSubchatProvision, true, map[string]interface{}{
			"capabilities": existing.Capabilities,
			"is_new":       false,
		})
		return &ProvisionResult{
			ChatID:       existing.ChatID,
			IsNew:        false,
			Capabilities: existing.Capabilities,
		}, nil
	}

	capabilities := requestedCapabilities
	if len(capabilities) == 0 {
		capabilities = app.AllowedCapabilities
	}
	if err := auth.ValidateCapabilities(capabilities); err != nil {
		p.recordDecision(app.ID, endUserID, "", models.ActionSubchatProvision, false, map[string]interface{}{
			"reason": err.Error(),
		})
		return nil, err
	}
	if outside := capabilitiesOutside(capabilities, app.AllowedCapabilities); len(outside) > 0 {
		err := fmt.Errorf("provisioner: invalid capabilities: %v not allowed for app", outside)
		p.recordDecision(app.ID, endUserID, "", models.ActionSubchatProvision, false, map[string]interface{}{
			"reason": err.Error(),
		})
		return nil, err
	}

	subchat := &models.Chat{
		ID:           uuid.New().String(),
		OwnerID:      endUserID,
		Title:        fmt.Sprintf("%s chat", app.Name),
		Visibility:   models.VisibilityPrivate,
		ChatType:     models.ChatTypeSubchat,
		ParentChatID: app.ParentChatID,
		AppID:        &app.ID,
		AppMetadata:  models.NewChatMetadata(),
	}
	if err := p.chats.CreateChat(ctx, subchat); err != nil {
		return nil, err
	}

	uac := &models.UserAppChat{
		AppID:        app.ID,
		EndUserID:    endUserID,
		ChatID:       subchat.ID,
		Capabilities: capabilities,
	}
	if err := p.auths.CreateAuthorization(ctx, uac); err != nil {
		if repositories.IsUniqueViolation(err) {
			// A concurrent request won the pair. Theirs is the authorization;
			// archive the conversation we just created so it never serves.
			return p.adoptConcurrent(ctx, app.ID, endUserID, subchat.ID)
		}
		return nil, err
	}

	if p.tracker != nil {
		p.tracker.TrackSubchatCreated(ctx, subchat, endUserID)
	}

	telemetry.SubchatProvisionsTotal.WithLabelValues("new").Inc()
	p.recordDecision(app.ID, endUserID, subchat.ID, models.ActionSubchatProvision, true, map[string]interface{}{
		"capabilities": capabilities,
		"is_new":       true,
	})

	return &ProvisionResult{
		ChatID:       subchat.ID,
		IsNew:        true,
		Capabilities: capabilities,
	}, nil
}

// adoptConcurrent resolves a unique-index conflict by returning the winning
// authorization as idempotent success.
func (p *Provisioner) adoptConcurrent(ctx context.Context, appID, endUserID, orphanChatID string) (*ProvisionResult, error) {
	winner, err := p.auths.GetActiveAuthorization(ctx, appID, endUserID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, fmt.Errorf("provisioner: concurrent provision conflict with no surviving authorization for %s", appID)
	}

	// Best-effort cleanup of the orphaned conversation.
	safego.Go(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.chats.ArchiveChat(cleanupCtx, orphanChatID)
	})

	telemetry.SubchatProvisionsTotal.WithLabelValues("existing").Inc()
	p.recordDecision(appID, endUserID, winner.ChatID, models.ActionSubchatProvision, true, map[string]interface{}{
		"capabilities": winner.Capabilities,
		"is_new":       false,
	})
	return &ProvisionResult{
		ChatID:       winner.ChatID,
		IsNew:        false,
		Capabilities: winner.Capabilities,
	}, nil
}

// GetSubchat returns the pair's active authorization, or nil when none
// exists (absent and revoked are indistinguishable to the caller). Each hit
// bumps last_active_at asynchronously.
func (p *Provisioner) GetSubchat(ctx context.Context, app *models.App, endUserID string) (*SubchatInfo, error) {
	uac, err := p.auths.GetActiveAuthorization(ctx, app.ID, endUserID)
	if err != nil {
		return nil, err
	}
	if uac == nil {
		return nil, nil
	}

	id := uac.ID
	safego.Go(func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.auths.TouchLastActive(touchCtx, id)
	})

	return &SubchatInfo{
		ChatID:       uac.ChatID,
		Capabilities: uac.Capabilities,
		AuthorizedAt: uac.AuthorizedAt,
		LastActiveAt: uac.LastActiveAt,
	}, nil
}

// Revoke terminally revokes the pair's authorization and archives its
// conversation. Permitted to the owning developer or the end-user themself;
// the audit row records which. Re-provisioning later creates a new
// conversation, never this one.
func (p *Provisioner) Revoke(ctx context.Context, app *models.App, endUserID, callerID string) error {
	if callerID != app.DeveloperID && callerID != endUserID {
		p.recordDecision(app.ID, endUserID, "", models.ActionSubchatRevoke, false, map[string]interface{}{
			"caller": callerID,
			"reason": "caller is neither owning developer nor end-user",
		})
		return ErrRevokeNotPermitted
	}

	revoked, err := p.auths.RevokeAuthorization(ctx, app.ID, endUserID, callerID)
	if err != nil {
		return err
	}
	if revoked == nil {
		return ErrNoActiveAuthorization
	}

	if err := p.chats.ArchiveChat(ctx, revoked.ChatID); err != nil {
		// The authorization is already revoked; an unarchived chat is
		// unreachable through it, so log-and-continue beats failing the call.
		p.recordDecision(app.ID, endUserID, revoked.ChatID, models.ActionSubchatRevoke, true, map[string]interface{}{
			"caller":        callerID,
			"archive_error": err.Error(),
		})
		return nil
	}

	p.recordDecision(app.ID, endUserID, revoked.ChatID, models.ActionSubchatRevoke, true, map[string]interface{}{
		"caller": callerID,
	})
	return nil
}

// recordDecision writes one audit row for a provisioning decision.
func (p *Provisioner) recordDecision(appID, endUserID, chatID, action string, allowed bool, metadata map[string]interface{}) {
	log := &models.AuditLog{
		AppID:    appID,
		Action:   action,
		Allowed:  allowed,
		Metadata: metadata,
	}
	if endUserID != "" {
		log.EndUserID = &endUserID
	}
	if chatID != "" {
		log.ChatID = &chatID
	}
	p.recorder.Record(log)
}

// capabilitiesOutside returns the entries of requested not present in allowed.
func capabilitiesOutside(requested, allowed []string) []string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		allowedSet[c] = true
	}
	var outside []string
	for _, c := range requested {
		if !allowedSet[c] {
			outside = append(outside, c)
		}
	}
	return outside
}
