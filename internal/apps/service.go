// Package apps implements the credential store: app creation, secret and
// signing-key rotation, capability policy updates, and soft deactivation.
// Plaintext secrets exist only in the return value of the call that minted
// them; every read path returns apps with secret material stripped. Apps are
// never physically deleted so audit rows always have a referent.
package apps

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/audit"
	"github.com/appchat-platform/appchat-platform/internal/auth"
	"github.com/appchat-platform/appchat-platform/internal/crypto"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
)

var (
	// ErrAppNotFound is returned when the app does not exist.
	ErrAppNotFound = errors.New("apps: app not found")

	// ErrNotOwner is returned when the caller is not the app's developer.
	ErrNotOwner = errors.New("apps: caller does not own this app")

	// ErrAppInactive is returned for mutations against a deactivated app.
	ErrAppInactive = errors.New("apps: app is deactivated")

	// ErrParentChatNotFound is returned when the named parent conversation
	// does not exist.
	ErrParentChatNotFound = errors.New("apps: parent conversation not found")
)

// CreatedApp carries the one-time plaintext secrets minted at creation.
type CreatedApp struct {
	models.AppWithSecret
	JWTSecret string
}

// Service is the credential store.
type Service struct {
	apps     *repositories.AppRepository
	chats    *repositories.ChatRepository
	cipher   *crypto.SecretCipher
	recorder *audit.Recorder
}

// NewService creates the credential store service.
func NewService(apps *repositories.AppRepository, chats *repositories.ChatRepository, cipher *crypto.SecretCipher, recorder *audit.Recorder) *Service {
	return &Service{
		apps:     apps,
		chats:    chats,
		cipher:   cipher,
		recorder: recorder,
	}
}

// Create mints a new app for the developer. The returned plaintext app secret
// and token signing secret are shown exactly once; only the bcrypt hash and
// the sealed signing secret are stored. An empty capability list gets the
// default grant.
func (s *Service) Create(ctx context.Context, developerID, name string, parentChatID *string, capabilities []string) (*CreatedApp, error) {
	if name == "" {
		return nil, fmt.Errorf("apps: name is required")
	}

	if len(capabilities) == 0 {
		capabilities = auth.GetDefaultCapabilities()
	}
	if err := auth.ValidateCapabilities(capabilities); err != nil {
		return nil, err
	}

	if parentChatID != nil {
		chat, err := s.chats.GetChatByID(ctx, *parentChatID)
		if err != nil {
			return nil, err
		}
		if chat == nil {
			return nil, ErrParentChatNotFound
		}
	}

	appID, err := auth.GenerateAppID()
	if err != nil {
		return nil, err
	}
	secret, hash, displayPrefix, err := auth.GenerateAppSecret()
	if err != nil {
		return nil, err
	}
	jwtSecret, jwtSecretEnc, err := s.newSigningSecret()
	if err != nil {
		return nil, err
	}

	app := &models.App{
		ID:                  appID,
		DeveloperID:         developerID,
		Name:                name,
		SecretHash:          hash,
		SecretPrefix:        displayPrefix,
		JWTSecretEnc:        &jwtSecretEnc,
		ParentChatID:        parentChatID,
		AllowedCapabilities: capabilities,
		IsActive:            true,
	}
	if err := s.apps.CreateApp(ctx, app); err != nil {
		return nil, err
	}

	s.recorder.Record(&models.AuditLog{
		AppID:   app.ID,
		Action:  models.ActionAppCreate,
		Allowed: true,
		Metadata: map[string]interface{}{
			"developer_id": developerID,
			"name":         name,
			"capabilities": capabilities,
		},
	})

	created := &CreatedApp{
		AppWithSecret: models.AppWithSecret{App: *app, Secret: secret},
		JWTSecret:     jwtSecret,
	}
	sanitize(&created.App)
	return created, nil
}

// RotateSecret replaces the app secret in place. The old secret fails
// validation from this point on; there is no grace period. Returns the new
// plaintext secret exactly once.
func (s *Service) RotateSecret(ctx context.Context, appID, callerDeveloperID string) (*models.AppWithSecret, error) {
	app, err := s.ownedActiveApp(ctx, appID, callerDeveloperID)
	if err != nil {
		return nil, err
	}

	secret, hash, displayPrefix, err := auth.GenerateAppSecret()
	if err != nil {
		return nil, err
	}
	if err := s.apps.RotateSecret(ctx, appID, hash, displayPrefix); err != nil {
		return nil, err
	}

	now := time.Now()
	app.SecretHash = hash
	app.SecretPrefix = displayPrefix
	app.SecretRotatedAt = &now

	s.recorder.Record(&models.AuditLog{
		AppID:   appID,
		Action:  models.ActionAppSecretRotate,
		Allowed: true,
		Metadata: map[string]interface{}{
			"developer_id": callerDeveloperID,
		},
	})

	result := &models.AppWithSecret{App: *app, Secret: secret}
	sanitize(&result.App)
	return result, nil
}

// RotateJWTSecret replaces the token signing secret. Scoped tokens signed
// with the old secret fail verification immediately. Returns the new
// plaintext signing secret exactly once.
func (s *Service) RotateJWTSecret(ctx context.Context, appID, callerDeveloperID string) (string, error) {
	if _, err := s.ownedActiveApp(ctx, appID, callerDeveloperID); err != nil {
		return "", err
	}

	jwtSecret, jwtSecretEnc, err := s.newSigningSecret()
	if err != nil {
		return "", err
	}
	if err := s.apps.RotateJWTSecret(ctx, appID, jwtSecretEnc); err != nil {
		return "", err
	}

	s.recorder.Record(&models.AuditLog{
		AppID:   appID,
		Action:  models.ActionAppJWTRotate,
		Allowed: true,
		Metadata: map[string]interface{}{
			"developer_id": callerDeveloperID,
		},
	})

	return jwtSecret, nil
}

// UpdateCapabilities replaces the app's allowed capability set. Raw-file
// capabilities are rejected here the same as everywhere else.
func (s *Service) UpdateCapabilities(ctx context.Context, appID, callerDeveloperID string, capabilities []string) error {
	if err := auth.ValidateCapabilities(capabilities); err != nil {
		return err
	}
	if _, err := s.ownedActiveApp(ctx, appID, callerDeveloperID); err != nil {
		return err
	}

	if err := s.apps.UpdateCapabilities(ctx, appID, capabilities); err != nil {
		return err
	}

	s.recorder.Record(&models.AuditLog{
		AppID:   appID,
		Action:  models.ActionAppCapabilities,
		Allowed: true,
		Metadata: map[string]interface{}{
			"developer_id": callerDeveloperID,
			"capabilities": capabilities,
		},
	})
	return nil
}

// Deactivate soft-deletes the app. Existing rows are kept so audit history
// stays referentially intact; all credential validation fails from here on.
func (s *Service) Deactivate(ctx context.Context, appID, callerDeveloperID string) error {
	app, err := s.apps.GetAppByID(ctx, appID)
	if err != nil {
		return err
	}
	if app == nil {
		return ErrAppNotFound
	}
	if app.DeveloperID != callerDeveloperID {
		return ErrNotOwner
	}

	if err := s.apps.DeactivateApp(ctx, appID); err != nil {
		return err
	}

	s.recorder.Record(&models.AuditLog{
		AppID:   appID,
		Action:  models.ActionAppDeactivate,
		Allowed: true,
		Metadata: map[string]interface{}{
			"developer_id": callerDeveloperID,
		},
	})
	return nil
}

// Get returns one app with secret material stripped.
func (s *Service) Get(ctx context.Context, appID, callerDeveloperID string) (*models.App, error) {
	app, err := s.apps.GetAppByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, ErrAppNotFound
	}
	if app.DeveloperID != callerDeveloperID {
		return nil, ErrNotOwner
	}
	sanitize(app)
	return app, nil
}

// List returns the developer's apps with secret material stripped.
func (s *Service) List(ctx context.Context, developerID string) ([]*models.App, error) {
	apps, err := s.apps.ListAppsByDeveloper(ctx, developerID)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		sanitize(app)
	}
	return apps, nil
}

// SigningSecret returns the app's plaintext token signing secret, generating
// and persisting one the first time a legacy app issues a token. The
// conditional-update race means two concurrent first issues converge on one
// secret: the loser re-reads the winner's value.
func (s *Service) SigningSecret(ctx context.Context, app *models.App) (string, error) {
	if app.JWTSecretEnc != nil && *app.JWTSecretEnc != "" {
		return s.cipher.Open(*app.JWTSecretEnc)
	}

	jwtSecret, jwtSecretEnc, err := s.newSigningSecret()
	if err != nil {
		return "", err
	}

	won, err := s.apps.InitJWTSecret(ctx, app.ID, jwtSecretEnc)
	if err != nil {
		return "", err
	}
	if won {
		app.JWTSecretEnc = &jwtSecretEnc
		return jwtSecret, nil
	}

	// Another request initialized the secret first; use theirs.
	current, err := s.apps.GetAppByID(ctx, app.ID)
	if err != nil {
		return "", err
	}
	if current == nil || current.JWTSecretEnc == nil {
		return "", fmt.Errorf("apps: signing secret initialization raced and lost app %s", app.ID)
	}
	app.JWTSecretEnc = current.JWTSecretEnc
	return s.cipher.Open(*current.JWTSecretEnc)
}

// newSigningSecret mints a random signing secret and its sealed form.
func (s *Service) newSigningSecret() (plaintext, sealed string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", err
	}
	plaintext = base64.RawURLEncoding.EncodeToString(key)

	sealed, err = s.cipher.Seal(plaintext)
	if err != nil {
		return "", "", err
	}
	return plaintext, sealed, nil
}

// ownedActiveApp loads the app and checks ownership and active state.
func (s *Service) ownedActiveApp(ctx context.Context, appID, callerDeveloperID string) (*models.App, error) {
	app, err := s.apps.GetAppByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, ErrAppNotFound
	}
	if app.DeveloperID != callerDeveloperID {
		return nil, ErrNotOwner
	}
	if !app.IsActive {
		return nil, ErrAppInactive
	}
	return app, nil
}

// sanitize strips secret material from an app before it crosses a read path.
func sanitize(app *models.App) {
	app.SecretHash = ""
	app.JWTSecretEnc = nil
}
