// Package authz implements request authorization for the two credential
// classes the platform accepts: long-lived app secrets used by developer
// backends for management and provisioning calls, and short-lived scoped
// tokens issued per end-user for query and upload calls. It also resolves the
// effective capability set for an (app, end-user) pair, which is always the
// intersection of the app's allowed capabilities and the sub-chat
// authorization's granted capabilities. Capability checks fail closed:
// anything outside the intersection is denied.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/appchat-platform/appchat-platform/internal/auth"
	"github.com/appchat-platform/appchat-platform/internal/crypto"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
)

var (
	// ErrAppInactive is returned when the credential maps to a deactivated app.
	ErrAppInactive = errors.New("authz: app is deactivated")

	// ErrNoActiveAuthorization is returned when capability resolution finds no
	// non-revoked sub-chat authorization for the pair.
	ErrNoActiveAuthorization = errors.New("authz: no active authorization for end-user")

	// ErrNoSigningSecret is returned when a scoped token names an app that has
	// never issued a token and therefore has no JWT secret yet.
	ErrNoSigningSecret = errors.New("authz: app has no token signing secret")
)

// Validator authenticates app secrets and scoped tokens against stored app
// state.
type Validator struct {
	apps   *repositories.AppRepository
	chats  *repositories.UserAppChatRepository
	cipher *crypto.SecretCipher
}

// NewValidator creates a validator. cipher must be the same cipher used to
// seal per-app JWT secrets at rest.
func NewValidator(apps *repositories.AppRepository, chats *repositories.UserAppChatRepository, cipher *crypto.SecretCipher) *Validator {
	return &Validator{
		apps:   apps,
		chats:  chats,
		cipher: cipher,
	}
}

// ValidateAppSecret authenticates a raw app secret. The stored display prefix
// narrows the candidate set with an indexed query, then bcrypt comparison
// runs only on those few rows. Returns (nil, nil) when no active app matches.
func (v *Validator) ValidateAppSecret(ctx context.Context, providedSecret string) (*models.App, error) {
	prefix := providedSecret
	if len(providedSecret) > auth.DisplayPrefixLength {
		prefix = providedSecret[:auth.DisplayPrefixLength]
	}

	candidates, err := v.apps.GetAppsBySecretPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	for _, app := range candidates {
		if auth.ValidateAppSecret(providedSecret, app.SecretHash) {
			return app, nil
		}
	}

	return nil, nil
}

// ValidateScopedToken authenticates a scoped end-user token. The app ID is
// read from the unverified claims first so the right per-app signing secret
// can be loaded; the signature is then verified against it. When
// expectedEndUser is non-empty, a token whose end_user_id claim names anyone
// else fails with auth.ErrIdentityMismatch rather than being silently
// substituted.
func (v *Validator) ValidateScopedToken(ctx context.Context, tokenString, expectedEndUser string) (*models.App, *auth.ScopedClaims, error) {
	appID, err := auth.ExtractAppIDUnverified(tokenString)
	if err != nil {
		return nil, nil, err
	}

	app, err := v.apps.GetAppByID(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	if app == nil {
		return nil, nil, auth.ErrMalformedToken
	}
	if !app.IsActive {
		return nil, nil, ErrAppInactive
	}
	if app.JWTSecretEnc == nil || *app.JWTSecretEnc == "" {
		return nil, nil, ErrNoSigningSecret
	}

	signingSecret, err := v.cipher.Open(*app.JWTSecretEnc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt signing secret: %w", err)
	}

	claims, err := auth.ValidateScopedToken(tokenString, signingSecret)
	if err != nil {
		return nil, nil, err
	}
	if claims.AppID != app.ID {
		// A token whose signed app_id disagrees with the unverified one was
		// tampered with between parse and verify.
		return nil, nil, auth.ErrMalformedToken
	}

	if expectedEndUser != "" && claims.EndUserID != expectedEndUser {
		return nil, nil, auth.ErrIdentityMismatch
	}

	return app, claims, nil
}

// ResolveCapabilities computes the effective capability set for an
// (app, end-user) pair: the intersection of the app's allowed capabilities
// and the sub-chat authorization's granted capabilities. The intersection
// caps stored grants that are broader than the app's current policy.
func (v *Validator) ResolveCapabilities(ctx context.Context, appID, endUserID string) ([]string, error) {
	app, err := v.apps.GetAppByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, ErrNoActiveAuthorization
	}
	if !app.IsActive {
		return nil, ErrAppInactive
	}

	uac, err := v.chats.GetActiveAuthorization(ctx, appID, endUserID)
	if err != nil {
		return nil, err
	}
	if uac == nil {
		return nil, ErrNoActiveAuthorization
	}

	return auth.IntersectCapabilities(app.AllowedCapabilities, uac.Capabilities), nil
}

// CheckCapability reports whether the pair's effective capability set includes
// the requested capability. Unknown pairs and inactive apps resolve to false
// with the underlying error preserved for auditability.
func (v *Validator) CheckCapability(ctx context.Context, appID, endUserID string, requested auth.Capability) (bool, error) {
	caps, err := v.ResolveCapabilities(ctx, appID, endUserID)
	if err != nil {
		return false, err
	}
	return auth.HasCapability(caps, requested), nil
}
