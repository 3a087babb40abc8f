// Package auth - usertoken.go handles scoped end-user tokens: short-lived JWTs bound to
// one (appId, endUserId) pair and signed with the issuing app's own signing secret, so
// tokens from one app can never be replayed against another.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultScopedTokenTTL is how long a scoped token remains valid unless overridden
const DefaultScopedTokenTTL = 24 * time.Hour

var (
	// ErrIdentityMismatch is returned when a valid token is presented for a
	// different end-user than the one named in the request. This must stay
	// distinct from a generic invalid-token error: it indicates an app trying
	// to use one user's credential on behalf of another.
	ErrIdentityMismatch = errors.New("auth: token identity does not match requested end-user")

	// ErrMalformedToken is returned when a token cannot be parsed at all
	ErrMalformedToken = errors.New("auth: malformed scoped token")
)

// ScopedClaims represents the claims of a scoped end-user token
type ScopedClaims struct {
	AppID        string   `json:"app_id"`
	EndUserID    string   `json:"end_user_id"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// GenerateScopedToken creates a scoped token for one end-user of one app,
// signed with the app's decrypted signing secret.
func GenerateScopedToken(appID, endUserID string, capabilities []string, signingSecret string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = DefaultScopedTokenTTL
	}

	claims := &ScopedClaims{
		AppID:        appID,
		EndUserID:    endUserID,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "appchat-platform",
			Subject:   endUserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(signingSecret))
}

// ExtractAppIDUnverified reads the app_id claim without verifying the
// signature. The caller needs it to load the right app and its signing secret
// before the real verification in ValidateScopedToken; nothing else may be
// trusted from an unverified parse.
func ExtractAppIDUnverified(tokenString string) (string, error) {
	parser := jwt.NewParser()
	claims := &ScopedClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return "", ErrMalformedToken
	}
	if claims.AppID == "" {
		return "", ErrMalformedToken
	}
	return claims.AppID, nil
}

// ValidateScopedToken parses and verifies a scoped token against the app's
// signing secret and returns its claims.
func ValidateScopedToken(tokenString, signingSecret string) (*ScopedClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ScopedClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(signingSecret), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*ScopedClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}
