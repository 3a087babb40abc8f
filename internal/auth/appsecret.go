// Package auth - appsecret.go handles app identifier and app secret generation and validation.
// App secrets are shown to the developer exactly once at creation/rotation time; only a
// bcrypt hash and a short display prefix are stored.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// AppSecretPrefix is the fixed prefix of every app secret
	AppSecretPrefix = "acs"

	// AppSecretLength is the length of the random part of the secret in bytes
	AppSecretLength = 32

	// DisplayPrefixLength is the number of characters to show in displays
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// appIDBytes is the number of random bytes behind an app identifier
	appIDBytes = 6
)

// GenerateAppID creates a new opaque app identifier of the form "app_<12 hex chars>"
func GenerateAppID() (string, error) {
	randomBytes := make([]byte, appIDBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate app ID: %w", err)
	}
	return fmt.Sprintf("app_%s", hex.EncodeToString(randomBytes)), nil
}

// GenerateAppSecret creates a new random app secret
// Returns: full secret (to show once), bcrypt hash (to store), display prefix
func GenerateAppSecret() (secret string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, AppSecretLength)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullSecret := fmt.Sprintf("%s_%s", AppSecretPrefix, randomPart)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullSecret), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash app secret: %w", err)
	}

	displayPrefixStr := fullSecret
	if len(fullSecret) > DisplayPrefixLength {
		displayPrefixStr = fullSecret[:DisplayPrefixLength]
	}

	return fullSecret, string(hashBytes), displayPrefixStr, nil
}

// ValidateAppSecret checks if a provided secret matches the stored hash.
// bcrypt comparison is inherently constant-time with respect to the hash.
func ValidateAppSecret(providedSecret, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedSecret))
	return err == nil
}

// ExtractBearerCredential extracts the credential from an Authorization header
// Expected format: "Bearer acs_abc123..." or "Bearer <jwt>"
func ExtractBearerCredential(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	credential := strings.TrimPrefix(header, "Bearer ")
	credential = strings.TrimSpace(credential)

	if credential == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}

	return credential, nil
}

// IsAppSecret reports whether a bearer credential looks like an app secret
// rather than a JWT. Used by middleware that accepts either credential class.
func IsAppSecret(credential string) bool {
	return strings.HasPrefix(credential, AppSecretPrefix+"_")
}
