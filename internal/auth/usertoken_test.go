package auth

import (
	"testing"
	"time"
)

const testSigningSecret = "per-app-signing-secret-0123456789ab"

func TestGenerateAndValidateScopedToken(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateScopedToken("app_abc123def456", "user-42", []string{"ask", "upload"}, testSigningSecret, time.Hour)
		if err != nil {
			t.Fatalf("GenerateScopedToken() error: %v", err)
		}

		claims, err := ValidateScopedToken(token, testSigningSecret)
		if err != nil {
			t.Fatalf("ValidateScopedToken() error: %v", err)
		}
		if claims.AppID != "app_abc123def456" {
			t.Errorf("claims.AppID = %q, want %q", claims.AppID, "app_abc123def456")
		}
		if claims.EndUserID != "user-42" {
			t.Errorf("claims.EndUserID = %q, want %q", claims.EndUserID, "user-42")
		}
		if len(claims.Capabilities) != 2 || claims.Capabilities[0] != "ask" {
			t.Errorf("claims.Capabilities = %v, want [ask upload]", claims.Capabilities)
		}
	})

	t.Run("default TTL when zero duration", func(t *testing.T) {
		token, err := GenerateScopedToken("app_abc123def456", "user-42", nil, testSigningSecret, 0)
		if err != nil {
			t.Fatalf("GenerateScopedToken() error: %v", err)
		}
		claims, err := ValidateScopedToken(token, testSigningSecret)
		if err != nil {
			t.Fatalf("ValidateScopedToken() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 23*time.Hour || remaining > 25*time.Hour {
			t.Errorf("default expiry remaining = %v, want ~24h", remaining)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := GenerateScopedToken("app_abc123def456", "user-42", nil, testSigningSecret, -time.Second)
		if err != nil {
			t.Fatalf("GenerateScopedToken() error: %v", err)
		}
		if _, err := ValidateScopedToken(token, testSigningSecret); err == nil {
			t.Error("ValidateScopedToken() expected error for expired token, got nil")
		}
	})

	t.Run("token signed with another app's secret is rejected", func(t *testing.T) {
		token, err := GenerateScopedToken("app_abc123def456", "user-42", nil, "other-app-signing-secret-xyz", time.Hour)
		if err != nil {
			t.Fatalf("GenerateScopedToken() error: %v", err)
		}
		if _, err := ValidateScopedToken(token, testSigningSecret); err == nil {
			t.Error("ValidateScopedToken() expected error for token from another app, got nil")
		}
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		if _, err := ValidateScopedToken("not.a.token", testSigningSecret); err == nil {
			t.Error("ValidateScopedToken() expected error for garbage token, got nil")
		}
	})
}

func TestExtractAppIDUnverified(t *testing.T) {
	t.Run("reads app_id without the signing secret", func(t *testing.T) {
		token, err := GenerateScopedToken("app_abc123def456", "user-42", nil, testSigningSecret, time.Hour)
		if err != nil {
			t.Fatalf("GenerateScopedToken() error: %v", err)
		}
		appID, err := ExtractAppIDUnverified(token)
		if err != nil {
			t.Fatalf("ExtractAppIDUnverified() error: %v", err)
		}
		if appID != "app_abc123def456" {
			t.Errorf("ExtractAppIDUnverified() = %q, want %q", appID, "app_abc123def456")
		}
	})

	t.Run("malformed token", func(t *testing.T) {
		if _, err := ExtractAppIDUnverified("garbage"); err != ErrMalformedToken {
			t.Errorf("ExtractAppIDUnverified() error = %v, want %v", err, ErrMalformedToken)
		}
	})

	t.Run("token without app_id claim", func(t *testing.T) {
		// A developer JWT has no app_id claim
		t.Setenv("ACP_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")
		resetJWTSecret()
		token, err := GenerateJWT("dev-1", "d@example.com", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		if _, err := ExtractAppIDUnverified(token); err != ErrMalformedToken {
			t.Errorf("ExtractAppIDUnverified() error = %v, want %v", err, ErrMalformedToken)
		}
	})
}
