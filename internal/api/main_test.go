package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/middleware"
)

func TestMain(m *testing.M) {
	os.Setenv("ACP_JWT_SECRET", "test-jwt-secret-that-is-32-chars!!")
	os.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// shared fixtures
// ---------------------------------------------------------------------------

var errDB = errors.New("db error")

var appCols = []string{
	"id", "developer_id", "name", "secret_hash", "secret_prefix",
	"jwt_secret_enc", "parent_chat_id", "allowed_capabilities",
	"is_active", "created_at", "secret_rotated_at", "jwt_rotated_at",
}

var uacCols = []string{
	"id", "app_id", "end_user_id", "chat_id", "capabilities",
	"is_revoked", "authorized_at", "last_active_at", "revoked_at", "revoked_by",
}

// activeAppRow returns one app row with the default grant.
func activeAppRow(developerID string) *sqlmock.Rows {
	return sqlmock.NewRows(appCols).AddRow(
		"app_abc123def456", developerID, "Support Bot", "$2a$12$hash", "acs_abc123",
		nil, "chat-parent-1", `["ask","upload"]`,
		true, time.Now(), nil, nil,
	)
}

// fakeDeveloperAuth stands in for the JWT guard in handler-level tests.
func fakeDeveloperAuth(developerID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextDeveloperID, developerID)
		c.Next()
	}
}

func performRequest(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
