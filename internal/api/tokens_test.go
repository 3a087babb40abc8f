package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/apps"
	"github.com/appchat-platform/appchat-platform/internal/audit"
	"github.com/appchat-platform/appchat-platform/internal/auth"
	"github.com/appchat-platform/appchat-platform/internal/authz"
	"github.com/appchat-platform/appchat-platform/internal/crypto"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
)

const testSigningSecret = "scoped-token-signing-secret-32ch"

// newTokenRouter builds the issuance and check routes over one mock DB. The
// context app carries a sealed signing secret so issuance needs no extra
// round trip.
func newTokenRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cipher, err := crypto.NewSecretCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSecretCipher: %v", err)
	}
	sealed, err := cipher.Seal(testSigningSecret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	appRepo := repositories.NewAppRepository(db)
	uacRepo := repositories.NewUserAppChatRepository(db)
	validator := authz.NewValidator(appRepo, uacRepo, cipher)
	appService := apps.NewService(appRepo, repositories.NewChatRepository(db), cipher, nil)
	h := NewTokenHandlers(validator, appService, nil, time.Hour)

	app := testApp()
	app.JWTSecretEnc = &sealed

	router := gin.New()
	router.POST("/tokens", fakeAppAuth(app), h.IssueHandler())
	router.POST("/access-log", fakeAppAuth(app), h.CheckHandler())
	return router, mock
}

// capturingAuditStore collects rows written through the recorder. Writes land
// on a channel because recording is asynchronous.
type capturingAuditStore struct {
	logs chan *models.AuditLog
}

func (s *capturingAuditStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.logs <- log
	return nil
}

// newRecordingTokenRouter is newTokenRouter with a live audit recorder whose
// writes are observable on the returned channel.
func newRecordingTokenRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, chan *models.AuditLog) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cipher, err := crypto.NewSecretCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSecretCipher: %v", err)
	}
	sealed, err := cipher.Seal(testSigningSecret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	logs := make(chan *models.AuditLog, 4)
	recorder := audit.NewRecorder(&capturingAuditStore{logs: logs}, nil, true)

	appRepo := repositories.NewAppRepository(db)
	uacRepo := repositories.NewUserAppChatRepository(db)
	validator := authz.NewValidator(appRepo, uacRepo, cipher)
	appService := apps.NewService(appRepo, repositories.NewChatRepository(db), cipher, nil)
	h := NewTokenHandlers(validator, appService, recorder, time.Hour)

	app := testApp()
	app.JWTSecretEnc = &sealed

	router := gin.New()
	router.POST("/access-log", fakeAppAuth(app), h.CheckHandler())
	return router, mock, logs
}

func waitAuditLog(t *testing.T, logs chan *models.AuditLog) *models.AuditLog {
	t.Helper()
	select {
	case log := <-logs:
		return log
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit record")
		return nil
	}
}

// ---------------------------------------------------------------------------
// issuance
// ---------------------------------------------------------------------------

func TestIssueToken_DefaultsToEffectiveSet(t *testing.T) {
	router, mock := newTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(activeUACRow("chat-sub-1"))

	w := performRequest(router, http.MethodPost, "/tokens", `{"end_user_id":"user-42"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Token        string   `json:"token"`
		TokenType    string   `json:"token_type"`
		ExpiresAt    string   `json:"expires_at"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token == "" || !strings.HasPrefix(resp.Token, "eyJ") {
		t.Errorf("token = %q, want a compact JWT", resp.Token)
	}
	if len(resp.Capabilities) != 2 {
		t.Errorf("capabilities = %v, want the full effective set", resp.Capabilities)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Errorf("expires_at = %q, not RFC 3339", resp.ExpiresAt)
	}

	// The issued token binds to the requested end-user.
	claims, err := auth.ValidateScopedToken(resp.Token, testSigningSecret)
	if err != nil {
		t.Fatalf("ValidateScopedToken: %v", err)
	}
	if claims.EndUserID != "user-42" {
		t.Errorf("token end_user = %q, want user-42", claims.EndUserID)
	}
}

func TestIssueToken_SubsetHonored(t *testing.T) {
	router, mock := newTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(activeUACRow("chat-sub-1"))

	w := performRequest(router, http.MethodPost, "/tokens",
		`{"end_user_id":"user-42","capabilities":["ask"]}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"capabilities":["ask"]`) {
		t.Errorf("body = %s, want narrowed capability set", w.Body.String())
	}
}

func TestIssueToken_RequestExceedsEffectiveSet(t *testing.T) {
	router, mock := newTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(activeUACRow("chat-sub-1"))

	w := performRequest(router, http.MethodPost, "/tokens",
		`{"end_user_id":"user-42","capabilities":["export_summaries"]}`, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", w.Code, w.Body.String())
	}
}

func TestIssueToken_UnknownCapabilityName(t *testing.T) {
	router, mock := newTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(activeUACRow("chat-sub-1"))

	w := performRequest(router, http.MethodPost, "/tokens",
		`{"end_user_id":"user-42","capabilities":["download_file"]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestIssueToken_RequiresProvisionedSubchat(t *testing.T) {
	router, mock := newTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(sqlmock.NewRows(uacCols))

	w := performRequest(router, http.MethodPost, "/tokens", `{"end_user_id":"user-99"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// capability checks
// ---------------------------------------------------------------------------

func TestCheckCapability_Granted(t *testing.T) {
	router, mock := newTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(activeUACRow("chat-sub-1"))

	w := performRequest(router, http.MethodPost, "/access-log",
		`{"end_user_id":"user-42","capability":"ask"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Allowed {
		t.Error("allowed = false for a granted capability")
	}
}

func TestCheckCapability_RawFileAccessFailsClosed(t *testing.T) {
	router, mock := newTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(activeUACRow("chat-sub-1"))

	w := performRequest(router, http.MethodPost, "/access-log",
		`{"end_user_id":"user-42","capability":"download_file"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"allowed":false`) {
		t.Errorf("body = %s, want allowed=false", w.Body.String())
	}
}

func TestAccessLog_CallerActionLabelRecorded(t *testing.T) {
	router, mock, logs := newRecordingTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(activeUACRow("chat-sub-1"))

	w := performRequest(router, http.MethodPost, "/access-log",
		`{"end_user_id":"user-42","capability":"ask","action":"document.view"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	// The caller's own label lands in the audit row; the outcome is still
	// derived server-side.
	entry := waitAuditLog(t, logs)
	if entry.Action != "document.view" {
		t.Errorf("action = %q, want the caller's document.view", entry.Action)
	}
	if !entry.Allowed {
		t.Error("Allowed = false for a granted capability")
	}
	if entry.RequestedCapability == nil || *entry.RequestedCapability != "ask" {
		t.Errorf("requested capability = %v, want ask", entry.RequestedCapability)
	}
}

func TestAccessLog_ActionDefaultsToCapabilityCheck(t *testing.T) {
	router, mock, logs := newRecordingTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(activeUACRow("chat-sub-1"))

	w := performRequest(router, http.MethodPost, "/access-log",
		`{"end_user_id":"user-42","capability":"ask"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	entry := waitAuditLog(t, logs)
	if entry.Action != models.ActionCapabilityCheck {
		t.Errorf("action = %q, want %q", entry.Action, models.ActionCapabilityCheck)
	}
}

func TestCheckCapability_UnprovisionedPairFailsClosed(t *testing.T) {
	router, mock := newTokenRouter(t)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectQuery("SELECT .* FROM user_app_chats").
		WillReturnRows(sqlmock.NewRows(uacCols))

	w := performRequest(router, http.MethodPost, "/access-log",
		`{"end_user_id":"nobody","capability":"ask"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"allowed":false`) {
		t.Errorf("body = %s, want allowed=false", w.Body.String())
	}
}
