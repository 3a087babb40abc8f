package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/apps"
	"github.com/appchat-platform/appchat-platform/internal/crypto"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

func newAppRouter(t *testing.T, developerID string) (*gin.Engine, sqlmock.Sqlmock) {
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

	service := apps.NewService(
		repositories.NewAppRepository(db),
		repositories.NewChatRepository(db),
		cipher,
		nil,
	)
	h := NewAppHandlers(service)

	router := gin.New()
	router.Use(fakeDeveloperAuth(developerID))
	router.POST("/apps", h.CreateHandler())
	router.GET("/apps", h.ListHandler())
	router.GET("/apps/:id", h.GetHandler())
	router.DELETE("/apps/:id", h.DeactivateHandler())
	router.PUT("/apps/:id/capabilities", h.UpdateCapabilitiesHandler())
	return router, mock
}

// ---------------------------------------------------------------------------
// create
// ---------------------------------------------------------------------------

func TestCreateApp_ReturnsSecretsOnce(t *testing.T) {
	router, mock := newAppRouter(t, "dev-1")
	mock.ExpectExec("INSERT INTO apps").WillReturnResult(sqlmock.NewResult(1, 1))

	w := performRequest(router, http.MethodPost, "/apps", `{"name":"Support Bot"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp struct {
		App       map[string]interface{} `json:"app"`
		AppSecret string                 `json:"app_secret"`
		JWTSecret string                 `json:"jwt_secret"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(resp.AppSecret, "acs_") {
		t.Errorf("app_secret = %q, want acs_ prefix", resp.AppSecret)
	}
	if resp.JWTSecret == "" {
		t.Error("jwt_secret missing from creation response")
	}
	caps, _ := resp.App["allowed_capabilities"].([]interface{})
	if len(caps) != 2 {
		t.Errorf("default capabilities = %v, want [ask upload]", caps)
	}
	if _, present := resp.App["secret_hash"]; present {
		t.Error("secret_hash leaked into response")
	}
}

func TestCreateApp_UnknownCapability(t *testing.T) {
	router, mock := newAppRouter(t, "dev-1")

	w := performRequest(router, http.MethodPost, "/apps", `{"name":"Bot","capabilities":["download_file"]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected DB access: %v", err)
	}
}

func TestCreateApp_ParentChatNotFound(t *testing.T) {
	router, mock := newAppRouter(t, "dev-1")
	mock.ExpectQuery("SELECT .* FROM chats WHERE id").
		WithArgs("chat-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := performRequest(router, http.MethodPost, "/apps", `{"name":"Bot","parent_chat_id":"chat-missing"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestCreateApp_MissingName(t *testing.T) {
	router, _ := newAppRouter(t, "dev-1")

	w := performRequest(router, http.MethodPost, "/apps", `{}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// read
// ---------------------------------------------------------------------------

func TestGetApp_OwnedByCaller(t *testing.T) {
	router, mock := newAppRouter(t, "dev-1")
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WithArgs("app_abc123def456").
		WillReturnRows(activeAppRow("dev-1"))

	w := performRequest(router, http.MethodGet, "/apps/app_abc123def456", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "secret_hash") {
		t.Error("secret_hash leaked into response")
	}
}

func TestGetApp_DifferentOwner(t *testing.T) {
	router, mock := newAppRouter(t, "dev-2")
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))

	w := performRequest(router, http.MethodGet, "/apps/app_abc123def456", "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestGetApp_NotFound(t *testing.T) {
	router, mock := newAppRouter(t, "dev-1")
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(sqlmock.NewRows(appCols))

	w := performRequest(router, http.MethodGet, "/apps/app_unknown", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// lifecycle
// ---------------------------------------------------------------------------

func TestDeactivateApp(t *testing.T) {
	router, mock := newAppRouter(t, "dev-1")
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WillReturnRows(activeAppRow("dev-1"))
	mock.ExpectExec("UPDATE apps SET is_active = FALSE").
		WithArgs("app_abc123def456").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := performRequest(router, http.MethodDelete, "/apps/app_abc123def456", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestUpdateCapabilities_RejectsDeniedCapability(t *testing.T) {
	router, _ := newAppRouter(t, "dev-1")

	w := performRequest(router, http.MethodPut, "/apps/app_abc123def456/capabilities", `{"capabilities":["list_files"]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}
