package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var chatCols = []string{
	"id", "owner_id", "title", "visibility", "chat_type",
	"parent_chat_id", "app_id", "app_metadata", "is_archived", "created_at", "updated_at",
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newChatRepo(t *testing.T) (*ChatRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChatRepository(db), mock
}

func sampleChatRow(metadata string) *sqlmock.Rows {
	return sqlmock.NewRows(chatCols).
		AddRow("chat-1", "user-42", "Support", "private", "app_subchat",
			strPtr("parent-1"), strPtr("app_abc123def456"), []byte(metadata), false, time.Now(), time.Now())
}

// ---------------------------------------------------------------------------
// CreateChat
// ---------------------------------------------------------------------------

func TestCreateChat_Success(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectExec("INSERT INTO chats").
		WillReturnResult(sqlmock.NewResult(1, 1))

	chat := &models.Chat{
		OwnerID:    "user-42",
		Title:      "Support",
		Visibility: models.VisibilityPrivate,
		ChatType:   models.ChatTypeSubchat,
	}
	if err := repo.CreateChat(context.Background(), chat); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.ID == "" {
		t.Error("CreateChat did not assign an ID")
	}
}

func TestCreateChat_DBError(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectExec("INSERT INTO chats").
		WillReturnError(errDB)

	if err := repo.CreateChat(context.Background(), &models.Chat{OwnerID: "u"}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetChatByID
// ---------------------------------------------------------------------------

func TestGetChatByID_Found(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id").
		WithArgs("chat-1").
		WillReturnRows(sampleChatRow(`{"schema_version":2,"total_files":3,"compliance":{"privacy_isolated":true,"raw_file_access_blocked":true},"updated_at":"2026-01-01T00:00:00Z"}`))

	chat, err := repo.GetChatByID(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat == nil {
		t.Fatal("expected chat, got nil")
	}
	if !chat.IsSubchat() {
		t.Error("IsSubchat() = false for app_subchat row")
	}
	if chat.AppMetadata == nil {
		t.Fatal("AppMetadata = nil, want parsed metadata")
	}
	if chat.AppMetadata.TotalFiles != 3 {
		t.Errorf("TotalFiles = %d, want 3", chat.AppMetadata.TotalFiles)
	}
}

func TestGetChatByID_EmptyMetadata(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id").
		WillReturnRows(sampleChatRow(`{}`))

	chat, err := repo.GetChatByID(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.AppMetadata != nil {
		t.Errorf("AppMetadata = %+v, want nil for empty JSONB", chat.AppMetadata)
	}
}

func TestGetChatByID_NotFound(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id").
		WillReturnRows(sqlmock.NewRows(chatCols))

	chat, err := repo.GetChatByID(context.Background(), "chat-missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat != nil {
		t.Errorf("expected nil for missing chat, got %+v", chat)
	}
}

// ---------------------------------------------------------------------------
// Metadata updates
// ---------------------------------------------------------------------------

func TestUpdateMetadata_Success(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectExec("UPDATE chats SET app_metadata").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateMetadata(context.Background(), "chat-1", models.NewChatMetadata()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetRawMetadata_Found(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectQuery("SELECT app_metadata FROM chats").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"app_metadata"}).
			AddRow([]byte(`{"schema_version":1,"total_messages":12,"end_user_ids":["u1","u2"]}`)))

	raw, err := repo.GetRawMetadata(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw["total_messages"] == nil {
		t.Error("raw metadata should expose deprecated keys for migration")
	}
}

func TestGetRawMetadata_NotFound(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectQuery("SELECT app_metadata FROM chats").
		WillReturnRows(sqlmock.NewRows([]string{"app_metadata"}))

	raw, err := repo.GetRawMetadata(context.Background(), "chat-missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != nil {
		t.Errorf("expected nil for missing chat, got %v", raw)
	}
}

func TestUpdateRawMetadata_Success(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectExec("UPDATE chats SET app_metadata").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateRawMetadata(context.Background(), "chat-1", map[string]interface{}{"schema_version": 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ArchiveChat / ListSubchatsByParent / GetChatsByIDs
// ---------------------------------------------------------------------------

func TestArchiveChat_Success(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectExec("UPDATE chats SET is_archived").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.ArchiveChat(context.Background(), "chat-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListSubchatsByParent_Success(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectQuery("SELECT .* FROM chats WHERE parent_chat_id").
		WithArgs("parent-1", models.ChatTypeSubchat).
		WillReturnRows(sampleChatRow(`{}`))

	chats, err := repo.ListSubchatsByParent(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chats) != 1 {
		t.Errorf("len(chats) = %d, want 1", len(chats))
	}
}

func TestGetChatsByIDs_EmptyInput(t *testing.T) {
	repo, _ := newChatRepo(t)
	chats, err := repo.GetChatsByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chats) != 0 {
		t.Errorf("len(chats) = %d, want 0", len(chats))
	}
}

func TestGetChatsByIDs_Success(t *testing.T) {
	repo, mock := newChatRepo(t)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = ANY").
		WillReturnRows(sampleChatRow(`{}`))

	chats, err := repo.GetChatsByIDs(context.Background(), []string{"chat-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chats) != 1 {
		t.Errorf("len(chats) = %d, want 1", len(chats))
	}
}
