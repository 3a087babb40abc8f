// chat_repository.go implements ChatRepository, providing database queries for
// conversation records, their analytics metadata, and sub-chat enumeration by parent.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ChatRepository handles chat database operations
type ChatRepository struct {
	db *sql.DB
}

// NewChatRepository creates a new ChatRepository
func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

const chatColumns = `id, owner_id, title, visibility, chat_type, parent_chat_id, app_id, app_metadata, is_archived, created_at, updated_at`

// scanChat scans one chat row
func scanChat(row interface{ Scan(...interface{}) error }) (*models.Chat, error) {
	chat := &models.Chat{}
	var metadataJSON []byte

	err := row.Scan(
		&chat.ID,
		&chat.OwnerID,
		&chat.Title,
		&chat.Visibility,
		&chat.ChatType,
		&chat.ParentChatID,
		&chat.AppID,
		&metadataJSON,
		&chat.IsArchived,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 && string(metadataJSON) != "{}" {
		chat.AppMetadata = &models.ChatMetadata{}
		if err := json.Unmarshal(metadataJSON, chat.AppMetadata); err != nil {
			return nil, err
		}
	}

	return chat, nil
}

// CreateChat creates a new conversation record
func (r *ChatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	chat.CreatedAt = time.Now()
	chat.UpdatedAt = chat.CreatedAt

	metadataJSON := []byte("{}")
	if chat.AppMetadata != nil {
		var err error
		metadataJSON, err = json.Marshal(chat.AppMetadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO chats (id, owner_id, title, visibility, chat_type, parent_chat_id, app_id, app_metadata, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		chat.ID,
		chat.OwnerID,
		chat.Title,
		chat.Visibility,
		chat.ChatType,
		chat.ParentChatID,
		chat.AppID,
		metadataJSON,
		chat.IsArchived,
		chat.CreatedAt,
		chat.UpdatedAt,
	)

	return err
}

// GetChatByID retrieves a chat by ID
func (r *ChatRepository) GetChatByID(ctx context.Context, chatID string) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, chatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// UpdateMetadata replaces the chat's analytics metadata
func (r *ChatRepository) UpdateMetadata(ctx context.Context, chatID string, metadata *models.ChatMetadata) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	query := `UPDATE chats SET app_metadata = $2, updated_at = $3 WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query, chatID, metadataJSON, time.Now())
	return err
}

// GetRawMetadata retrieves the chat's metadata as an untyped map. The schema
// migration works on the raw shape so it can see and delete deprecated keys
// that the typed ChatMetadata struct no longer carries.
func (r *ChatRepository) GetRawMetadata(ctx context.Context, chatID string) (map[string]interface{}, error) {
	query := `SELECT app_metadata FROM chats WHERE id = $1`

	var metadataJSON []byte
	err := r.db.QueryRowContext(ctx, query, chatID).Scan(&metadataJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw := make(map[string]interface{})
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &raw); err != nil {
			return nil, err
		}
	}

	return raw, nil
}

// UpdateRawMetadata replaces the chat's metadata with an untyped map
func (r *ChatRepository) UpdateRawMetadata(ctx context.Context, chatID string, raw map[string]interface{}) error {
	metadataJSON, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	query := `UPDATE chats SET app_metadata = $2, updated_at = $3 WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query, chatID, metadataJSON, time.Now())
	return err
}

// ArchiveChat marks a chat as archived
func (r *ChatRepository) ArchiveChat(ctx context.Context, chatID string) error {
	query := `UPDATE chats SET is_archived = TRUE, updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, chatID, time.Now())
	return err
}

// ListSubchatsByParent retrieves all sub-chats carrying a direct
// parent_chat_id back-reference to the given chat
func (r *ChatRepository) ListSubchatsByParent(ctx context.Context, parentChatID string) ([]*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE parent_chat_id = $1 AND chat_type = $2`

	rows, err := r.db.QueryContext(ctx, query, parentChatID, models.ChatTypeSubchat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := make([]*models.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// GetChatsByIDs retrieves multiple chats at once for reconciliation sums
func (r *ChatRepository) GetChatsByIDs(ctx context.Context, chatIDs []string) ([]*models.Chat, error) {
	if len(chatIDs) == 0 {
		return []*models.Chat{}, nil
	}

	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(chatIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := make([]*models.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}
