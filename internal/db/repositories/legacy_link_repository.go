// legacy_link_repository.go implements LegacyLinkRepository, a read-only view over the
// app_chat_links table left behind by the pre-user_app_chats authorization scheme.
// Reconciliation reads it as one of its three sub-chat enumeration patterns; nothing
// in the platform writes to it anymore.
package repositories

import (
	"context"
	"database/sql"
)

// LegacyLinkRepository reads legacy app-to-chat linkage rows
type LegacyLinkRepository struct {
	db *sql.DB
}

// NewLegacyLinkRepository creates a new LegacyLinkRepository
func NewLegacyLinkRepository(db *sql.DB) *LegacyLinkRepository {
	return &LegacyLinkRepository{db: db}
}

// ListChatIDsByApp retrieves the chat IDs linked to an app through the legacy table
func (r *LegacyLinkRepository) ListChatIDsByApp(ctx context.Context, appID string) ([]string, error) {
	query := `SELECT chat_id FROM app_chat_links WHERE app_id = $1`

	rows, err := r.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chatIDs := make([]string, 0)
	for rows.Next() {
		var chatID string
		if err := rows.Scan(&chatID); err != nil {
			return nil, err
		}
		chatIDs = append(chatIDs, chatID)
	}

	return chatIDs, rows.Err()
}
