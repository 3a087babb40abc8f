// user_app_chat_repository.go implements UserAppChatRepository, providing database
// queries for sub-chat authorizations: idempotent creation guarded by a partial unique
// index, active-row lookup, revocation, and last-active touches.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique-index conflict. The
// provisioner treats a conflict on the active (app_id, end_user_id) index as
// a concurrent provision that already succeeded, not a failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// UserAppChatRepository handles sub-chat authorization database operations
type UserAppChatRepository struct {
	db *sql.DB
}

// NewUserAppChatRepository creates a new UserAppChatRepository
func NewUserAppChatRepository(db *sql.DB) *UserAppChatRepository {
	return &UserAppChatRepository{db: db}
}

const userAppChatColumns = `id, app_id, end_user_id, chat_id, capabilities, is_revoked, authorized_at, last_active_at, revoked_at, revoked_by`

// scanUserAppChat scans one authorization row
func scanUserAppChat(row interface{ Scan(...interface{}) error }) (*models.UserAppChat, error) {
	uac := &models.UserAppChat{}
	var capsJSON []byte

	err := row.Scan(
		&uac.ID,
		&uac.AppID,
		&uac.EndUserID,
		&uac.ChatID,
		&capsJSON,
		&uac.IsRevoked,
		&uac.AuthorizedAt,
		&uac.LastActiveAt,
		&uac.RevokedAt,
		&uac.RevokedBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(capsJSON, &uac.Capabilities); err != nil {
		return nil, err
	}

	return uac, nil
}

// CreateAuthorization inserts a new sub-chat authorization. A unique-index
// conflict (check with IsUniqueViolation) means another request provisioned
// this user concurrently.
func (r *UserAppChatRepository) CreateAuthorization(ctx context.Context, uac *models.UserAppChat) error {
	if uac.ID == "" {
		uac.ID = uuid.New().String()
	}
	uac.AuthorizedAt = time.Now()
	uac.LastActiveAt = uac.AuthorizedAt

	capsJSON, err := json.Marshal(uac.Capabilities)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_app_chats (id, app_id, end_user_id, chat_id, capabilities, is_revoked, authorized_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		uac.ID,
		uac.AppID,
		uac.EndUserID,
		uac.ChatID,
		capsJSON,
		uac.AuthorizedAt,
		uac.LastActiveAt,
	)

	return err
}

// GetActiveAuthorization retrieves the non-revoked authorization for an
// (app, end-user) pair, or nil when none exists
func (r *UserAppChatRepository) GetActiveAuthorization(ctx context.Context, appID, endUserID string) (*models.UserAppChat, error) {
	query := `
		SELECT ` + userAppChatColumns + `
		FROM user_app_chats
		WHERE app_id = $1 AND end_user_id = $2 AND NOT is_revoked
	`

	uac, err := scanUserAppChat(r.db.QueryRowContext(ctx, query, appID, endUserID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return uac, nil
}

// RevokeAuthorization marks the active authorization revoked, recording who
// triggered it. Returns the revoked row, or nil when no active row existed.
func (r *UserAppChatRepository) RevokeAuthorization(ctx context.Context, appID, endUserID, revokedBy string) (*models.UserAppChat, error) {
	query := `
		UPDATE user_app_chats
		SET is_revoked = TRUE, revoked_at = $3, revoked_by = $4
		WHERE app_id = $1 AND end_user_id = $2 AND NOT is_revoked
		RETURNING ` + userAppChatColumns + `
	`

	uac, err := scanUserAppChat(r.db.QueryRowContext(ctx, query, appID, endUserID, time.Now(), revokedBy))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return uac, nil
}

// TouchLastActive updates the last_active_at timestamp for an authorization
func (r *UserAppChatRepository) TouchLastActive(ctx context.Context, id string) error {
	query := `UPDATE user_app_chats SET last_active_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// ListActiveByApp retrieves all non-revoked authorizations for an app
func (r *UserAppChatRepository) ListActiveByApp(ctx context.Context, appID string) ([]*models.UserAppChat, error) {
	query := `
		SELECT ` + userAppChatColumns + `
		FROM user_app_chats
		WHERE app_id = $1 AND NOT is_revoked
		ORDER BY authorized_at
	`

	rows, err := r.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uacs := make([]*models.UserAppChat, 0)
	for rows.Next() {
		uac, err := scanUserAppChat(rows)
		if err != nil {
			return nil, err
		}
		uacs = append(uacs, uac)
	}

	return uacs, rows.Err()
}
