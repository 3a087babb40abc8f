// app_repository.go implements AppRepository, providing database queries for app
// lookup by ID and secret prefix, creation, secret rotation, and capability updates.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
)

// AppRepository handles app database operations
type AppRepository struct {
	db *sql.DB
}

// NewAppRepository creates a new AppRepository
func NewAppRepository(db *sql.DB) *AppRepository {
	return &AppRepository{db: db}
}

const appColumns = `id, developer_id, name, secret_hash, secret_prefix, jwt_secret_enc, parent_chat_id, allowed_capabilities, is_active, created_at, secret_rotated_at, jwt_rotated_at`

// scanApp scans one app row
func scanApp(row interface{ Scan(...interface{}) error }) (*models.App, error) {
	app := &models.App{}
	var capsJSON []byte

	err := row.Scan(
		&app.ID,
		&app.DeveloperID,
		&app.Name,
		&app.SecretHash,
		&app.SecretPrefix,
		&app.JWTSecretEnc,
		&app.ParentChatID,
		&capsJSON,
		&app.IsActive,
		&app.CreatedAt,
		&app.SecretRotatedAt,
		&app.JWTRotatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(capsJSON, &app.AllowedCapabilities); err != nil {
		return nil, err
	}

	return app, nil
}

// CreateApp creates a new app record
func (r *AppRepository) CreateApp(ctx context.Context, app *models.App) error {
	app.CreatedAt = time.Now()

	capsJSON, err := json.Marshal(app.AllowedCapabilities)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO apps (id, developer_id, name, secret_hash, secret_prefix, jwt_secret_enc, parent_chat_id, allowed_capabilities, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		app.ID,
		app.DeveloperID,
		app.Name,
		app.SecretHash,
		app.SecretPrefix,
		app.JWTSecretEnc,
		app.ParentChatID,
		capsJSON,
		app.IsActive,
		app.CreatedAt,
	)

	return err
}

// GetAppByID retrieves an app by ID
func (r *AppRepository) GetAppByID(ctx context.Context, appID string) (*models.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE id = $1`

	app, err := scanApp(r.db.QueryRowContext(ctx, query, appID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}

// GetAppsBySecretPrefix retrieves active apps whose stored secret prefix matches.
// The prefix is not unique by construction, so authentication bcrypt-compares
// the presented secret against each candidate.
func (r *AppRepository) GetAppsBySecretPrefix(ctx context.Context, secretPrefix string) ([]*models.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE secret_prefix = $1 AND is_active = TRUE`

	rows, err := r.db.QueryContext(ctx, query, secretPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]*models.App, 0)
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}

// ListAppsByDeveloper retrieves all apps owned by a developer
func (r *AppRepository) ListAppsByDeveloper(ctx context.Context, developerID string) ([]*models.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE developer_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, developerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]*models.App, 0)
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}

// ListAppsByParentChat retrieves apps declaring the given conversation as
// their parent. Used by reconciliation to enumerate sub-chats through the
// authorization tables.
func (r *AppRepository) ListAppsByParentChat(ctx context.Context, parentChatID string) ([]*models.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE parent_chat_id = $1`

	rows, err := r.db.QueryContext(ctx, query, parentChatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]*models.App, 0)
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}

// RotateSecret replaces the app secret hash and display prefix in a single
// UPDATE, so the old secret stops validating at the same instant the new one
// starts.
func (r *AppRepository) RotateSecret(ctx context.Context, appID, secretHash, secretPrefix string) error {
	query := `
		UPDATE apps
		SET secret_hash = $2, secret_prefix = $3, secret_rotated_at = $4
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, appID, secretHash, secretPrefix, time.Now())
	return err
}

// RotateJWTSecret replaces the encrypted per-app signing secret, invalidating
// all previously issued scoped tokens.
func (r *AppRepository) RotateJWTSecret(ctx context.Context, appID, jwtSecretEnc string) error {
	query := `
		UPDATE apps
		SET jwt_secret_enc = $2, jwt_rotated_at = $3
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, appID, jwtSecretEnc, time.Now())
	return err
}

// InitJWTSecret sets the encrypted signing secret only when none exists yet.
// Returns true when this call won the write; a false return means a
// concurrent caller initialized it first and the caller should re-read.
func (r *AppRepository) InitJWTSecret(ctx context.Context, appID, jwtSecretEnc string) (bool, error) {
	query := `
		UPDATE apps
		SET jwt_secret_enc = $2, jwt_rotated_at = $3
		WHERE id = $1 AND jwt_secret_enc IS NULL
	`

	res, err := r.db.ExecContext(ctx, query, appID, jwtSecretEnc, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// UpdateCapabilities replaces the app's allowed capability set
func (r *AppRepository) UpdateCapabilities(ctx context.Context, appID string, capabilities []string) error {
	capsJSON, err := json.Marshal(capabilities)
	if err != nil {
		return err
	}

	query := `UPDATE apps SET allowed_capabilities = $2 WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query, appID, capsJSON)
	return err
}

// DeactivateApp soft-deletes an app; its rows and audit history remain
func (r *AppRepository) DeactivateApp(ctx context.Context, appID string) error {
	query := `UPDATE apps SET is_active = FALSE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, appID)
	return err
}
