// developer_repository.go implements DeveloperRepository, providing database queries
// for developer accounts created and updated on OIDC login.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/google/uuid"
)

// DeveloperRepository handles developer account database operations
type DeveloperRepository struct {
	db *sql.DB
}

// NewDeveloperRepository creates a new DeveloperRepository
func NewDeveloperRepository(db *sql.DB) *DeveloperRepository {
	return &DeveloperRepository{db: db}
}

// UpsertByOIDCSubject creates a developer on first login or refreshes email,
// name, and last_login_at on subsequent logins.
func (r *DeveloperRepository) UpsertByOIDCSubject(ctx context.Context, subject, email, name string) (*models.Developer, error) {
	query := `
		INSERT INTO developers (id, oidc_subject, email, name, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (oidc_subject) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, last_login_at = EXCLUDED.last_login_at
		RETURNING id, oidc_subject, email, name, created_at, last_login_at
	`

	dev := &models.Developer{}
	err := r.db.QueryRowContext(ctx, query, uuid.New().String(), subject, email, name, time.Now()).Scan(
		&dev.ID,
		&dev.OIDCSubject,
		&dev.Email,
		&dev.Name,
		&dev.CreatedAt,
		&dev.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}

	return dev, nil
}

// GetDeveloperByID retrieves a developer by ID
func (r *DeveloperRepository) GetDeveloperByID(ctx context.Context, developerID string) (*models.Developer, error) {
	query := `
		SELECT id, oidc_subject, email, name, created_at, last_login_at
		FROM developers
		WHERE id = $1
	`

	dev := &models.Developer{}
	err := r.db.QueryRowContext(ctx, query, developerID).Scan(
		&dev.ID,
		&dev.OIDCSubject,
		&dev.Email,
		&dev.Name,
		&dev.CreatedAt,
		&dev.LastLoginAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return dev, nil
}
