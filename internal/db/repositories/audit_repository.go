// audit_repository.go implements AuditRepository, providing database queries for writing
// and retrieving audit log entries with support for filtered queries per app and end-user.
// The table is append-only: this repository has no UPDATE or DELETE statements.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	AppID     *string
	EndUserID *string
	Action    *string
	Allowed   *bool
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateAuditLog creates a new audit log entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.CreatedAt = time.Now()

	// Marshal metadata to JSONB
	metadataJSON := []byte("{}")
	if log.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(log.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_logs (app_id, end_user_id, chat_id, action, requested_capability, allowed, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, query,
		log.AppID,
		log.EndUserID,
		log.ChatID,
		log.Action,
		log.RequestedCapability,
		log.Allowed,
		metadataJSON,
		log.IPAddress,
		log.CreatedAt,
	).Scan(&log.ID)
}

// ListAuditLogs retrieves audit logs with optional filters and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	// Build query with filters
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `
		SELECT id, app_id, end_user_id, chat_id, action, requested_capability, allowed, metadata, ip_address, created_at
		FROM audit_logs
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	// Apply filters
	if filters.AppID != nil {
		countQuery += fmt.Sprintf(` AND app_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND app_id = $%d`, paramIndex)
		args = append(args, *filters.AppID)
		paramIndex++
	}

	if filters.EndUserID != nil {
		countQuery += fmt.Sprintf(` AND end_user_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND end_user_id = $%d`, paramIndex)
		args = append(args, *filters.EndUserID)
		paramIndex++
	}

	if filters.Action != nil {
		countQuery += fmt.Sprintf(` AND action = $%d`, paramIndex)
		query += fmt.Sprintf(` AND action = $%d`, paramIndex)
		args = append(args, *filters.Action)
		paramIndex++
	}

	if filters.Allowed != nil {
		countQuery += fmt.Sprintf(` AND allowed = $%d`, paramIndex)
		query += fmt.Sprintf(` AND allowed = $%d`, paramIndex)
		args = append(args, *filters.Allowed)
		paramIndex++
	}

	if filters.StartDate != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	// Get total count
	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	// Add ordering and pagination
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	// Execute query
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}

// ListAuditLogsSince retrieves audit logs created after the given ID, in
// insertion order. Used by the archive exporter to page through new entries.
func (r *AuditRepository) ListAuditLogsSince(ctx context.Context, afterID int64, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, app_id, end_user_id, chat_id, action, requested_capability, allowed, metadata, ip_address, created_at
		FROM audit_logs
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

// scanAuditLog scans one audit log row
func scanAuditLog(row interface{ Scan(...interface{}) error }) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var metadataJSON []byte

	err := row.Scan(
		&log.ID,
		&log.AppID,
		&log.EndUserID,
		&log.ChatID,
		&log.Action,
		&log.RequestedCapability,
		&log.Allowed,
		&metadataJSON,
		&log.IPAddress,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Unmarshal metadata from JSONB
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &log.Metadata); err != nil {
			return nil, err
		}
	}

	return log, nil
}
