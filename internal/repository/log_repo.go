package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/access-service/internal/models"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// CreateLog creates a new action log entry
func (r *LogRepository) CreateLog(ctx context.Context, entry *models.ActionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO access.action_logs (id, credential_id, action, status, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.CredentialID, entry.Action, entry.Status, entry.Message, entry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}

	return nil
}

// ListLogs retrieves logs for a credential, newest first
func (r *LogRepository) ListLogs(ctx context.Context, credentialID string, limit int) ([]*models.ActionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, credential_id, action, status, message, metadata, created_at
		FROM access.action_logs
		WHERE credential_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, credentialID, limit)
	if err != nil {
		return nil, fmt.Errorf("query action logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.ActionLog
	for rows.Next() {
		entry := &models.ActionLog{}
		err := rows.Scan(
			&entry.ID, &entry.CredentialID, &entry.Action, &entry.Status,
			&entry.Message, &entry.Metadata, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// LogAction is a helper to log an action with optional metadata
func (r *LogRepository) LogAction(ctx context.Context, credentialID, action, status, message string, metadata map[string]interface{}) error {
	return r.CreateLog(ctx, &models.ActionLog{
		CredentialID: credentialID,
		Action:       action,
		Status:       status,
		Message:      message,
		Metadata:     metadata,
	})
}
