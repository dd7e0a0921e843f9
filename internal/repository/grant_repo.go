package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/access-service/internal/models"
)

type GrantRepository struct {
	pool *pgxpool.Pool
}

func NewGrantRepository(pool *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
}

const grantSelect = `
	SELECT g.credential_id, g.server_id, g.requester_id, g.plan_id, g.valid_until,
		   s.alias, s.address, s.location
	FROM access.grants g
	JOIN access.servers s ON s.id = g.server_id
`

// CreateGrant inserts a grant; server details are joined on read
func (r *GrantRepository) CreateGrant(ctx context.Context, grant *models.Grant) error {
	query := `
		INSERT INTO access.grants (credential_id, server_id, requester_id, plan_id, valid_until)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		grant.CredentialID, grant.ServerID, grant.RequesterID, grant.PlanID, grant.ValidUntil,
	)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// FindGrant retrieves a grant owned by the requester
func (r *GrantRepository) FindGrant(ctx context.Context, requesterID int64, credentialID string) (*models.Grant, error) {
	query := grantSelect + ` WHERE g.requester_id = $1 AND g.credential_id = $2`
	return r.scanGrant(r.pool.QueryRow(ctx, query, requesterID, credentialID))
}

// ListGrantsByRequester retrieves all grants of a requester, soonest expiry first
func (r *GrantRepository) ListGrantsByRequester(ctx context.Context, requesterID int64) ([]*models.Grant, error) {
	rows, err := r.pool.Query(ctx, grantSelect+` WHERE g.requester_id = $1 ORDER BY g.valid_until`, requesterID)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	return r.scanGrants(rows)
}

// ListExpiredGrants retrieves grants with valid_until <= now
func (r *GrantRepository) ListExpiredGrants(ctx context.Context, now time.Time) ([]*models.Grant, error) {
	rows, err := r.pool.Query(ctx, grantSelect+` WHERE g.valid_until <= $1 ORDER BY g.valid_until`, now)
	if err != nil {
		return nil, fmt.Errorf("query expired grants: %w", err)
	}
	defer rows.Close()

	return r.scanGrants(rows)
}

// DeleteGrant removes a grant by credential id
func (r *GrantRepository) DeleteGrant(ctx context.Context, credentialID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM access.grants WHERE credential_id = $1`, credentialID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GrantRepository) scanGrant(row pgx.Row) (*models.Grant, error) {
	g := &models.Grant{}
	err := row.Scan(
		&g.CredentialID, &g.ServerID, &g.RequesterID, &g.PlanID, &g.ValidUntil,
		&g.ServerAlias, &g.ServerAddress, &g.ServerLocation,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	return g, nil
}

func (r *GrantRepository) scanGrants(rows pgx.Rows) ([]*models.Grant, error) {
	var grants []*models.Grant
	for rows.Next() {
		g := &models.Grant{}
		err := rows.Scan(
			&g.CredentialID, &g.ServerID, &g.RequesterID, &g.PlanID, &g.ValidUntil,
			&g.ServerAlias, &g.ServerAddress, &g.ServerLocation,
		)
		if err != nil {
			return nil, fmt.Errorf("scan grant row: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
