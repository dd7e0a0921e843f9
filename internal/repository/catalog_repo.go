package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/access-service/internal/models"
)

type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListServers retrieves all servers
func (r *CatalogRepository) ListServers(ctx context.Context) ([]models.ServerNode, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alias, address, location, flag
		FROM access.servers
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []models.ServerNode
	for rows.Next() {
		var s models.ServerNode
		if err := rows.Scan(&s.ID, &s.Alias, &s.Address, &s.Location, &s.Flag); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, s)
	}

	return servers, rows.Err()
}

// ListPlans retrieves all plans
func (r *CatalogRepository) ListPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, price, duration_months
		FROM access.plans
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.Title, &p.Price, &p.DurationMonths); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}

	return plans, rows.Err()
}

// PutServer upserts a server
func (r *CatalogRepository) PutServer(ctx context.Context, s models.ServerNode) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access.servers (id, alias, address, location, flag)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			alias = EXCLUDED.alias,
			address = EXCLUDED.address,
			location = EXCLUDED.location,
			flag = EXCLUDED.flag
	`, s.ID, s.Alias, s.Address, s.Location, s.Flag)
	if err != nil {
		return fmt.Errorf("upsert server: %w", err)
	}
	return nil
}

// PutPlan upserts a plan
func (r *CatalogRepository) PutPlan(ctx context.Context, p models.Plan) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access.plans (id, title, price, duration_months)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			duration_months = EXCLUDED.duration_months
	`, p.ID, p.Title, p.Price, p.DurationMonths)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}
