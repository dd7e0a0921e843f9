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

type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

const requestColumns = `request_id, requester_id, requester_name, server_id, plan_id, created_at`

// CreateRequest inserts a pending purchase request. Quota checks run in the same
// transaction under a per-requester advisory lock, so concurrent submits serialize.
func (r *RequestRepository) CreateRequest(ctx context.Context, req *models.PurchaseRequest, maxLive int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if maxLive > 0 {
			if err := pgRequestQuota(ctx, tx, req, maxLive); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO access.purchase_requests (
				request_id, requester_id, requester_name, server_id, plan_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err := tx.Exec(ctx, query,
			req.RequestID, req.RequesterID, req.RequesterName, req.ServerID, req.PlanID, req.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert purchase_request: %w", err)
		}
		return nil
	})
}

func pgRequestQuota(ctx context.Context, tx pgx.Tx, req *models.PurchaseRequest, maxLive int) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, req.RequesterID); err != nil {
		return fmt.Errorf("lock requester: %w", err)
	}

	var (
		live    int
		pending bool
		granted bool
	)
	err := tx.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM access.purchase_requests WHERE requester_id = $1),
			EXISTS (SELECT 1 FROM access.purchase_requests WHERE requester_id = $1 AND server_id = $2),
			EXISTS (SELECT 1 FROM access.grants WHERE requester_id = $1 AND server_id = $2)
	`, req.RequesterID, req.ServerID).Scan(&live, &pending, &granted)
	if err != nil {
		return fmt.Errorf("check request quota: %w", err)
	}

	switch {
	case live >= maxLive:
		return ErrQuotaReached
	case pending:
		return ErrRequestPending
	case granted:
		return ErrServerGranted
	}
	return nil
}

// FindRequest retrieves a pending request by its id
func (r *RequestRepository) FindRequest(ctx context.Context, requestID string) (*models.PurchaseRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM access.purchase_requests WHERE request_id = $1`, requestColumns)
	return r.scanRequest(r.pool.QueryRow(ctx, query, requestID))
}

// DeleteRequest removes a pending request and returns the removed row
func (r *RequestRepository) DeleteRequest(ctx context.Context, requestID string) (*models.PurchaseRequest, error) {
	query := fmt.Sprintf(`DELETE FROM access.purchase_requests WHERE request_id = $1 RETURNING %s`, requestColumns)
	return r.scanRequest(r.pool.QueryRow(ctx, query, requestID))
}

// CountRequestsByRequester counts live requests of one requester
func (r *RequestRepository) CountRequestsByRequester(ctx context.Context, requesterID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM access.purchase_requests WHERE requester_id = $1`, requesterID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count purchase_requests: %w", err)
	}
	return n, nil
}

// DeleteRequestsOlderThan purges stale requests and returns how many were removed
func (r *RequestRepository) DeleteRequestsOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM access.purchase_requests WHERE created_at < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete stale purchase_requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RequestRepository) scanRequest(row pgx.Row) (*models.PurchaseRequest, error) {
	req := &models.PurchaseRequest{}
	err := row.Scan(
		&req.RequestID, &req.RequesterID, &req.RequesterName, &req.ServerID, &req.PlanID, &req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan purchase_request: %w", err)
	}
	return req, nil
}
