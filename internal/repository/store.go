package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wenwu/saas-platform/access-service/internal/models"
)

var ErrNotFound = errors.New("not found")

// Refusals from CreateRequest when a quota is given
var (
	ErrQuotaReached   = errors.New("live request quota reached")
	ErrRequestPending = errors.New("request already pending for server")
	ErrServerGranted  = errors.New("requester already holds a grant on server")
)

// Store is the persisted record of servers, plans, pending purchase requests and active grants.
// Both engines must map a missing row to ErrNotFound.
type Store interface {
	// Catalog
	ListServers(ctx context.Context) ([]models.ServerNode, error)
	ListPlans(ctx context.Context) ([]models.Plan, error)
	PutServer(ctx context.Context, server models.ServerNode) error
	PutPlan(ctx context.Context, plan models.Plan) error

	// Purchase requests
	// CreateRequest inserts req. With maxLive > 0 it atomically refuses, in this order, a requester
	// holding maxLive requests, one already pending for the same server, or one holding a grant there.
	CreateRequest(ctx context.Context, req *models.PurchaseRequest, maxLive int) error
	FindRequest(ctx context.Context, requestID string) (*models.PurchaseRequest, error)
	DeleteRequest(ctx context.Context, requestID string) (*models.PurchaseRequest, error)
	CountRequestsByRequester(ctx context.Context, requesterID int64) (int, error)
	DeleteRequestsOlderThan(ctx context.Context, threshold time.Time) (int64, error)

	// Grants
	CreateGrant(ctx context.Context, grant *models.Grant) error
	FindGrant(ctx context.Context, requesterID int64, credentialID string) (*models.Grant, error)
	ListGrantsByRequester(ctx context.Context, requesterID int64) ([]*models.Grant, error)
	ListExpiredGrants(ctx context.Context, now time.Time) ([]*models.Grant, error)
	DeleteGrant(ctx context.Context, credentialID string) error

	// Audit trail
	LogAction(ctx context.Context, credentialID, action, status, message string, metadata map[string]interface{}) error
	ListLogs(ctx context.Context, credentialID string, limit int) ([]*models.ActionLog, error)

	Close()
}
