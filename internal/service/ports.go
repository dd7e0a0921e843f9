package service

import (
	"context"

	"github.com/wenwu/saas-platform/access-service/internal/models"
)

// NodeClient is the control plane's view of a proxy node
type NodeClient interface {
	Add(ctx context.Context, address string, requesterID int64, credentialID string) error
	Credentials(ctx context.Context, address string, requesterID int64, credentialID string) (string, error)
	Delete(ctx context.Context, address string, requesterID int64, credentialID string) error
}

// Notifier delivers messages to requesters and alerts to the operator
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendImage(ctx context.Context, chatID int64, png []byte, caption string) error
	Alert(ctx context.Context, text string) error
}

// ApproverChannel is where pending requests are shown to the approver
type ApproverChannel interface {
	RequestApproval(ctx context.Context, req *models.PurchaseRequest, server models.ServerNode, plan models.Plan) error
	RequestNotFound(ctx context.Context, requestID string) error
}

// Encoder renders a credential URI as a PNG image
type Encoder interface {
	Encode(uri string) ([]byte, error)
}
