package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/access-service/internal/catalog"
	"github.com/wenwu/saas-platform/access-service/internal/metrics"
	"github.com/wenwu/saas-platform/access-service/internal/models"
	"github.com/wenwu/saas-platform/access-service/internal/repository"
)

// WorkflowDeps are the collaborators of a Workflow
type WorkflowDeps struct {
	Store    repository.Store
	Catalog  *catalog.Catalog
	Node     NodeClient
	Notifier Notifier
	Approver ApproverChannel
	Encoder  Encoder
	Metrics  *metrics.Metrics

	// QuietNode is used for requester-initiated calls whose failures are
	// reported to the requester only. Defaults to Node.
	QuietNode NodeClient
	HelpURL   string
	Now       func() time.Time
}

// Workflow drives a purchase request from submission to grant or rejection
type Workflow struct {
	store     repository.Store
	catalog   *catalog.Catalog
	node      NodeClient
	quietNode NodeClient
	notifier  Notifier
	approver  ApproverChannel
	encoder   Encoder
	metrics   *metrics.Metrics
	helpURL   string
	now       func() time.Time
}

func NewWorkflow(deps WorkflowDeps) *Workflow {
	w := &Workflow{
		store:     deps.Store,
		catalog:   deps.Catalog,
		node:      deps.Node,
		quietNode: deps.QuietNode,
		notifier:  deps.Notifier,
		approver:  deps.Approver,
		encoder:   deps.Encoder,
		metrics:   deps.Metrics,
		helpURL:   deps.HelpURL,
		now:       deps.Now,
	}
	if w.quietNode == nil {
		w.quietNode = w.node
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Submit records a purchase request and forwards it to the approver
func (w *Workflow) Submit(ctx context.Context, requesterID int64, requesterName *string, serverID, planID int) (*models.PurchaseRequest, error) {
	server, ok := w.catalog.Server(serverID)
	if !ok {
		return nil, ErrUnknownServer
	}
	plan, ok := w.catalog.Plan(planID)
	if !ok {
		return nil, ErrUnknownPlan
	}

	req := &models.PurchaseRequest{
		RequestID:     uuid.New().String(),
		RequesterID:   requesterID,
		RequesterName: requesterName,
		ServerID:      serverID,
		PlanID:        planID,
		CreatedAt:     w.now().UTC(),
	}
	err := w.store.CreateRequest(ctx, req, models.MaxLiveRequestsPerRequester)
	switch {
	case errors.Is(err, repository.ErrQuotaReached):
		return nil, ErrQuotaExceeded
	case errors.Is(err, repository.ErrRequestPending):
		return nil, ErrDuplicateRequest
	case errors.Is(err, repository.ErrServerGranted):
		return nil, ErrAlreadySubscribed
	case err != nil:
		return nil, fmt.Errorf("create request: %w", err)
	}
	w.metrics.RequestSubmitted()

	// an undelivered approval leaves the request pending until the reaper removes it
	if err := w.approver.RequestApproval(ctx, req, server, plan); err != nil {
		log.Printf("[Workflow] Failed to forward request %s to approver: %v", req.RequestID, err)
	}

	log.Printf("[Workflow] Request submitted: request=%s requester=%d server=%d plan=%d",
		req.RequestID, requesterID, serverID, planID)
	return req, nil
}

// Approve provisions the credential on the request's node, delivers it and records the grant.
// Node provisioning happens before any store write.
func (w *Workflow) Approve(ctx context.Context, requestID string) (*models.Grant, error) {
	req, err := w.store.FindRequest(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		w.requestNotFound(ctx, requestID)
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find request: %w", err)
	}

	server, ok := w.catalog.Server(req.ServerID)
	if !ok {
		return nil, ErrUnknownServer
	}
	plan, ok := w.catalog.Plan(req.PlanID)
	if !ok {
		return nil, ErrUnknownPlan
	}

	log.Printf("[Workflow] Approving request %s on %s", requestID, server.Address)

	if err := w.node.Add(ctx, server.Address, req.RequesterID, req.RequestID); err != nil {
		w.unreachable(ctx, req.RequestID, server.Address, err)
		return nil, err
	}
	uri, err := w.node.Credentials(ctx, server.Address, req.RequesterID, req.RequestID)
	if err != nil {
		w.unreachable(ctx, req.RequestID, server.Address, err)
		return nil, err
	}

	if _, err := w.store.DeleteRequest(ctx, requestID); err != nil {
		w.orphaned(ctx, req.RequestID, server.Address, "request delete failed: "+err.Error())
		// resolved concurrently: the node entry may be a duplicate of a delivered one
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("delete request: %w", err)
	}

	if err := w.deliver(ctx, req.RequesterID, uri, purchaseCompletedCaption(server)); err != nil {
		log.Printf("[Workflow] Delivery to %d failed: %v", req.RequesterID, err)
		if sendErr := w.notifier.SendText(ctx, req.RequesterID, msgUnexpectedError); sendErr != nil {
			log.Printf("[Workflow] Failed to notify requester %d: %v", req.RequesterID, sendErr)
		}
		w.orphaned(ctx, req.RequestID, server.Address, "delivery failed: "+err.Error())
		w.metrics.RequestResolved(models.ResolutionDeliveryFailed)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if w.helpURL != "" {
		if err := w.notifier.SendText(ctx, req.RequesterID, fmt.Sprintf(msgUsefulLinks, w.helpURL)); err != nil {
			log.Printf("[Workflow] Failed to send links to %d: %v", req.RequesterID, err)
		}
	}

	grant := &models.Grant{
		CredentialID:   req.RequestID,
		ServerID:       server.ID,
		RequesterID:    req.RequesterID,
		PlanID:         plan.ID,
		ValidUntil:     models.ExpiryAfter(w.now().UTC(), plan.DurationMonths),
		ServerAlias:    server.Alias,
		ServerAddress:  server.Address,
		ServerLocation: server.Location,
	}
	if err := w.store.CreateGrant(ctx, grant); err != nil {
		w.orphaned(ctx, req.RequestID, server.Address, "grant insert failed: "+err.Error())
		return nil, fmt.Errorf("create grant: %w", err)
	}

	w.logAction(ctx, grant.CredentialID, models.ActionGranted, "active", "Grant created",
		map[string]interface{}{
			"server":       server.Address,
			"requester_id": req.RequesterID,
			"plan_id":      plan.ID,
			"valid_until":  grant.ValidUntil.Format(time.RFC3339),
		})
	w.metrics.RequestResolved(models.ResolutionGranted)

	log.Printf("[Workflow] Grant created: credential=%s requester=%d valid_until=%s",
		grant.CredentialID, grant.RequesterID, grant.ValidUntil.Format(time.RFC3339))
	return grant, nil
}

// Reject drops the request and tells the requester. Nodes are not contacted.
func (w *Workflow) Reject(ctx context.Context, requestID string) (*models.PurchaseRequest, error) {
	req, err := w.store.DeleteRequest(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		w.requestNotFound(ctx, requestID)
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete request: %w", err)
	}

	if err := w.notifier.SendText(ctx, req.RequesterID, rejectedMessage(req.RequestID)); err != nil {
		log.Printf("[Workflow] Failed to notify requester %d of rejection: %v", req.RequesterID, err)
	}

	w.logAction(ctx, req.RequestID, models.ActionRejected, "rejected", "Request rejected", nil)
	w.metrics.RequestResolved(models.ResolutionRejected)

	log.Printf("[Workflow] Request rejected: %s", requestID)
	return req, nil
}

// ListGrants returns the requester's grants, soonest expiry first
func (w *Workflow) ListGrants(ctx context.Context, requesterID int64) ([]*models.Grant, error) {
	grants, err := w.store.ListGrantsByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

// PendingRequests counts the requester's requests still waiting for approval
func (w *Workflow) PendingRequests(ctx context.Context, requesterID int64) (int, error) {
	n, err := w.store.CountRequestsByRequester(ctx, requesterID)
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}

// ActionLog returns the newest audit entries for a credential
func (w *Workflow) ActionLog(ctx context.Context, credentialID string, limit int) ([]*models.ActionLog, error) {
	logs, err := w.store.ListLogs(ctx, credentialID, limit)
	if err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	return logs, nil
}

// ResendCredentials fetches the link for one of the requester's grants again and delivers it
func (w *Workflow) ResendCredentials(ctx context.Context, requesterID int64, credentialID string) error {
	grant, err := w.store.FindGrant(ctx, requesterID, credentialID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrGrantNotFound
	}
	if err != nil {
		return fmt.Errorf("find grant: %w", err)
	}

	uri, err := w.quietNode.Credentials(ctx, grant.ServerAddress, requesterID, credentialID)
	if err != nil {
		log.Printf("[Workflow] Couldn't reach %s for credential %s: %v", grant.ServerAddress, credentialID, err)
		w.sendFailure(ctx, requesterID)
		return err
	}

	server, _ := w.catalog.Server(grant.ServerID)
	if err := w.deliver(ctx, requesterID, uri, credentialsCaption(grant, server)); err != nil {
		log.Printf("[Workflow] Re-delivery to %d failed: %v", requesterID, err)
		w.sendFailure(ctx, requesterID)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (w *Workflow) deliver(ctx context.Context, chatID int64, uri, caption string) error {
	png, err := w.encoder.Encode(uri)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	return w.notifier.SendImage(ctx, chatID, png, caption)
}

func (w *Workflow) sendFailure(ctx context.Context, chatID int64) {
	if err := w.notifier.SendText(ctx, chatID, msgUnexpectedError); err != nil {
		log.Printf("[Workflow] Failed to notify requester %d: %v", chatID, err)
	}
}

func (w *Workflow) requestNotFound(ctx context.Context, requestID string) {
	log.Printf("[Workflow] Request not found: %s", requestID)
	if err := w.approver.RequestNotFound(ctx, requestID); err != nil {
		log.Printf("[Workflow] Failed to tell approver about missing request %s: %v", requestID, err)
	}
	w.metrics.RequestResolved(models.ResolutionNotFound)
}

// unreachable leaves the request pending for another approval attempt
func (w *Workflow) unreachable(ctx context.Context, requestID, address string, err error) {
	w.metrics.RequestResolved(models.ResolutionNodeUnreachable)
	w.logAction(ctx, requestID, models.ActionNodeUnreachable, "pending", err.Error(),
		map[string]interface{}{"server": address})
}

// orphaned reports a credential that exists on a node without a grant row
func (w *Workflow) orphaned(ctx context.Context, credentialID, address, reason string) {
	log.Printf("[Workflow] ORPHANED credential %s on %s: %s", credentialID, address, reason)
	w.metrics.CredentialOrphaned()
	if err := w.notifier.Alert(ctx, orphanAlert(credentialID, address, reason)); err != nil {
		log.Printf("[Workflow] Failed to alert operator about %s: %v", credentialID, err)
	}
	w.logAction(ctx, credentialID, models.ActionOrphanCredential, "orphaned", reason,
		map[string]interface{}{"server": address})
}

func (w *Workflow) logAction(ctx context.Context, credentialID, action, status, message string, metadata map[string]interface{}) {
	if err := w.store.LogAction(ctx, credentialID, action, status, message, metadata); err != nil {
		log.Printf("[Workflow] Failed to log %s for %s: %v", action, credentialID, err)
	}
}
