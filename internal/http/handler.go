package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/access-service/internal/catalog"
	"github.com/wenwu/saas-platform/access-service/internal/models"
	"github.com/wenwu/saas-platform/access-service/internal/service"
)

type Handler struct {
	catalog  *catalog.Catalog
	workflow *service.Workflow
	sweeper  *service.Sweeper
}

func NewHandler(cat *catalog.Catalog, workflow *service.Workflow, sweeper *service.Sweeper) *Handler {
	return &Handler{
		catalog:  cat,
		workflow: workflow,
		sweeper:  sweeper,
	}
}

// ==================== User API Handlers ====================

// GetServers lists the servers a requester can pick from
func (h *Handler) GetServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": h.catalog.Servers()})
}

// GetPlans lists the purchasable plans
func (h *Handler) GetPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": h.catalog.Plans()})
}

// SubmitRequest records a purchase request for the current user
func (h *Handler) SubmitRequest(c *gin.Context) {
	requesterID, ok := requesterFromContext(c)
	if !ok {
		return
	}

	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := req.DisplayName
	if name == "" {
		name = c.GetString("userName")
	}
	var namePtr *string
	if name != "" {
		namePtr = &name
	}

	pr, err := h.workflow.Submit(c.Request.Context(), requesterID, namePtr, req.ServerID, req.PlanID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, models.SubmitResponse{
		RequestID: pr.RequestID,
		CreatedAt: pr.CreatedAt.Format(time.RFC3339),
		Message:   "Request sent for approval",
	})
}

// GetMyGrants lists the current user's active grants
func (h *Handler) GetMyGrants(c *gin.Context) {
	requesterID, ok := requesterFromContext(c)
	if !ok {
		return
	}

	grants, err := h.workflow.ListGrants(c.Request.Context(), requesterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	pending, err := h.workflow.PendingRequests(c.Request.Context(), requesterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]models.GrantInfo, 0, len(grants))
	for _, g := range grants {
		out = append(out, models.GrantInfo{
			CredentialID:   g.CredentialID,
			ServerID:       g.ServerID,
			ServerAlias:    g.ServerAlias,
			ServerLocation: g.ServerLocation,
			PlanID:         g.PlanID,
			ValidUntil:     g.ValidUntil.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"grants": out, "pending_requests": pending})
}

// ResendCredentials delivers the QR code of one of the user's grants again
func (h *Handler) ResendCredentials(c *gin.Context) {
	requesterID, ok := requesterFromContext(c)
	if !ok {
		return
	}

	credentialID := c.Param("credential_id")
	if err := h.workflow.ResendCredentials(c.Request.Context(), requesterID, credentialID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// ==================== Internal API Handlers ====================

// ApproveRequest provisions and delivers the credential for a pending request
func (h *Handler) ApproveRequest(c *gin.Context) {
	requestID := c.Param("id")

	grant, err := h.workflow.Approve(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(statusFor(err), models.ResolveResponse{
			RequestID: requestID,
			Status:    resolutionFor(err),
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.ResolveResponse{
		RequestID: requestID,
		Status:    models.ResolutionGranted,
		Message:   "Granted until " + grant.ValidUntil.Format(time.RFC3339),
	})
}

// RejectRequest drops a pending request
func (h *Handler) RejectRequest(c *gin.Context) {
	requestID := c.Param("id")

	if _, err := h.workflow.Reject(c.Request.Context(), requestID); err != nil {
		c.JSON(statusFor(err), models.ResolveResponse{
			RequestID: requestID,
			Status:    resolutionFor(err),
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.ResolveResponse{
		RequestID: requestID,
		Status:    models.ResolutionRejected,
		Message:   "Request rejected",
	})
}

// SweepGrants runs the expired grant sweep now
func (h *Handler) SweepGrants(c *gin.Context) {
	report, err := h.sweeper.SweepExpired(c.Request.Context())
	switch {
	case errors.Is(err, service.ErrSweepRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case report == nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := models.SweepResponse{
		Expired: report.Expired,
		Revoked: report.Revoked,
		Aborted: report.Aborted,
		Message: "ok",
	}
	if err != nil {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// SweepRequests reaps stale purchase requests now
func (h *Handler) SweepRequests(c *gin.Context) {
	n, err := h.sweeper.ReapStaleRequests(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrSweepRunning) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.SweepResponse{Deleted: n, Message: "ok"})
}

// GetCredentialLogs returns the audit trail of one credential, newest first
func (h *Handler) GetCredentialLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	logs, err := h.workflow.ActionLog(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []*models.ActionLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// ==================== helpers ====================

func requesterFromContext(c *gin.Context) (int64, bool) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return 0, false
	}
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is not numeric"})
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownServer), errors.Is(err, service.ErrUnknownPlan):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrDuplicateRequest), errors.Is(err, service.ErrAlreadySubscribed):
		return http.StatusConflict
	case errors.Is(err, service.ErrRequestNotFound), errors.Is(err, service.ErrGrantNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNodeUnreachable), errors.Is(err, service.ErrDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func resolutionFor(err error) string {
	switch {
	case errors.Is(err, service.ErrRequestNotFound):
		return models.ResolutionNotFound
	case errors.Is(err, service.ErrNodeUnreachable):
		return models.ResolutionNodeUnreachable
	case errors.Is(err, service.ErrDeliveryFailed):
		return models.ResolutionDeliveryFailed
	default:
		return "error"
	}
}
