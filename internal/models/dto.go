package models

// ==================== User API DTOs ====================

// SubmitRequest is sent by a requester who picked a server and a plan
type SubmitRequest struct {
	ServerID    int    `json:"server_id" binding:"required"`
	PlanID      int    `json:"plan_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

// SubmitResponse is returned after a purchase request was recorded
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	CreatedAt string `json:"created_at"`
	Message   string `json:"message"`
}

// GrantInfo is a requester-facing view of an active grant
type GrantInfo struct {
	CredentialID   string `json:"credential_id"`
	ServerID       int    `json:"server_id"`
	ServerAlias    string `json:"server_alias"`
	ServerLocation string `json:"server_location"`
	PlanID         int    `json:"plan_id"`
	ValidUntil     string `json:"valid_until"`
}

// ==================== Internal API DTOs ====================

// ResolveResponse is returned after an approve or reject action
type ResolveResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Resolution statuses reported to the approver
const (
	ResolutionGranted         = "granted"
	ResolutionRejected        = "rejected"
	ResolutionNotFound        = "not_found"
	ResolutionNodeUnreachable = "node_unreachable"
	ResolutionDeliveryFailed  = "delivery_failed"
)

// SweepResponse summarizes one sweep or reaper run
type SweepResponse struct {
	Expired int    `json:"expired"`
	Revoked int    `json:"revoked"`
	Deleted int64  `json:"deleted,omitempty"`
	Aborted bool   `json:"aborted"`
	Message string `json:"message"`
}
