package models

import "time"

// MaxLiveRequestsPerRequester bounds the pending purchase requests one requester may hold
const MaxLiveRequestsPerRequester = 2

// PurchaseRequest is a pending, unapproved intent to obtain a Grant.
// The RequestID doubles as the credential id once approved.
type PurchaseRequest struct {
	RequestID     string    `json:"request_id"`
	RequesterID   int64     `json:"requester_id"`
	RequesterName *string   `json:"requester_name,omitempty"`
	ServerID      int       `json:"server_id"`
	PlanID        int       `json:"plan_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// DisplayName returns the requester name or a placeholder
func (r *PurchaseRequest) DisplayName() string {
	if r.RequesterName == nil || *r.RequesterName == "" {
		return "-"
	}
	return *r.RequesterName
}
