package models

import "time"

// Action log actions
const (
	ActionGranted          = "granted"
	ActionRejected         = "rejected"
	ActionNodeUnreachable  = "node_unreachable"
	ActionOrphanCredential = "orphan_credential"
	ActionRevoked          = "revoked"
	ActionRevokeFailed     = "revoke_failed"
)

// ActionLog is an audit entry for a credential's lifecycle
type ActionLog struct {
	ID           string                 `json:"id"`
	CredentialID string                 `json:"credential_id"`
	Action       string                 `json:"action"`
	Status       string                 `json:"status"`
	Message      string                 `json:"message"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
