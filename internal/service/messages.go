package service

import (
	"fmt"

	"github.com/wenwu/saas-platform/access-service/internal/models"
)

const (
	msgUnexpectedError = "⚠️ Something went wrong on our side. The administrator has been notified, please try again later."
	msgUsefulLinks     = "📲 Client apps and a setup guide: %s"
)

func purchaseCompletedCaption(server models.ServerNode) string {
	return fmt.Sprintf("✅ Your access to %s %s (%s) is ready.\nScan this QR code with your client app.",
		server.FlagEmoji(), server.Alias, server.Location)
}

func credentialsCaption(grant *models.Grant, server models.ServerNode) string {
	return fmt.Sprintf("🔑 Credentials for %s %s (%s)\nValid until %s",
		server.FlagEmoji(), grant.ServerAlias, grant.ServerLocation, grant.ValidUntil.Format("02.01.2006"))
}

func rejectedMessage(requestID string) string {
	return fmt.Sprintf("❌ Your purchase request %s was rejected.", requestID)
}

func expiredMessage(grant *models.Grant) string {
	return fmt.Sprintf("⌛ Your subscription to %s (%s) has expired.\nSubscription id: %s",
		grant.ServerAlias, grant.ServerLocation, grant.CredentialID)
}

func orphanAlert(credentialID, address, reason string) string {
	return fmt.Sprintf("⚠️ Credential %s is provisioned on %s but has no grant (%s).\nRemove it from the node or record the grant by hand.",
		credentialID, address, reason)
}
