package telegram

import (
	"fmt"
	"strings"
)

const (
	actionApprove = "r-ac"
	actionReject  = "r-rj"
)

func callbackData(action, requestID string) string {
	return action + ":" + requestID
}

// parseCallback splits "<action>:<request id>"
func parseCallback(data string) (action, requestID string, err error) {
	action, requestID, ok := strings.Cut(strings.TrimSpace(data), ":")
	if !ok || requestID == "" {
		return "", "", fmt.Errorf("malformed callback %q", data)
	}
	switch action {
	case actionApprove, actionReject:
		return action, requestID, nil
	default:
		return "", "", fmt.Errorf("unknown callback action %q", action)
	}
}
