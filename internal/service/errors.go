package service

import (
	"errors"

	"github.com/wenwu/saas-platform/access-service/internal/client"
)

var (
	ErrQuotaExceeded     = errors.New("too many pending purchase requests")
	ErrDuplicateRequest  = errors.New("a request for this server is already pending")
	ErrAlreadySubscribed = errors.New("requester already holds a grant on this server")
	ErrUnknownServer     = errors.New("unknown server")
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrRequestNotFound   = errors.New("purchase request not found")
	ErrGrantNotFound     = errors.New("grant not found")
	ErrNodeUnreachable   = client.ErrNodeUnreachable
	ErrDeliveryFailed    = errors.New("credential delivery failed")
	ErrSweepAborted      = errors.New("sweep aborted")
	ErrSweepRunning      = errors.New("sweep already running")
)
