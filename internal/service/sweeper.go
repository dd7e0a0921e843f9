package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wenwu/saas-platform/access-service/internal/metrics"
	"github.com/wenwu/saas-platform/access-service/internal/models"
	"github.com/wenwu/saas-platform/access-service/internal/repository"
)

const (
	TaskGrantSweep  = "grant_sweep"
	TaskRequestReap = "request_reap"
)

// SweepReport describes one SweepExpired run
type SweepReport struct {
	Expired int
	Revoked int
	Aborted bool
	// FailedCredential is the grant whose revocation stopped the run
	FailedCredential string
}

// Sweeper revokes expired grants and reaps stale purchase requests.
// Each task runs at most once at a time; an overlapping trigger is skipped.
type Sweeper struct {
	store     repository.Store
	node      NodeClient
	notifier  Notifier
	metrics   *metrics.Metrics
	retention time.Duration
	now       func() time.Time

	sweepMu sync.Mutex
	reapMu  sync.Mutex
}

func NewSweeper(store repository.Store, node NodeClient, notifier Notifier, m *metrics.Metrics, retention time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		node:      node,
		notifier:  notifier,
		metrics:   m,
		retention: retention,
		now:       time.Now,
	}
}

// ReapStaleRequests deletes purchase requests older than the retention window
func (s *Sweeper) ReapStaleRequests(ctx context.Context) (int64, error) {
	if !s.reapMu.TryLock() {
		log.Println("[Sweeper] Request reap already running, skipping")
		return 0, ErrSweepRunning
	}
	defer s.reapMu.Unlock()

	threshold := s.now().UTC().Add(-s.retention)
	n, err := s.store.DeleteRequestsOlderThan(ctx, threshold)
	s.metrics.SweepRun(TaskRequestReap, err)
	if err != nil {
		return 0, fmt.Errorf("reap requests: %w", err)
	}
	s.metrics.RequestsReaped(n)

	log.Printf("[Sweeper] Reaped %d purchase requests older than %s", n, threshold.Format(time.RFC3339))
	return n, nil
}

// SweepExpired revokes every expired grant on its node in store order, then deletes it.
// The first failed revocation aborts the run; remaining grants wait for the next one.
func (s *Sweeper) SweepExpired(ctx context.Context) (*SweepReport, error) {
	if !s.sweepMu.TryLock() {
		log.Println("[Sweeper] Grant sweep already running, skipping")
		return nil, ErrSweepRunning
	}
	defer s.sweepMu.Unlock()

	report, err := s.sweep(ctx)
	s.metrics.SweepRun(TaskGrantSweep, err)
	return report, err
}

func (s *Sweeper) sweep(ctx context.Context) (*SweepReport, error) {
	expired, err := s.store.ListExpiredGrants(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired grants: %w", err)
	}

	report := &SweepReport{Expired: len(expired)}
	log.Printf("[Sweeper] Found %d expired grants", len(expired))

	for _, grant := range expired {
		if err := s.node.Delete(ctx, grant.ServerAddress, grant.RequesterID, grant.CredentialID); err != nil {
			s.logAction(ctx, grant, models.ActionRevokeFailed, "failed", err.Error())
			report.Aborted = true
			report.FailedCredential = grant.CredentialID
			log.Printf("[Sweeper] Aborting sweep after %d/%d: %v", report.Revoked, report.Expired, err)
			return report, fmt.Errorf("%w: revoke %s: %v", ErrSweepAborted, grant.CredentialID, err)
		}

		if err := s.store.DeleteGrant(ctx, grant.CredentialID); err != nil {
			report.Aborted = true
			report.FailedCredential = grant.CredentialID
			return report, fmt.Errorf("%w: delete grant %s: %v", ErrSweepAborted, grant.CredentialID, err)
		}

		report.Revoked++
		s.metrics.GrantRevoked()
		s.logAction(ctx, grant, models.ActionRevoked, "revoked", "Grant expired and revoked")

		if err := s.notifier.SendText(ctx, grant.RequesterID, expiredMessage(grant)); err != nil {
			log.Printf("[Sweeper] Failed to notify requester %d of expiry: %v", grant.RequesterID, err)
		}
	}

	log.Printf("[Sweeper] Revoked %d expired grants", report.Revoked)
	return report, nil
}

func (s *Sweeper) logAction(ctx context.Context, grant *models.Grant, action, status, message string) {
	metadata := map[string]interface{}{
		"server":       grant.ServerAddress,
		"requester_id": grant.RequesterID,
		"valid_until":  grant.ValidUntil.Format(time.RFC3339),
	}
	if err := s.store.LogAction(ctx, grant.CredentialID, action, status, message, metadata); err != nil {
		log.Printf("[Sweeper] Failed to log %s for %s: %v", action, grant.CredentialID, err)
	}
}
