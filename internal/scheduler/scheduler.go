package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wenwu/saas-platform/access-service/internal/service"
)

// Jobs are the periodic tasks the scheduler drives
type Jobs interface {
	SweepExpired(ctx context.Context) (*service.SweepReport, error)
	ReapStaleRequests(ctx context.Context) (int64, error)
}

// Scheduler runs the grant sweep and request reaper on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	jobs    Jobs
	timeout time.Duration
}

// New registers both jobs. Schedules use the standard five-field cron syntax in UTC.
func New(jobs Jobs, grantSweep, requestReap string) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		jobs:    jobs,
		timeout: 30 * time.Minute,
	}

	if _, err := s.cron.AddFunc(grantSweep, s.runGrantSweep); err != nil {
		return nil, fmt.Errorf("grant sweep schedule %q: %w", grantSweep, err)
	}
	if _, err := s.cron.AddFunc(requestReap, s.runRequestReap); err != nil {
		return nil, fmt.Errorf("request reap schedule %q: %w", requestReap, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		log.Printf("[Scheduler] Job %d next run at %s", e.ID, e.Next.Format(time.RFC3339))
	}
}

// Stop prevents new runs and waits for running ones up to ctx
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Println("[Scheduler] Timed out waiting for running jobs")
	}
}

func (s *Scheduler) runGrantSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.jobs.SweepExpired(ctx)
	switch {
	case errors.Is(err, service.ErrSweepRunning):
		return
	case err != nil:
		log.Printf("[Scheduler] Grant sweep failed: %v", err)
	case report != nil:
		log.Printf("[Scheduler] Grant sweep done: %d/%d revoked", report.Revoked, report.Expired)
	}
}

func (s *Scheduler) runRequestReap() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.jobs.ReapStaleRequests(ctx)
	switch {
	case errors.Is(err, service.ErrSweepRunning):
		return
	case err != nil:
		log.Printf("[Scheduler] Request reap failed: %v", err)
	default:
		log.Printf("[Scheduler] Request reap done: %d deleted", n)
	}
}
