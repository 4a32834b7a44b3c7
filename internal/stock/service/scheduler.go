package service

import (
	"context"
	"sync"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

// AlertScheduler runs the expiry scan periodically across all active tenants.
type AlertScheduler struct {
	scanner  *AlertScanner
	tenants  TenantLister
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     sync.WaitGroup
}

// NewAlertScheduler creates a new alert scheduler
func NewAlertScheduler(scanner *AlertScanner, tenants TenantLister, interval time.Duration, log *logger.Logger) *AlertScheduler {
	return &AlertScheduler{
		scanner:  scanner,
		tenants:  tenants,
		interval: interval,
		logger:   log.WithComponent("alert-scheduler"),
	}
}

// Start scans once immediately, then on every tick until Stop.
func (s *AlertScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		s.logger.Info().Dur("interval", s.interval).Msg("alert scheduler started")

		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("alert scheduler stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running cycle to end.
func (s *AlertScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.done.Wait()
}

// RunOnce scans every active tenant as the system operator and returns the
// number of alerts created.
func (s *AlertScheduler) RunOnce(ctx context.Context) int {
	start := time.Now()

	tenantIDs, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query active tenants")
		return 0
	}

	created := 0
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			break
		}
		tenantCtx := actor.WithActor(tenant.WithTenantID(ctx, tenantID), actor.SystemActor())

		n, err := s.scanner.ScanAll(tenantCtx)
		if err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("expiry scan failed for tenant")
			continue
		}
		created += n
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("tenant_count", len(tenantIDs)).
		Int("alerts_created", created).
		Msg("expiry scan cycle completed")
	return created
}
