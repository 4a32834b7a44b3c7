package service

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// AlertScanner raises expiry alerts for the tenant in ctx. An alert already
// open for the same lot is not raised again.
type AlertScanner struct {
	lots        LotRepository
	movements   MovementRepository
	alerts      AlertRepository
	publisher   EventPublisher
	cfg         AnalyticsConfig
	horizonDays int
	clock       Clock
	logger      *logger.Logger
}

// NewAlertScanner creates a new alert scanner
func NewAlertScanner(
	lots LotRepository,
	movements MovementRepository,
	alerts AlertRepository,
	publisher EventPublisher,
	cfg AnalyticsConfig,
	horizonDays int,
	log *logger.Logger,
) *AlertScanner {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &AlertScanner{
		lots:        lots,
		movements:   movements,
		alerts:      alerts,
		publisher:   publisher,
		cfg:         cfg,
		horizonDays: horizonDays,
		logger:      log.WithComponent("alert-scanner"),
	}
}

// ScanAll assesses every lot with stock expiring within the horizon and
// returns how many new alerts it created. Failures on single lots are logged
// and the scan goes on.
func (s *AlertScanner) ScanAll(ctx context.Context) (int, error) {
	today := s.clock.now()
	horizon := domain.Today(today).AddDate(0, 0, s.horizonDays)

	lots, err := s.lots.ListExpiring(ctx, horizon)
	if err != nil {
		return 0, err
	}
	if len(lots) == 0 {
		return 0, nil
	}

	days := s.cfg.lookback()
	from, to := salesWindow(today, days)
	sold, err := s.movements.UnitsSoldByProduct(ctx, from, to)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range lots {
		risk := domain.AssessExpiration(&lots[i], domain.AverageDailySales(sold[lots[i].ProductID], days), today)
		alert := domain.AlertFromRisk(risk)
		if alert == nil {
			continue
		}
		ok, err := s.alerts.CreateIfAbsent(ctx, alert)
		if err != nil {
			s.logger.Error().Err(err).Str("lot_id", lots[i].ID).Msg("failed to create expiry alert")
			continue
		}
		if ok {
			created++
			s.publisher.PublishAlertGenerated(ctx, alert)
		}
	}

	s.logger.Info().
		Int("lots_scanned", len(lots)).
		Int("alerts_created", created).
		Msg("expiry scan completed")
	return created, nil
}

// AlertService lists and acknowledges alerts.
type AlertService struct {
	repo   AlertRepository
	logger *logger.Logger
}

// NewAlertService creates a new alert service
func NewAlertService(repo AlertRepository, log *logger.Logger) *AlertService {
	return &AlertService{repo: repo, logger: log}
}

// List lists alerts, most severe first.
func (s *AlertService) List(ctx context.Context, filter domain.AlertFilter, page, perPage int) ([]domain.Alert, int64, error) {
	return s.repo.List(ctx, filter, page, perPage)
}

// Acknowledge closes an open alert.
func (s *AlertService) Acknowledge(ctx context.Context, id, userID string) error {
	return s.repo.Acknowledge(ctx, id, userID)
}
