package service

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// RiskService assesses expiration risk of single lots.
type RiskService struct {
	lots      LotRepository
	movements MovementRepository
	cfg       AnalyticsConfig
	clock     Clock
	logger    *logger.Logger
}

// NewRiskService creates a new risk service
func NewRiskService(lots LotRepository, movements MovementRepository, cfg AnalyticsConfig, log *logger.Logger) *RiskService {
	return &RiskService{
		lots:      lots,
		movements: movements,
		cfg:       cfg,
		logger:    log.WithComponent("risk"),
	}
}

// AssessExpirationRisk grades a lot. velocity is units sold per day; when nil
// it is derived from the product's sales over the lookback period.
func (s *RiskService) AssessExpirationRisk(ctx context.Context, lotID string, velocity *float64) (*domain.ExpirationRisk, error) {
	if velocity != nil && *velocity < 0 {
		return nil, errors.Validation(map[string]string{"sales_velocity": "must not be negative"})
	}
	lot, err := s.lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}

	today := s.clock.now()
	var avg float64
	if velocity != nil {
		avg = *velocity
	} else {
		days := s.cfg.lookback()
		from, to := salesWindow(today, days)
		series, err := s.movements.DailySales(ctx, lot.ProductID, from, to)
		if err != nil {
			return nil, err
		}
		units := 0
		for _, d := range series {
			units += d.Units
		}
		avg = domain.AverageDailySales(units, days)
	}

	risk := domain.AssessExpiration(lot, avg, today)
	return &risk, nil
}
