package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/cache"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// AnalyticsConfig tunes the rotation and risk analyzers.
type AnalyticsConfig struct {
	FIFOToleranceDays    int
	VariationCoefficient float64
	// LookbackDays is the sales history used for velocities.
	LookbackDays int
	CacheTTL     time.Duration
}

func (c AnalyticsConfig) lookback() int {
	if c.LookbackDays <= 0 {
		return 90
	}
	return c.LookbackDays
}

// salesWindow is [today - lookback, tomorrow), so today's sales count.
func salesWindow(today time.Time, days int) (time.Time, time.Time) {
	to := domain.Today(today).AddDate(0, 0, 1)
	return to.AddDate(0, 0, -days), to
}

// RotationService is the read-only turnover, FIFO and stockout analyzer.
// Reports are cached per tenant until the next committed movement.
type RotationService struct {
	lots      LotRepository
	movements MovementRepository
	products  ProductCatalog
	cache     cache.VersionedCache
	cfg       AnalyticsConfig
	clock     Clock
	logger    *logger.Logger
}

// NewRotationService creates a rotation analyzer. reportCache may be nil.
func NewRotationService(lots LotRepository, movements MovementRepository, products ProductCatalog, reportCache cache.VersionedCache, cfg AnalyticsConfig, log *logger.Logger) *RotationService {
	return &RotationService{
		lots:      lots,
		movements: movements,
		products:  products,
		cache:     reportCache,
		cfg:       cfg,
		logger:    log.WithComponent("rotation"),
	}
}

// Analyze computes turnover per product over a window ending at to (today
// when zero). from is only read for custom windows.
func (s *RotationService) Analyze(ctx context.Context, window domain.Window, from, to time.Time, filter domain.RotationFilter) (*domain.RotationReport, error) {
	if window == "" {
		window = domain.WindowMonthly
	}
	if to.IsZero() {
		to = s.clock.now()
	}
	start, end, days, err := window.Range(from, to)
	if err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	scope := rotationScope(ctx)
	key := fmt.Sprintf("%s|%s|%s|%s|%s|%s", window, start.Format("2006-01-02"), end.Format("2006-01-02"),
		filter.ProductID, filter.Family, filter.Class)
	if s.cache != nil {
		var cached domain.RotationReport
		found, err := s.cache.Get(ctx, scope, key, &cached)
		if err != nil {
			s.logger.Warn().Err(err).Msg("rotation cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	products, err := s.products.List(ctx, filter.ProductID, filter.Family)
	if err != nil {
		return nil, err
	}
	sold, err := s.movements.UnitsSoldByProduct(ctx, start, end)
	if err != nil {
		return nil, err
	}
	lots, err := s.lots.List(ctx, domain.LotFilter{ProductID: filter.ProductID})
	if err != nil {
		return nil, err
	}
	byProduct := make(map[string][]domain.Lot)
	for _, l := range lots {
		if l.ReceptionDate.Before(end) {
			byProduct[l.ProductID] = append(byProduct[l.ProductID], l)
		}
	}

	report := &domain.RotationReport{Window: window, From: start, To: end, Days: days, Products: []domain.ProductRotation{}}
	for _, p := range products {
		row := domain.AnalyzeProduct(p, byProduct[p.ID], sold[p.ID], days)
		if filter.Match(row) {
			report.Products = append(report.Products, row)
		}
	}
	sort.SliceStable(report.Products, func(i, j int) bool {
		a, b := report.Products[i], report.Products[j]
		if a.TurnoverRate != b.TurnoverRate {
			return a.TurnoverRate > b.TurnoverRate
		}
		return a.ProductName < b.ProductName
	})
	report.Summarize()

	if s.cache != nil {
		if err := s.cache.Set(ctx, scope, key, report, s.cfg.CacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("rotation cache write failed")
		}
	}
	return report, nil
}

// CheckFIFO checks a lot pick against the oldest available lot of its product.
func (s *RotationService) CheckFIFO(ctx context.Context, productID, lotID string) (*domain.FIFOCheck, error) {
	lot, err := s.lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if productID != "" && lot.ProductID != productID {
		return nil, errors.BadRequest("lot does not belong to the product")
	}
	available, err := s.lots.ListAvailableByProduct(ctx, lot.ProductID)
	if err != nil {
		return nil, err
	}
	check := domain.CheckFIFO(lot, available, s.cfg.FIFOToleranceDays)
	return &check, nil
}

// PredictStockout projects when a product's available stock runs out.
// coefficient overrides the configured demand buffer when set.
func (s *RotationService) PredictStockout(ctx context.Context, productID string, coefficient *float64) (*domain.StockoutPrediction, error) {
	cv := s.cfg.VariationCoefficient
	if coefficient != nil {
		if *coefficient < 0 {
			return nil, errors.Validation(map[string]string{"variation_coefficient": "must not be negative"})
		}
		cv = *coefficient
	}

	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	lots, err := s.lots.ListAvailableByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	remaining := 0
	for i := range lots {
		remaining += lots[i].QuantityRemaining
	}

	today := s.clock.now()
	days := s.cfg.lookback()
	from, to := salesWindow(today, days)
	series, err := s.movements.DailySales(ctx, productID, from, to)
	if err != nil {
		return nil, err
	}
	units := 0
	for _, d := range series {
		units += d.Units
	}

	p := domain.PredictStockout(productID, remaining, domain.AverageDailySales(units, days), cv, today)
	p.ObservedVariation = domain.VariationCoefficient(series, days, 0)
	return &p, nil
}
