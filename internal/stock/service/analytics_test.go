package service_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/testutil"
)

func ptrFloat(v float64) *float64 { return &v }

func daysFromNow(n int) func(*domain.Lot) {
	return testutil.WithExpiry(domain.Today(testNow).AddDate(0, 0, n))
}

// ============================================================================
// Expiration risk
// ============================================================================

func TestRisk_UnsoldLotNearExpiryIsCritical(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(100), daysFromNow(3))

	risk, err := h.risk.AssessExpirationRisk(h.ctx, lot.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskCritical, risk.Level)
	assert.Nil(t, risk.DaysToSellOut)
	require.NotNil(t, risk.DaysToExpiration)
	assert.Equal(t, 3, *risk.DaysToExpiration)
	assert.Equal(t, 100, risk.UnsellableQuantity)
	assert.True(t, risk.EstimatedLoss.Equal(decimal.RequireFromString("240")), risk.EstimatedLoss.String())
}

func TestRisk_VelocityFromSalesHistory(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(100), daysFromNow(20))
	h.sell(t, lot.ID, 35, "s-1", testNow.AddDate(0, 0, -10))
	h.sell(t, lot.ID, 25, "s-2", testNow)

	tests := []struct {
		name       string
		velocity   *float64
		level      domain.RiskLevel
		sellOut    float64
		unsellable int
		loss       string
	}{
		{"derived from 60 units over 30 days", nil, domain.RiskMedium, 20, 0, "0"},
		{"explicit slower velocity", ptrFloat(1), domain.RiskHigh, 40, 20, "38.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk, err := h.risk.AssessExpirationRisk(h.ctx, lot.ID, tt.velocity)
			require.NoError(t, err)
			assert.Equal(t, 40, risk.RemainingQuantity)
			assert.Equal(t, tt.level, risk.Level)
			require.NotNil(t, risk.DaysToSellOut)
			assert.Equal(t, tt.sellOut, *risk.DaysToSellOut)
			assert.Equal(t, tt.unsellable, risk.UnsellableQuantity)
			assert.True(t, risk.EstimatedLoss.Equal(decimal.RequireFromString(tt.loss)), risk.EstimatedLoss.String())
		})
	}
}

func TestRisk_Errors(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID)

	_, err := h.risk.AssessExpirationRisk(h.ctx, lot.ID, ptrFloat(-1))
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = h.risk.AssessExpirationRisk(h.ctx, "missing", nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

// ============================================================================
// Rotation
// ============================================================================

func TestRotation_Analyze(t *testing.T) {
	h := newHarness(t)
	fast := h.product()
	slow := h.product(testutil.WithFamily("dermatology"))
	lot := h.openedLot(fast.ID, testutil.WithRemaining(100))
	h.openedLot(slow.ID, testutil.WithRemaining(50))
	h.sell(t, lot.ID, 60, "s-1", testNow.AddDate(0, 0, -3))
	// Outside the monthly window.
	h.sell(t, lot.ID, 5, "s-0", testNow.AddDate(0, 0, -45))

	report, err := h.rotation.Analyze(h.ctx, "", testNow, testNow, domain.RotationFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.WindowMonthly, report.Window)
	assert.Equal(t, 30, report.Days)
	require.Len(t, report.Products, 2)

	top := report.Products[0]
	assert.Equal(t, fast.ID, top.ProductID)
	assert.Equal(t, 60, top.UnitsSold)
	assert.Equal(t, 35, top.QuantityOnHand)
	assert.Equal(t, 67.5, top.AverageStock)
	assert.Equal(t, 730.0, top.AnnualConsumption)
	assert.Equal(t, domain.RotationExcellent, top.Class)

	assert.Equal(t, slow.ID, report.Products[1].ProductID)
	assert.Equal(t, domain.RotationCritical, report.Products[1].Class)
	assert.Equal(t, 1, report.Stats.ByClass[domain.RotationExcellent])
	assert.Equal(t, 1, report.Stats.ByClass[domain.RotationCritical])
	assert.Equal(t, 60, report.Metrics.TotalUnitsSold)

	filtered, err := h.rotation.Analyze(h.ctx, domain.WindowMonthly, testNow, testNow, domain.RotationFilter{Family: "dermatology"})
	require.NoError(t, err)
	require.Len(t, filtered.Products, 1)
	assert.Equal(t, slow.ID, filtered.Products[0].ProductID)

	byClass, err := h.rotation.Analyze(h.ctx, domain.WindowMonthly, testNow, testNow, domain.RotationFilter{Class: domain.RotationExcellent})
	require.NoError(t, err)
	require.Len(t, byClass.Products, 1)
	assert.Equal(t, fast.ID, byClass.Products[0].ProductID)
}

func TestRotation_CachesUntilNextMovement(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(100))

	first, err := h.rotation.Analyze(h.ctx, domain.WindowMonthly, testNow, testNow, domain.RotationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 100, first.Products[0].QuantityOnHand)

	// Seeded outside the ledger, so the cached report is still served.
	h.openedLot(p.ID, testutil.WithRemaining(20))
	cached, err := h.rotation.Analyze(h.ctx, domain.WindowMonthly, testNow, testNow, domain.RotationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 100, cached.Products[0].QuantityOnHand)

	h.sell(t, lot.ID, 10, "s-1", testNow)
	fresh, err := h.rotation.Analyze(h.ctx, domain.WindowMonthly, testNow, testNow, domain.RotationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 110, fresh.Products[0].QuantityOnHand)
	assert.Equal(t, 10, fresh.Products[0].UnitsSold)
}

func TestRotation_InvalidWindow(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		window domain.Window
		from   time.Time
	}{
		{"unknown window", domain.Window("weekly"), time.Time{}},
		{"custom without start", domain.WindowCustom, time.Time{}},
		{"custom starting after end", domain.WindowCustom, testNow.AddDate(0, 0, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.rotation.Analyze(h.ctx, tt.window, tt.from, testNow, domain.RotationFilter{})
			require.Error(t, err)
			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "BAD_REQUEST", appErr.Code)
		})
	}
}

// ============================================================================
// FIFO
// ============================================================================

func TestRotation_CheckFIFO(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	today := domain.Today(testNow)
	oldest := h.openedLot(p.ID, testutil.WithLotNumber("OLD"), testutil.WithRemaining(10), testutil.WithReceivedOn(today.AddDate(0, 0, -40)))
	recent := h.openedLot(p.ID, testutil.WithLotNumber("MID"), testutil.WithRemaining(10), testutil.WithReceivedOn(today.AddDate(0, 0, -35)))
	newest := h.openedLot(p.ID, testutil.WithLotNumber("NEW"), testutil.WithRemaining(10), testutil.WithReceivedOn(today))

	tests := []struct {
		name      string
		lotID     string
		compliant bool
		deviation int
	}{
		{"oldest lot", oldest.ID, true, 0},
		{"within tolerance", recent.ID, true, 5},
		{"beyond tolerance", newest.ID, false, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := h.rotation.CheckFIFO(h.ctx, p.ID, tt.lotID)
			require.NoError(t, err)
			assert.Equal(t, tt.compliant, check.Compliant)
			assert.Equal(t, tt.deviation, check.DeviationDays)
			assert.Equal(t, oldest.ID, check.OldestLotID)
			if !tt.compliant {
				require.NotNil(t, check.SuggestedLotID)
				assert.Equal(t, oldest.ID, *check.SuggestedLotID)
				assert.True(t, check.EstimatedExposure.IsPositive())
			}
		})
	}

	other := h.product()
	_, err := h.rotation.CheckFIFO(h.ctx, other.ID, oldest.ID)
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "BAD_REQUEST", appErr.Code)
}

// ============================================================================
// Stockout
// ============================================================================

func TestRotation_PredictStockout(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(150))
	h.sell(t, lot.ID, 30, "s-1", testNow.AddDate(0, 0, -20))
	h.sell(t, lot.ID, 30, "s-2", testNow.AddDate(0, 0, -1))

	tests := []struct {
		name        string
		coefficient *float64
		days        float64
		date        int
	}{
		{"configured coefficient", nil, 37.5, 37},
		{"no buffer", ptrFloat(0), 45, 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := h.rotation.PredictStockout(h.ctx, p.ID, tt.coefficient)
			require.NoError(t, err)
			assert.Equal(t, 90, pred.RemainingQuantity)
			assert.Equal(t, 2.0, pred.AverageDailySales)
			require.NotNil(t, pred.DaysUntilStockout)
			assert.Equal(t, tt.days, *pred.DaysUntilStockout)
			require.NotNil(t, pred.StockoutDate)
			assert.Equal(t, domain.Today(testNow).AddDate(0, 0, tt.date), *pred.StockoutDate)
			assert.Greater(t, pred.ObservedVariation, 0.0)
		})
	}
}

func TestRotation_PredictStockoutWithoutDemand(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	h.openedLot(p.ID)

	pred, err := h.rotation.PredictStockout(h.ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, pred.DaysUntilStockout)
	assert.Nil(t, pred.StockoutDate)

	_, err = h.rotation.PredictStockout(h.ctx, p.ID, ptrFloat(-0.1))
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = h.rotation.PredictStockout(h.ctx, "missing", nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
