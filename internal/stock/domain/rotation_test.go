package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
)

func TestClassifyTurnover(t *testing.T) {
	tests := []struct {
		rate float64
		want domain.RotationClass
	}{
		{12, domain.RotationExcellent},
		{10, domain.RotationExcellent},
		{9.99, domain.RotationGood},
		{6, domain.RotationGood},
		{5, domain.RotationMedium},
		{3, domain.RotationMedium},
		{1, domain.RotationWeak},
		{0.5, domain.RotationCritical},
		{0, domain.RotationCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.ClassifyTurnover(tt.rate), "rate %v", tt.rate)
	}
}

var classRank = map[domain.RotationClass]int{
	domain.RotationCritical:  0,
	domain.RotationWeak:      1,
	domain.RotationMedium:    2,
	domain.RotationGood:      3,
	domain.RotationExcellent: 4,
}

func TestTurnoverRate_MonotonicInConsumption(t *testing.T) {
	lots := []domain.Lot{
		{QuantityInitial: 100, QuantityRemaining: 40},
		{QuantityInitial: 60, QuantityRemaining: 60},
	}
	avg := domain.AverageStock(lots)

	prevRate := -1.0
	prevRank := -1
	for sold := 0; sold <= 1000; sold += 7 {
		rate := domain.TurnoverRate(domain.AnnualConsumption(sold, 90), avg)
		rank := classRank[domain.ClassifyTurnover(rate)]
		assert.GreaterOrEqual(t, rate, prevRate)
		assert.GreaterOrEqual(t, rank, prevRank)
		prevRate, prevRank = rate, rank
	}
}

func TestAnalyzeProduct(t *testing.T) {
	family := "antalgiques"
	p := domain.Product{ID: "prod-1", Name: "Paracetamol 500mg", Family: &family}
	lots := []domain.Lot{
		{QuantityInitial: 100, QuantityRemaining: 50, UnitCost: decimal.RequireFromString("0.80")},
	}

	r := domain.AnalyzeProduct(p, lots, 75, 30)

	assert.Equal(t, "antalgiques", r.Family)
	assert.Equal(t, 75.0, r.AverageStock)
	assert.Equal(t, 912.5, r.AnnualConsumption)
	assert.Equal(t, 12.17, r.TurnoverRate)
	assert.Equal(t, domain.RotationExcellent, r.Class)
	assert.Equal(t, 50, r.QuantityOnHand)
	assert.True(t, r.StockValue.Equal(decimal.NewFromInt(40)))
	require.NotNil(t, r.DaysOfCover)
	assert.Equal(t, 20.0, *r.DaysOfCover)
}

func TestAnalyzeProduct_NoStock(t *testing.T) {
	r := domain.AnalyzeProduct(domain.Product{ID: "prod-1"}, nil, 10, 30)
	assert.Equal(t, 0.0, r.TurnoverRate)
	assert.Equal(t, domain.RotationCritical, r.Class)
}

func TestWindow_Range(t *testing.T) {
	to := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

	from, end, days, err := domain.WindowMonthly.Range(time.Time{}, to)
	require.NoError(t, err)
	assert.Equal(t, 30, days)
	assert.Equal(t, time.Date(2026, 9, 17, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), end)

	_, _, days, err = domain.WindowQuarterly.Range(time.Time{}, to)
	require.NoError(t, err)
	assert.Equal(t, 90, days)

	_, _, days, err = domain.WindowYearly.Range(time.Time{}, to)
	require.NoError(t, err)
	assert.Equal(t, 365, days)

	from, _, days, err = domain.WindowCustom.Range(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), to)
	require.NoError(t, err)
	assert.Equal(t, 16, days)
	assert.Equal(t, 1, from.Day())

	_, _, days, err = domain.WindowCustom.Range(to, to)
	require.NoError(t, err)
	assert.Equal(t, 1, days)

	_, _, _, err = domain.WindowCustom.Range(time.Time{}, to)
	assert.Error(t, err)

	_, _, _, err = domain.WindowCustom.Range(to.AddDate(0, 0, 1), to)
	assert.Error(t, err)

	_, _, _, err = domain.Window("weekly").Range(time.Time{}, to)
	assert.Error(t, err)
}

func TestRotationReport_Summarize(t *testing.T) {
	report := domain.RotationReport{
		Products: []domain.ProductRotation{
			{ProductID: "a", Class: domain.RotationExcellent, TurnoverRate: 12, StockValue: decimal.NewFromInt(300), UnitsSold: 90, QuantityOnHand: 10},
			{ProductID: "b", Class: domain.RotationWeak, TurnoverRate: 2, StockValue: decimal.NewFromInt(100), UnitsSold: 5, QuantityOnHand: 40},
		},
	}
	report.Summarize()

	assert.Equal(t, 2, report.Stats.ProductCount)
	assert.Equal(t, 1, report.Stats.ByClass[domain.RotationExcellent])
	assert.Equal(t, 1, report.Stats.ByClass[domain.RotationWeak])
	assert.Equal(t, 0, report.Stats.ByClass[domain.RotationGood])
	assert.Equal(t, 7.0, report.Metrics.AverageTurnover)
	assert.True(t, report.Metrics.TotalStockValue.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, 25.0, report.Metrics.SlowMovingShare)
	assert.Equal(t, 95, report.Metrics.TotalUnitsSold)
	assert.Equal(t, 50, report.Metrics.TotalUnitsOnHand)
}

func TestRotationFilter_Match(t *testing.T) {
	f := domain.RotationFilter{Class: domain.RotationWeak}
	assert.True(t, f.Match(domain.ProductRotation{Class: domain.RotationWeak}))
	assert.False(t, f.Match(domain.ProductRotation{Class: domain.RotationGood}))
	assert.True(t, domain.RotationFilter{}.Match(domain.ProductRotation{Class: domain.RotationGood}))
}
