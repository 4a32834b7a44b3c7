package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

func statuses(items []domain.InventoryItem) []domain.ItemStatus {
	out := make([]domain.ItemStatus, len(items))
	for i := range items {
		out[i] = items[i].Status
	}
	return out
}

func TestInventoryItem_CountAndReset(t *testing.T) {
	items := []domain.InventoryItem{
		{ID: "i1", QuantityTheoretical: 10, Status: domain.ItemNotCounted},
		{ID: "i2", QuantityTheoretical: 4, Status: domain.ItemNotCounted},
		{ID: "i3", QuantityTheoretical: 0, Status: domain.ItemNotCounted},
	}
	before := domain.ComputeAggregates(statuses(items))
	now := time.Now()

	require.NoError(t, items[0].RecordCount(10, nil, "op-1", now))
	assert.Equal(t, domain.ItemCounted, items[0].Status)

	require.NoError(t, items[1].RecordCount(3, strPtr("B2"), "op-2", now))
	assert.Equal(t, domain.ItemDiscrepancy, items[1].Status)
	require.NotNil(t, items[1].CountedBy)
	assert.Equal(t, "op-2", *items[1].CountedBy)
	assert.Equal(t, "B2", *items[1].ActualLocation)

	agg := domain.ComputeAggregates(statuses(items))
	assert.Equal(t, domain.Aggregates{ItemsTotal: 3, ItemsCounted: 2, Discrepancies: 1, ProgressPercent: 67}, agg)

	items[0].Reset()
	items[1].Reset()
	assert.Equal(t, domain.ItemNotCounted, items[1].Status)
	assert.Nil(t, items[1].QuantityCounted)
	assert.Nil(t, items[1].ActualLocation)
	assert.Nil(t, items[1].CountedBy)
	assert.Equal(t, before, domain.ComputeAggregates(statuses(items)))
}

func TestInventoryItem_RecountOverwrites(t *testing.T) {
	it := domain.InventoryItem{ID: "i1", QuantityTheoretical: 5}
	require.NoError(t, it.RecordCount(4, nil, "op-1", time.Now()))
	require.NoError(t, it.RecordCount(5, nil, "op-2", time.Now()))

	assert.Equal(t, domain.ItemCounted, it.Status)
	assert.Equal(t, 5, *it.QuantityCounted)
	assert.Equal(t, "op-2", *it.CountedBy)
}

func TestInventoryItem_NegativeCount(t *testing.T) {
	it := domain.InventoryItem{ID: "i1", QuantityTheoretical: 5, Status: domain.ItemNotCounted}
	err := it.RecordCount(-1, nil, "op-1", time.Now())

	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INVALID_COUNT", appErr.Code)
	assert.Equal(t, domain.ItemNotCounted, it.Status)
	assert.Nil(t, it.QuantityCounted)
}

func TestInventoryItem_Validate(t *testing.T) {
	it := domain.InventoryItem{ID: "i1", QuantityTheoretical: 5, Status: domain.ItemNotCounted}
	assert.Error(t, it.Validate("sup-1", time.Now()))

	require.NoError(t, it.RecordCount(2, nil, "op-1", time.Now()))
	require.NoError(t, it.Validate("sup-1", time.Now()))
	assert.Equal(t, domain.ItemValidated, it.Status)
	assert.Equal(t, "sup-1", *it.ValidatedBy)

	agg := domain.ComputeAggregates([]domain.ItemStatus{it.Status, domain.ItemNotCounted})
	assert.Equal(t, 1, agg.ItemsCounted)
	assert.Equal(t, 0, agg.Discrepancies)
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		counted, total, want int
	}{
		{0, 0, 0},
		{0, 5, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{1, 8, 13},
		{5, 5, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.ProgressPercent(tt.counted, tt.total), "%d/%d", tt.counted, tt.total)
	}
}

func TestInventorySession_EnsureOpen(t *testing.T) {
	s := domain.InventorySession{ID: "s1", Status: domain.SessionInProgress}
	assert.NoError(t, s.EnsureOpen())

	s.Status = domain.SessionCompleted
	err := s.EnsureOpen()
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestInventorySession_SourceRef(t *testing.T) {
	rec := domain.InventorySession{Type: domain.SessionReception, ReceptionID: strPtr("r1")}
	sales := domain.InventorySession{Type: domain.SessionSales, SalesSessionID: strPtr("s1")}
	std := domain.InventorySession{Type: domain.SessionStandard, ReceptionID: strPtr("ignored")}

	assert.Equal(t, "r1", rec.SourceRef())
	assert.Equal(t, "s1", sales.SourceRef())
	assert.Equal(t, "", std.SourceRef())
	assert.False(t, domain.SessionType("weekly").Valid())
}

// ============================================================================
// BASELINE QUANTITIES
// ============================================================================

func TestReceptionQuantities(t *testing.T) {
	t.Run("reconstructed", func(t *testing.T) {
		q := domain.ReceptionQuantities(15, 10, nil)
		assert.Equal(t, domain.ItemQuantities{Initial: 5, Movement: 10, Theoretical: 15}, q)
	})

	t.Run("reconstruction clamps at zero", func(t *testing.T) {
		q := domain.ReceptionQuantities(4, 10, nil)
		assert.Equal(t, domain.ItemQuantities{Initial: 0, Movement: 10, Theoretical: 10}, q)
	})

	t.Run("ledger snapshot wins", func(t *testing.T) {
		q := domain.ReceptionQuantities(4, 10, &domain.LedgerSnapshot{Before: 3, After: 13})
		assert.Equal(t, domain.ItemQuantities{Initial: 3, Movement: 10, Theoretical: 13}, q)
	})
}

func TestSalesQuantities(t *testing.T) {
	q := domain.SalesQuantities(5, 3, nil)
	assert.Equal(t, domain.ItemQuantities{Initial: 8, Movement: -3, Theoretical: 5}, q)

	q = domain.SalesQuantities(0, 3, &domain.LedgerSnapshot{Before: 10, After: 7})
	assert.Equal(t, domain.ItemQuantities{Initial: 10, Movement: -3, Theoretical: 7}, q)
}

func TestStandardQuantities(t *testing.T) {
	assert.Equal(t, domain.ItemQuantities{Initial: 9, Theoretical: 9}, domain.StandardQuantities(9))
}

// ============================================================================
// DISCREPANCIES
// ============================================================================

func TestBuildDiscrepancyReport(t *testing.T) {
	now := time.Now()
	items := []domain.InventoryItem{
		{ID: "i1", LotID: strPtr("lot-1"), QuantityTheoretical: 10},
		{ID: "i2", LotID: strPtr("lot-2"), QuantityTheoretical: 4},
		{ID: "i3", LotID: strPtr("lot-3"), QuantityTheoretical: 7},
		{ID: "i4", QuantityTheoretical: 2},
	}
	require.NoError(t, items[0].RecordCount(8, nil, "op", now))
	require.NoError(t, items[1].RecordCount(4, nil, "op", now))
	require.NoError(t, items[2].RecordCount(9, nil, "op", now))

	costs := map[string]decimal.Decimal{
		"lot-1": decimal.RequireFromString("1.25"),
		"lot-3": decimal.RequireFromString("4.00"),
	}
	report := domain.BuildDiscrepancyReport("s1", items, costs)

	require.Len(t, report.Lines, 2)
	assert.Equal(t, "i1", report.Lines[0].ItemID)
	assert.Equal(t, -2, report.Lines[0].Difference)
	assert.True(t, report.Lines[0].ValuedDifference.Equal(decimal.RequireFromString("-2.5")))
	assert.Equal(t, 2, report.Lines[1].Difference)

	assert.Equal(t, 0, report.TotalDifference)
	assert.Equal(t, 2, report.SurplusUnits)
	assert.Equal(t, 2, report.ShortageUnits)
	assert.True(t, report.TotalValue.Equal(decimal.RequireFromString("5.5")))
}
