package service_test

import (
	"database/sql/driver"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
	"github.com/pharmaflow/pharmaflow-backend/pkg/testutil"
)

// ============================================================================
// Lot store operations
// ============================================================================

func TestLotService_IncrementAndDecrement(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(40))

	updated, err := h.lots.IncrementLot(h.ctx, lot.ID, 10, domain.Reference{Type: domain.ReferenceAdjustment, Reason: "found"})
	require.NoError(t, err)
	assert.Equal(t, 50, updated.QuantityRemaining)

	updated, err = h.lots.DecrementLot(h.ctx, lot.ID, 35, domain.Reference{Type: domain.ReferenceSale, ID: "sale-1"})
	require.NoError(t, err)
	assert.Equal(t, 15, updated.QuantityRemaining)

	movements, err := h.lots.Movements(h.ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	last := movements[2]
	assert.Equal(t, domain.MovementExit, last.Type)
	assert.Equal(t, 50, last.QuantityBefore)
	assert.Equal(t, 35, last.QuantityDelta)
	assert.Equal(t, 15, last.QuantityAfter)
	assert.Equal(t, testutil.OperatorID, last.OperatorID)
	require.NotNil(t, last.ReferenceID)
	assert.Equal(t, "sale-1", *last.ReferenceID)

	h.requireLedgerOK(t, lot.ID)
	assert.Len(t, h.pub.Events(messaging.EventMovementRecorded), 2)
}

func TestLotService_DecrementBelowZero(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(5))

	_, err := h.lots.DecrementLot(h.ctx, lot.ID, 6, domain.Reference{Type: domain.ReferenceSale, ID: "sale-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNegativeQuantity))

	stored, _ := h.store.Lot(lot.ID)
	assert.Equal(t, 5, stored.QuantityRemaining)
	assert.Equal(t, 1, h.store.MovementCount())
	assert.Equal(t, 1, h.store.Calls("Lots.GetForUpdate"), "integrity errors are not retried")
	h.pub.AssertNoEventsPublished(t)
}

func TestLotService_CreateManualLot(t *testing.T) {
	h := newHarness(t)
	p := h.product()

	lot, err := h.lots.CreateManualLot(h.ctx, domain.NewLot{
		ProductID: p.ID,
		LotNumber: "  MAN-001 ",
		Quantity:  24,
		UnitCost:  p.CostPrice,
	})
	require.NoError(t, err)
	assert.Equal(t, "MAN-001", lot.LotNumber)
	assert.Equal(t, 24, lot.QuantityInitial)
	assert.Equal(t, 24, lot.QuantityRemaining)
	assert.Nil(t, lot.ReceptionID)
	assert.Equal(t, domain.Today(testNow), domain.Today(lot.ReceptionDate))

	movements, err := h.lots.Movements(h.ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, 0, movements[0].QuantityBefore)
	assert.Equal(t, domain.ReferenceAdjustment, movements[0].ReferenceType)

	entries := h.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionCreated, entries[0].Action)
	h.requireLedgerOK(t, lot.ID)
}

func TestLotService_CreateManualLot_Validation(t *testing.T) {
	h := newHarness(t)
	p := h.product()

	tests := []struct {
		name string
		spec domain.NewLot
		want error
	}{
		{"missing lot number", domain.NewLot{ProductID: p.ID, Quantity: 1}, errors.ErrValidation},
		{"zero quantity", domain.NewLot{ProductID: p.ID, LotNumber: "A", Quantity: 0}, errors.ErrValidation},
		{"unknown product", domain.NewLot{ProductID: "missing", LotNumber: "A", Quantity: 1}, errors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.lots.CreateManualLot(h.ctx, tt.spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, 0, h.store.LotCount())
}

func TestLotService_AdjustLot(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(20))

	m, err := h.lots.AdjustLot(h.ctx, lot.ID, -3, "broken vials")
	require.NoError(t, err)
	assert.Equal(t, domain.MovementAdjustment, m.Type)
	assert.Equal(t, 20, m.QuantityBefore)
	assert.Equal(t, -3, m.QuantityDelta)
	assert.Equal(t, 17, m.QuantityAfter)
	assert.Equal(t, "broken vials", m.Reason)

	_, err = h.lots.AdjustLot(h.ctx, lot.ID, 2, " ")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = h.lots.AdjustLot(h.ctx, lot.ID, -18, "count correction")
	assert.True(t, errors.Is(err, errors.ErrNegativeQuantity))

	entries, err := h.audit.ListByEntity(h.ctx, domain.EntityLot, lot.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionAdjusted, entries[0].Action)
	assert.Equal(t, testutil.OperatorID, entries[0].OperatorID)
	require.NotNil(t, entries[0].Details)
	assert.Contains(t, *entries[0].Details, "broken vials")
	h.requireLedgerOK(t, lot.ID)
}

func TestLotService_ConsumeLotRequiresSaleRef(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID)

	_, err := h.lots.ConsumeLot(h.ctx, lot.ID, 1, "")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	updated, err := h.lots.ConsumeLot(h.ctx, lot.ID, 4, "ticket-88")
	require.NoError(t, err)
	assert.Equal(t, 96, updated.QuantityRemaining)
}

func TestLotService_FindLot(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithLotNumber("B-77"))

	found, err := h.lots.FindLot(h.ctx, p.ID, " B-77")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, lot.ID, found.ID)

	missing, err := h.lots.FindLot(h.ctx, p.ID, "B-78")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// ============================================================================
// Ledger integrity
// ============================================================================

func TestLedger_DetectsTamperedLot(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(30))

	// Quantity changed without a movement.
	h.store.SetLotQuantity(lot.ID, 27)

	_, err := h.lots.DecrementLot(h.ctx, lot.ID, 1, domain.Reference{Type: domain.ReferenceSale, ID: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLedgerIntegrity))
	assert.Equal(t, 1, h.store.MovementCount())

	report, err := h.lots.Verify(h.ctx, lot.ID)
	require.NoError(t, err)
	assert.False(t, report.Conserved)
	assert.True(t, report.Continuous)
	assert.Equal(t, 30, report.ReplayedQuantity)
	assert.Equal(t, 27, report.LotQuantity)
}

func TestLedger_ConcurrentWritersSerialize(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(200))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := h.lots.DecrementLot(h.ctx, lot.ID, 7, domain.Reference{Type: domain.ReferenceSale, ID: fmt.Sprintf("s-%d", i)})
				assert.NoError(t, err)
			} else {
				_, err := h.lots.IncrementLot(h.ctx, lot.ID, 3, domain.Reference{Type: domain.ReferenceAdjustment, Reason: "return"})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	stored, _ := h.store.Lot(lot.ID)
	assert.Equal(t, 200-10*7+10*3, stored.QuantityRemaining)
	h.requireLedgerOK(t, lot.ID)
}

func TestLedger_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(10))

	h.store.FailOn("Movements.Append", 1, driver.ErrBadConn)

	m, err := h.ledger.Record(h.ctx, lot.ID, domain.MovementExit, 4, domain.Reference{Type: domain.ReferenceSale, ID: "s"})
	require.NoError(t, err)
	assert.Equal(t, 6, m.QuantityAfter)

	commits, rollbacks, reconnects := h.store.Stats()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, 1, reconnects)
	assert.Equal(t, 2, h.store.MovementCount())
	h.requireLedgerOK(t, lot.ID)
}

func TestLedger_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID, testutil.WithRemaining(10))

	transient := errors.Transient(fmt.Errorf("serialization failure"))
	for i := 1; i <= fastRetry.MaxAttempts; i++ {
		h.store.FailOn("Lots.UpdateQuantity", i, transient)
	}

	_, err := h.ledger.Record(h.ctx, lot.ID, domain.MovementEntry, 1, domain.Reference{Type: domain.ReferenceAdjustment})
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, fastRetry.MaxAttempts, h.store.Calls("Lots.UpdateQuantity"))

	stored, _ := h.store.Lot(lot.ID)
	assert.Equal(t, 10, stored.QuantityRemaining)
	h.requireLedgerOK(t, lot.ID)
}

func TestLedger_InvalidatesRotationCache(t *testing.T) {
	h := newHarness(t)
	p := h.product()
	lot := h.openedLot(p.ID)

	first, err := h.rotation.Analyze(h.ctx, domain.WindowMonthly, testNow, testNow, domain.RotationFilter{})
	require.NoError(t, err)
	require.Len(t, first.Products, 1)
	assert.Equal(t, 0, first.Products[0].UnitsSold)

	h.sell(t, lot.ID, 12, "s-1", testNow)

	second, err := h.rotation.Analyze(h.ctx, domain.WindowMonthly, testNow, testNow, domain.RotationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 12, second.Products[0].UnitsSold)
}
