package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// ============================================================================
// MOVEMENT ARITHMETIC
// ============================================================================

func TestComputeAfter(t *testing.T) {
	tests := []struct {
		name    string
		before  int
		typ     domain.MovementType
		delta   int
		want    int
		wantErr error
	}{
		{"entry adds", 10, domain.MovementEntry, 5, 15, nil},
		{"entry from empty", 0, domain.MovementEntry, 40, 40, nil},
		{"exit subtracts", 10, domain.MovementExit, 4, 6, nil},
		{"exit to zero", 10, domain.MovementExit, 10, 0, nil},
		{"exit below zero", 3, domain.MovementExit, 4, 0, errors.ErrNegativeQuantity},
		{"positive adjustment", 3, domain.MovementAdjustment, 2, 5, nil},
		{"negative adjustment", 3, domain.MovementAdjustment, -3, 0, nil},
		{"adjustment below zero", 3, domain.MovementAdjustment, -4, 0, errors.ErrNegativeQuantity},
		{"zero entry", 3, domain.MovementEntry, 0, 0, errors.ErrValidation},
		{"negative exit", 3, domain.MovementExit, -1, 0, errors.ErrValidation},
		{"zero adjustment", 3, domain.MovementAdjustment, 0, 0, errors.ErrValidation},
		{"unknown type", 3, domain.MovementType("transfer"), 1, 0, errors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.ComputeAfter("lot-1", tt.before, tt.typ, tt.delta)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeAfter_NegativeQuantityDetails(t *testing.T) {
	_, err := domain.ComputeAfter("lot-9", 2, domain.MovementExit, 5)
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "NEGATIVE_QUANTITY", appErr.Code)
	assert.Equal(t, "lot-9", appErr.Details["lot_id"])
	assert.Equal(t, "2", appErr.Details["quantity"])
	assert.Equal(t, "5", appErr.Details["delta"])
}

func TestMovement_SignedDelta(t *testing.T) {
	exit := domain.Movement{Type: domain.MovementExit, QuantityDelta: 4}
	entry := domain.Movement{Type: domain.MovementEntry, QuantityDelta: 4}
	adj := domain.Movement{Type: domain.MovementAdjustment, QuantityDelta: -2}

	assert.Equal(t, -4, exit.SignedDelta())
	assert.Equal(t, 4, entry.SignedDelta())
	assert.Equal(t, -2, adj.SignedDelta())
}

// ============================================================================
// LEDGER REPLAY
// ============================================================================

func movements(steps ...[3]int) []domain.Movement {
	out := make([]domain.Movement, 0, len(steps))
	for i, s := range steps {
		m := domain.Movement{ID: string(rune('a' + i)), QuantityBefore: s[0], QuantityAfter: s[2]}
		switch {
		case i == 0 || s[1] > 0:
			m.Type, m.QuantityDelta = domain.MovementEntry, s[1]
		default:
			m.Type, m.QuantityDelta = domain.MovementExit, -s[1]
		}
		out = append(out, m)
	}
	return out
}

func TestVerifyLedger(t *testing.T) {
	t.Run("clean ledger", func(t *testing.T) {
		lot := &domain.Lot{ID: "lot-1", QuantityInitial: 100, QuantityRemaining: 70}
		report := domain.VerifyLedger(lot, movements(
			[3]int{0, 100, 100},
			[3]int{100, -40, 60},
			[3]int{60, 10, 70},
		))

		assert.True(t, report.OK())
		assert.Equal(t, 3, report.MovementCount)
		assert.Equal(t, 70, report.ReplayedQuantity)
		assert.Empty(t, report.Violations)
	})

	t.Run("gap between movements", func(t *testing.T) {
		lot := &domain.Lot{ID: "lot-1", QuantityRemaining: 75}
		report := domain.VerifyLedger(lot, movements(
			[3]int{0, 100, 100},
			[3]int{95, -20, 75},
		))

		assert.False(t, report.Continuous)
		require.NotEmpty(t, report.Violations)
		assert.Equal(t, domain.ViolationContinuity, report.Violations[0].Kind)
		assert.Equal(t, 100, report.Violations[0].Expected)
		assert.Equal(t, 95, report.Violations[0].Actual)
	})

	t.Run("lot counter drifted", func(t *testing.T) {
		lot := &domain.Lot{ID: "lot-1", QuantityRemaining: 55}
		report := domain.VerifyLedger(lot, movements([3]int{0, 50, 50}))

		assert.True(t, report.Continuous)
		assert.False(t, report.Conserved)
		assert.False(t, report.OK())
		last := report.Violations[len(report.Violations)-1]
		assert.Equal(t, domain.ViolationConservation, last.Kind)
		assert.Equal(t, 50, last.Expected)
		assert.Equal(t, 55, last.Actual)
	})

	t.Run("bad arithmetic", func(t *testing.T) {
		lot := &domain.Lot{ID: "lot-1", QuantityRemaining: 12}
		ms := movements([3]int{0, 10, 12})
		report := domain.VerifyLedger(lot, ms)

		assert.False(t, report.Continuous)
		assert.Equal(t, domain.ViolationArithmetic, report.Violations[0].Kind)
	})

	t.Run("no movements on empty lot", func(t *testing.T) {
		report := domain.VerifyLedger(&domain.Lot{ID: "lot-1"}, nil)
		assert.True(t, report.OK())
	})
}

// ============================================================================
// LOT NUMBERS AND DATES
// ============================================================================

func TestGenerateLotNumber(t *testing.T) {
	date := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	a := domain.GenerateLotNumber("t1", "p1", "r1", 0, date)
	b := domain.GenerateLotNumber("t1", "p1", "r1", 0, date)
	c := domain.GenerateLotNumber("t1", "p1", "r1", 1, date)
	d := domain.GenerateLotNumber("t2", "p1", "r1", 0, date)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, "LOT-20260314-"))
	assert.Len(t, a, len("LOT-20260314-")+8)
	assert.Equal(t, strings.ToUpper(a), a)
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, 1, domain.DaysBetween(a, b))
	assert.Equal(t, -1, domain.DaysBetween(b, a))
	assert.Equal(t, 0, domain.DaysBetween(a, a))
	assert.Equal(t, 365, domain.DaysBetween(a, a.AddDate(1, 0, 0)))
}

func TestLot_Expiry(t *testing.T) {
	today := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	exp := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	lot := domain.Lot{ExpirationDate: &exp}
	days, ok := lot.DaysToExpiration(today)
	assert.True(t, ok)
	assert.Equal(t, 0, days)
	assert.True(t, lot.IsExpired(today))

	untracked := domain.Lot{}
	_, ok = untracked.DaysToExpiration(today)
	assert.False(t, ok)
	assert.False(t, untracked.IsExpired(today))
}
