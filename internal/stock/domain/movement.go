package domain

import (
	"fmt"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// MovementType is the direction of a ledger entry.
type MovementType string

const (
	MovementEntry      MovementType = "entry"
	MovementExit       MovementType = "exit"
	MovementAdjustment MovementType = "adjustment"
)

// ReferenceType names what caused a movement.
type ReferenceType string

const (
	ReferenceReception  ReferenceType = "reception"
	ReferenceSale       ReferenceType = "sale"
	ReferenceInventory  ReferenceType = "inventory"
	ReferenceAdjustment ReferenceType = "adjustment"
)

// Movement is an immutable ledger entry. Entries and exits carry a positive
// QuantityDelta; adjustments carry a signed one.
type Movement struct {
	Seq            int64         `json:"seq" db:"seq"`
	ID             string        `json:"id" db:"id"`
	TenantID       string        `json:"-" db:"tenant_id"`
	LotID          string        `json:"lot_id" db:"lot_id"`
	ProductID      string        `json:"product_id" db:"product_id"`
	Type           MovementType  `json:"movement_type" db:"movement_type"`
	QuantityBefore int           `json:"quantity_before" db:"quantity_before"`
	QuantityDelta  int           `json:"quantity_delta" db:"quantity_delta"`
	QuantityAfter  int           `json:"quantity_after" db:"quantity_after"`
	ReferenceType  ReferenceType `json:"reference_type" db:"reference_type"`
	ReferenceID    *string       `json:"reference_id,omitempty" db:"reference_id"`
	Reason         string        `json:"reason" db:"reason"`
	OperatorID     string        `json:"operator_id" db:"operator_id"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// SignedDelta is the change the movement applied to the lot.
func (m *Movement) SignedDelta() int {
	if m.Type == MovementExit {
		return -m.QuantityDelta
	}
	return m.QuantityDelta
}

// Reference identifies the business document behind a movement.
type Reference struct {
	Type   ReferenceType
	ID     string
	Reason string
}

// ComputeAfter applies a movement of type typ and size delta to before.
// It rejects zero or wrongly signed deltas and results below zero.
func ComputeAfter(lotID string, before int, typ MovementType, delta int) (int, error) {
	var after int
	switch typ {
	case MovementEntry:
		if delta <= 0 {
			return 0, errors.Validation(map[string]string{"quantity": "entry quantity must be positive"})
		}
		after = before + delta
	case MovementExit:
		if delta <= 0 {
			return 0, errors.Validation(map[string]string{"quantity": "exit quantity must be positive"})
		}
		after = before - delta
	case MovementAdjustment:
		if delta == 0 {
			return 0, errors.Validation(map[string]string{"quantity": "adjustment must not be zero"})
		}
		after = before + delta
	default:
		return 0, errors.Validation(map[string]string{"movement_type": fmt.Sprintf("unknown movement type %q", typ)})
	}

	if after < 0 {
		signed := delta
		if typ == MovementExit {
			signed = -delta
		}
		return 0, errors.NegativeQuantity(lotID, before, -signed)
	}
	return after, nil
}

// LedgerViolation is one inconsistency found while replaying a lot's movements.
type LedgerViolation struct {
	MovementID string `json:"movement_id,omitempty"`
	Kind       string `json:"kind"`
	Expected   int    `json:"expected"`
	Actual     int    `json:"actual"`
}

// Violation kinds reported by VerifyLedger.
const (
	ViolationContinuity   = "continuity"
	ViolationArithmetic   = "arithmetic"
	ViolationConservation = "conservation"
	ViolationNegative     = "negative"
)

// LedgerReport is the outcome of replaying a lot's ledger.
type LedgerReport struct {
	LotID            string            `json:"lot_id"`
	MovementCount    int               `json:"movement_count"`
	ReplayedQuantity int               `json:"replayed_quantity"`
	LotQuantity      int               `json:"lot_quantity"`
	Continuous       bool              `json:"continuous"`
	Conserved        bool              `json:"conserved"`
	Violations       []LedgerViolation `json:"violations"`
}

// OK reports a clean ledger.
func (r *LedgerReport) OK() bool {
	return r.Continuous && r.Conserved
}

// VerifyLedger replays movements (in commit order) from zero and checks that
// each one starts where the previous ended, that its arithmetic holds, and
// that the replayed total equals the lot's remaining quantity.
func VerifyLedger(lot *Lot, movements []Movement) LedgerReport {
	report := LedgerReport{
		LotID:         lot.ID,
		MovementCount: len(movements),
		LotQuantity:   lot.QuantityRemaining,
		Continuous:    true,
		Conserved:     true,
		Violations:    []LedgerViolation{},
	}

	running := 0
	for i := range movements {
		m := &movements[i]
		if m.QuantityBefore != running {
			report.Continuous = false
			report.Violations = append(report.Violations, LedgerViolation{
				MovementID: m.ID, Kind: ViolationContinuity, Expected: running, Actual: m.QuantityBefore,
			})
		}
		if want := m.QuantityBefore + m.SignedDelta(); m.QuantityAfter != want {
			report.Continuous = false
			report.Violations = append(report.Violations, LedgerViolation{
				MovementID: m.ID, Kind: ViolationArithmetic, Expected: want, Actual: m.QuantityAfter,
			})
		}
		if m.QuantityAfter < 0 {
			report.Violations = append(report.Violations, LedgerViolation{
				MovementID: m.ID, Kind: ViolationNegative, Expected: 0, Actual: m.QuantityAfter,
			})
		}
		running += m.SignedDelta()
	}

	report.ReplayedQuantity = running
	if running != lot.QuantityRemaining {
		report.Conserved = false
		report.Violations = append(report.Violations, LedgerViolation{
			Kind: ViolationConservation, Expected: running, Actual: lot.QuantityRemaining,
		})
	}
	return report
}
