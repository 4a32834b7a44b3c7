package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// SessionType selects where a counting session takes its expected quantities from.
type SessionType string

const (
	SessionStandard  SessionType = "standard"
	SessionReception SessionType = "reception"
	SessionSales     SessionType = "sales"
)

// Valid reports whether t is a known session type.
func (t SessionType) Valid() bool {
	switch t {
	case SessionStandard, SessionReception, SessionSales:
		return true
	}
	return false
}

// SessionStatus moves one way: in_progress to completed.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// InventorySession is a counting campaign with cached aggregates over its items.
type InventorySession struct {
	ID              string        `json:"id" db:"id"`
	TenantID        string        `json:"-" db:"tenant_id"`
	Label           string        `json:"label" db:"label"`
	Type            SessionType   `json:"session_type" db:"session_type"`
	Status          SessionStatus `json:"status" db:"status"`
	ReceptionID     *string       `json:"reception_id,omitempty" db:"reception_id"`
	SalesSessionID  *string       `json:"sales_session_id,omitempty" db:"sales_session_id"`
	ItemsTotal      int           `json:"items_total" db:"items_total"`
	ItemsCounted    int           `json:"items_counted" db:"items_counted"`
	Discrepancies   int           `json:"discrepancies" db:"discrepancies"`
	ProgressPercent int           `json:"progress_percent" db:"progress_percent"`
	InitializedAt   *time.Time    `json:"initialized_at,omitempty" db:"initialized_at"`
	StartedBy       string        `json:"started_by" db:"started_by"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CompletedBy     *string       `json:"completed_by,omitempty" db:"completed_by"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// IsClosed reports whether the session rejects further writes.
func (s *InventorySession) IsClosed() bool {
	return s.Status == SessionCompleted
}

// EnsureOpen returns SessionClosed for a completed session.
func (s *InventorySession) EnsureOpen() error {
	if s.IsClosed() {
		return errors.SessionClosed(s.ID)
	}
	return nil
}

// SourceRef is the reception or sales session the session is built from.
func (s *InventorySession) SourceRef() string {
	switch s.Type {
	case SessionReception:
		if s.ReceptionID != nil {
			return *s.ReceptionID
		}
	case SessionSales:
		if s.SalesSessionID != nil {
			return *s.SalesSessionID
		}
	}
	return ""
}

// ApplyAggregates copies freshly computed aggregates onto the session.
func (s *InventorySession) ApplyAggregates(a Aggregates) {
	s.ItemsTotal = a.ItemsTotal
	s.ItemsCounted = a.ItemsCounted
	s.Discrepancies = a.Discrepancies
	s.ProgressPercent = a.ProgressPercent
}

// ItemStatus is the counting state of one item.
type ItemStatus string

const (
	ItemNotCounted  ItemStatus = "non_compte"
	ItemCounted     ItemStatus = "compte"
	ItemDiscrepancy ItemStatus = "ecart"
	ItemValidated   ItemStatus = "valide"
)

// InventoryItem is one (session, product, lot) row to count.
type InventoryItem struct {
	ID                  string     `json:"id" db:"id"`
	TenantID            string     `json:"-" db:"tenant_id"`
	SessionID           string     `json:"session_id" db:"session_id"`
	ProductID           string     `json:"product_id" db:"product_id"`
	LotID               *string    `json:"lot_id,omitempty" db:"lot_id"`
	Barcode             *string    `json:"barcode,omitempty" db:"barcode"`
	ProductLabel        string     `json:"product_label" db:"product_label"`
	LotNumber           *string    `json:"lot_number,omitempty" db:"lot_number"`
	Unit                string     `json:"unit" db:"unit"`
	TheoreticalLocation *string    `json:"theoretical_location,omitempty" db:"theoretical_location"`
	ActualLocation      *string    `json:"actual_location,omitempty" db:"actual_location"`
	QuantityInitial     int        `json:"quantity_initial" db:"quantity_initial"`
	QuantityMovement    int        `json:"quantity_movement" db:"quantity_movement"`
	QuantityTheoretical int        `json:"quantity_theoretical" db:"quantity_theoretical"`
	QuantityCounted     *int       `json:"quantity_counted" db:"quantity_counted"`
	Status              ItemStatus `json:"status" db:"status"`
	CountedAt           *time.Time `json:"counted_at,omitempty" db:"counted_at"`
	CountedBy           *string    `json:"counted_by,omitempty" db:"counted_by"`
	ValidatedAt         *time.Time `json:"validated_at,omitempty" db:"validated_at"`
	ValidatedBy         *string    `json:"validated_by,omitempty" db:"validated_by"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// EvaluateCount maps a counted quantity to compte or ecart.
func EvaluateCount(theoretical, counted int) ItemStatus {
	if counted == theoretical {
		return ItemCounted
	}
	return ItemDiscrepancy
}

// RecordCount stores a count on the item. A later count overwrites an
// earlier one.
func (it *InventoryItem) RecordCount(counted int, location *string, operatorID string, at time.Time) error {
	if counted < 0 {
		return errors.InvalidCount(it.ID, counted)
	}
	c := counted
	op := operatorID
	ts := at
	it.QuantityCounted = &c
	it.ActualLocation = location
	it.Status = EvaluateCount(it.QuantityTheoretical, counted)
	it.CountedAt = &ts
	it.CountedBy = &op
	it.ValidatedAt = nil
	it.ValidatedBy = nil
	return nil
}

// Reset returns the item to its uncounted state.
func (it *InventoryItem) Reset() {
	it.QuantityCounted = nil
	it.ActualLocation = nil
	it.Status = ItemNotCounted
	it.CountedAt = nil
	it.CountedBy = nil
	it.ValidatedAt = nil
	it.ValidatedBy = nil
}

// Validate records a supervisor sign-off on a counted item.
func (it *InventoryItem) Validate(operatorID string, at time.Time) error {
	if it.Status != ItemCounted && it.Status != ItemDiscrepancy {
		return errors.Validation(map[string]string{"status": "only counted items can be validated"})
	}
	op := operatorID
	ts := at
	it.Status = ItemValidated
	it.ValidatedAt = &ts
	it.ValidatedBy = &op
	return nil
}

// Difference is counted minus theoretical; ok is false while uncounted.
func (it *InventoryItem) Difference() (diff int, ok bool) {
	if it.QuantityCounted == nil {
		return 0, false
	}
	return *it.QuantityCounted - it.QuantityTheoretical, true
}

// Aggregates are the session counters derived from its items.
type Aggregates struct {
	ItemsTotal      int `json:"items_total" db:"items_total"`
	ItemsCounted    int `json:"items_counted" db:"items_counted"`
	Discrepancies   int `json:"discrepancies" db:"discrepancies"`
	ProgressPercent int `json:"progress_percent" db:"progress_percent"`
}

// ComputeAggregates derives session counters from the full item status set.
func ComputeAggregates(statuses []ItemStatus) Aggregates {
	a := Aggregates{ItemsTotal: len(statuses)}
	for _, s := range statuses {
		if s != ItemNotCounted {
			a.ItemsCounted++
		}
		if s == ItemDiscrepancy {
			a.Discrepancies++
		}
	}
	a.ProgressPercent = ProgressPercent(a.ItemsCounted, a.ItemsTotal)
	return a
}

// ProgressPercent is round(counted / total * 100), half away from zero.
func ProgressPercent(counted, total int) int {
	if total <= 0 {
		return 0
	}
	return (counted*200 + total) / (total * 2)
}

// ItemQuantities is how an item's expected quantity was derived.
type ItemQuantities struct {
	Initial     int
	Movement    int
	Theoretical int
}

// LedgerSnapshot is a lot's quantity just before and just after a document
// (reception or sales session) touched it, read from the ledger.
type LedgerSnapshot struct {
	Before int
	After  int
}

// StandardQuantities seeds a standard count from the lot's current quantity.
func StandardQuantities(remaining int) ItemQuantities {
	return ItemQuantities{Initial: remaining, Theoretical: remaining}
}

// ReceptionQuantities isolates a reception's effect on a lot. With a ledger
// snapshot the quantities are exact; without one the pre-reception quantity
// is reconstructed from the current quantity and clamped at zero.
func ReceptionQuantities(current, accepted int, snap *LedgerSnapshot) ItemQuantities {
	if snap != nil {
		return ItemQuantities{Initial: snap.Before, Movement: snap.After - snap.Before, Theoretical: snap.After}
	}
	initial := current - accepted
	if initial < 0 {
		initial = 0
	}
	return ItemQuantities{Initial: initial, Movement: accepted, Theoretical: initial + accepted}
}

// SalesQuantities isolates a sales session's effect on a lot, with the same
// snapshot-or-reconstruct rule as ReceptionQuantities.
func SalesQuantities(current, sold int, snap *LedgerSnapshot) ItemQuantities {
	if snap != nil {
		return ItemQuantities{Initial: snap.Before, Movement: snap.After - snap.Before, Theoretical: snap.After}
	}
	initial := current + sold
	return ItemQuantities{Initial: initial, Movement: -sold, Theoretical: initial - sold}
}

// DiscrepancyLine is one counted item whose count differs from expectation.
type DiscrepancyLine struct {
	ItemID           string          `json:"item_id"`
	ProductID        string          `json:"product_id"`
	ProductLabel     string          `json:"product_label"`
	LotID            *string         `json:"lot_id,omitempty"`
	LotNumber        *string         `json:"lot_number,omitempty"`
	Status           ItemStatus      `json:"status"`
	Theoretical      int             `json:"quantity_theoretical"`
	Counted          int             `json:"quantity_counted"`
	Difference       int             `json:"difference"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	ValuedDifference decimal.Decimal `json:"valued_difference"`
	CountedBy        *string         `json:"counted_by,omitempty"`
	CountedByName    string          `json:"counted_by_name,omitempty"`
}

// DiscrepancyReport values the differences of a session.
type DiscrepancyReport struct {
	SessionID       string            `json:"session_id"`
	Lines           []DiscrepancyLine `json:"lines"`
	TotalDifference int               `json:"total_difference"`
	SurplusUnits    int               `json:"surplus_units"`
	ShortageUnits   int               `json:"shortage_units"`
	TotalValue      decimal.Decimal   `json:"total_value"`
}

// BuildDiscrepancyReport lists every counted item with a non-zero difference.
// unitCosts maps lot ID to unit cost; items without a known lot cost count at zero.
func BuildDiscrepancyReport(sessionID string, items []InventoryItem, unitCosts map[string]decimal.Decimal) DiscrepancyReport {
	report := DiscrepancyReport{SessionID: sessionID, Lines: []DiscrepancyLine{}, TotalValue: decimal.Zero}
	for i := range items {
		it := &items[i]
		diff, ok := it.Difference()
		if !ok || diff == 0 {
			continue
		}
		cost := decimal.Zero
		if it.LotID != nil {
			if c, found := unitCosts[*it.LotID]; found {
				cost = c
			}
		}
		valued := cost.Mul(decimal.NewFromInt(int64(diff)))
		report.Lines = append(report.Lines, DiscrepancyLine{
			ItemID:           it.ID,
			ProductID:        it.ProductID,
			ProductLabel:     it.ProductLabel,
			LotID:            it.LotID,
			LotNumber:        it.LotNumber,
			Status:           it.Status,
			Theoretical:      it.QuantityTheoretical,
			Counted:          *it.QuantityCounted,
			Difference:       diff,
			UnitCost:         cost,
			ValuedDifference: valued,
			CountedBy:        it.CountedBy,
		})
		report.TotalDifference += diff
		if diff > 0 {
			report.SurplusUnits += diff
		} else {
			report.ShortageUnits -= diff
		}
		report.TotalValue = report.TotalValue.Add(valued)
	}
	return report
}
