package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// ReceptionStatus is draft until an operator validates the delivery.
type ReceptionStatus string

const (
	ReceptionDraft     ReceptionStatus = "draft"
	ReceptionValidated ReceptionStatus = "validated"
)

// ComplianceStatus is the quality verdict on a reception line.
type ComplianceStatus string

const (
	Compliant          ComplianceStatus = "conforme"
	NonCompliant       ComplianceStatus = "non-conforme"
	PartiallyCompliant ComplianceStatus = "partiellement-conforme"
)

// Reception is a supplier delivery. Only Status changes after creation.
type Reception struct {
	ID               string          `json:"id" db:"id"`
	TenantID         string          `json:"-" db:"tenant_id"`
	SupplierID       string          `json:"supplier_id" db:"supplier_id"`
	ReceptionDate    time.Time       `json:"reception_date" db:"reception_date"`
	Agent            string          `json:"agent" db:"agent"`
	ReferenceInvoice *string         `json:"reference_invoice,omitempty" db:"reference_invoice"`
	TotalHT          decimal.Decimal `json:"total_ht" db:"total_ht"`
	TotalTTC         decimal.Decimal `json:"total_ttc" db:"total_ttc"`
	PackagingOK      bool            `json:"packaging_ok" db:"packaging_ok"`
	TemperatureOK    bool            `json:"temperature_ok" db:"temperature_ok"`
	DocumentsOK      bool            `json:"documents_ok" db:"documents_ok"`
	Notes            *string         `json:"notes,omitempty" db:"notes"`
	Status           ReceptionStatus `json:"status" db:"status"`
	ValidatedAt      *time.Time      `json:"validated_at,omitempty" db:"validated_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedBy        string          `json:"created_by" db:"created_by"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	Lines            []ReceptionLine `json:"lines,omitempty" db:"-"`
}

// ReceptionLine is one product of a delivery. AppliedAt and LotID are set
// once the line has been turned into a lot mutation.
type ReceptionLine struct {
	ID               string              `json:"id" db:"id"`
	TenantID         string              `json:"-" db:"tenant_id"`
	ReceptionID      string              `json:"reception_id" db:"reception_id"`
	LineIndex        int                 `json:"line_index" db:"line_index"`
	ProductID        string              `json:"product_id" db:"product_id"`
	OrderedQty       int                 `json:"ordered_qty" db:"ordered_qty"`
	ReceivedQty      int                 `json:"received_qty" db:"received_qty"`
	AcceptedQty      int                 `json:"accepted_qty" db:"accepted_qty"`
	LotNumber        *string             `json:"lot_number,omitempty" db:"lot_number"`
	ExpirationDate   *time.Time          `json:"expiration_date,omitempty" db:"expiration_date"`
	UnitCost         decimal.Decimal     `json:"unit_cost" db:"unit_cost"`
	TaxRate          decimal.NullDecimal `json:"tax_rate" db:"tax_rate"`
	Markup           decimal.NullDecimal `json:"markup" db:"markup"`
	SalePrice        decimal.NullDecimal `json:"sale_price" db:"sale_price"`
	ComplianceStatus ComplianceStatus    `json:"compliance_status" db:"compliance_status"`
	AppliedAt        *time.Time          `json:"applied_at,omitempty" db:"applied_at"`
	LotID            *string             `json:"lot_id,omitempty" db:"lot_id"`
}

// Applied reports whether the line already produced its lot mutation.
func (l *ReceptionLine) Applied() bool {
	return l.AppliedAt != nil
}

func (l *ReceptionLine) lotNumber() string {
	if l.LotNumber == nil {
		return ""
	}
	return strings.TrimSpace(*l.LotNumber)
}

// LotPolicy controls how reception lines map onto lots.
type LotPolicy struct {
	OneLotPerReception     bool
	AutoGenerateLotNumbers bool
}

// PlannedLine is the lot mutation one or more merged reception lines resolve to.
type PlannedLine struct {
	LineIndexes    []int
	LineIDs        []string
	ProductID      string
	LotNumber      string
	Generated      bool
	Quantity       int
	ExpirationDate *time.Time
	UnitCost       decimal.Decimal
	TaxRate        decimal.NullDecimal
	Markup         decimal.NullDecimal
	SalePrice      decimal.NullDecimal
}

// HasPricing reports whether the line carries a computed sale price.
func (p *PlannedLine) HasPricing() bool {
	return p.SalePrice.Valid
}

// FirstLine is the lowest reception line index behind the plan entry.
func (p *PlannedLine) FirstLine() int {
	return p.LineIndexes[0]
}

// PlanReception validates the pending lines of r and merges lines that target
// the same (product, lot number). Lines with nothing accepted and lines
// already applied are left out. Validation covers every line before anything
// is returned, so a MissingLotNumber or DuplicateLotLine means nothing may
// be written.
func PlanReception(r *Reception, policy LotPolicy) ([]PlannedLine, error) {
	lines := make([]ReceptionLine, 0, len(r.Lines))
	for _, l := range r.Lines {
		if l.AcceptedQty <= 0 || l.Applied() {
			continue
		}
		lines = append(lines, l)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].LineIndex < lines[j].LineIndex })

	type key struct{ product, lot string }
	index := make(map[key]int)
	plan := make([]PlannedLine, 0, len(lines))

	for _, l := range lines {
		number := l.lotNumber()
		generated := false
		if number == "" {
			if !policy.AutoGenerateLotNumbers {
				return nil, errors.MissingLotNumber(l.LineIndex, l.ProductID)
			}
			number = GenerateLotNumber(r.TenantID, l.ProductID, r.ID, l.LineIndex, r.ReceptionDate)
			generated = true
		}

		k := key{l.ProductID, number}
		if at, ok := index[k]; ok {
			p := &plan[at]
			if !sameDate(p.ExpirationDate, l.ExpirationDate) || !p.UnitCost.Equal(l.UnitCost) {
				return nil, errors.DuplicateLotLine(l.ProductID, number, append(append([]int{}, p.LineIndexes...), l.LineIndex)...)
			}
			p.LineIndexes = append(p.LineIndexes, l.LineIndex)
			p.LineIDs = append(p.LineIDs, l.ID)
			p.Quantity += l.AcceptedQty
			if !p.SalePrice.Valid && l.SalePrice.Valid {
				p.TaxRate, p.Markup, p.SalePrice = l.TaxRate, l.Markup, l.SalePrice
			}
			continue
		}

		index[k] = len(plan)
		plan = append(plan, PlannedLine{
			LineIndexes:    []int{l.LineIndex},
			LineIDs:        []string{l.ID},
			ProductID:      l.ProductID,
			LotNumber:      number,
			Generated:      generated,
			Quantity:       l.AcceptedQty,
			ExpirationDate: l.ExpirationDate,
			UnitCost:       l.UnitCost,
			TaxRate:        l.TaxRate,
			Markup:         l.Markup,
			SalePrice:      l.SalePrice,
		})
	}
	return plan, nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return DaysBetween(*a, *b) == 0
}

// LineError is a per-line failure reported back to the operator.
type LineError struct {
	LineIndex int    `json:"line_index"`
	ProductID string `json:"product_id"`
	LotNumber string `json:"lot_number,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ResolutionResult summarizes a reception resolution run. When
// LinesProcessed < LinesTotal the reception is partially applied.
// LinesBlocked counts lines whose product the catalog does not know; a new
// run cannot apply them until the catalog changes, so Resumable only covers
// the remaining lines.
type ResolutionResult struct {
	ReceptionID      string      `json:"reception_id"`
	LotsCreated      int         `json:"lots_created"`
	LotsUpdated      int         `json:"lots_updated"`
	MovementsWritten int         `json:"movements_written"`
	LinesProcessed   int         `json:"lines_processed"`
	LinesSkipped     int         `json:"lines_skipped"`
	LinesBlocked     int         `json:"lines_blocked"`
	LinesTotal       int         `json:"lines_total"`
	Errors           []LineError `json:"errors"`
	Resumable        bool        `json:"resumable"`
}

// Complete reports whether every line is accounted for without error.
func (r *ResolutionResult) Complete() bool {
	return len(r.Errors) == 0 && r.LinesProcessed+r.LinesSkipped == r.LinesTotal
}
