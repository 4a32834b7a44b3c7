// Package domain holds the stock entities and the pure calculations behind
// the lot ledger, reception resolution, reconciliation and risk analysis.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the local read model of a catalog product.
type Product struct {
	ID              string          `json:"id" db:"id"`
	TenantID        string          `json:"-" db:"tenant_id"`
	Name            string          `json:"name" db:"name"`
	Barcode         *string         `json:"barcode,omitempty" db:"barcode"`
	Family          *string         `json:"family,omitempty" db:"family"`
	Unit            string          `json:"unit" db:"unit"`
	CostPrice       decimal.Decimal `json:"cost_price" db:"cost_price"`
	SalePrice       decimal.Decimal `json:"sale_price" db:"sale_price"`
	DefaultLocation *string         `json:"default_location,omitempty" db:"default_location"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Lot is one traceable batch of one product with its own quantity counter.
// QuantityRemaining only changes together with a Movement.
type Lot struct {
	ID                string              `json:"id" db:"id"`
	TenantID          string              `json:"-" db:"tenant_id"`
	ProductID         string              `json:"product_id" db:"product_id"`
	LotNumber         string              `json:"lot_number" db:"lot_number"`
	QuantityInitial   int                 `json:"quantity_initial" db:"quantity_initial"`
	QuantityRemaining int                 `json:"quantity_remaining" db:"quantity_remaining"`
	ExpirationDate    *time.Time          `json:"expiration_date,omitempty" db:"expiration_date"`
	ReceptionDate     time.Time           `json:"reception_date" db:"reception_date"`
	SupplierID        *string             `json:"supplier_id,omitempty" db:"supplier_id"`
	ReceptionID       *string             `json:"reception_id,omitempty" db:"reception_id"`
	UnitCost          decimal.Decimal     `json:"unit_cost" db:"unit_cost"`
	TaxRate           decimal.NullDecimal `json:"tax_rate" db:"tax_rate"`
	Markup            decimal.NullDecimal `json:"markup" db:"markup"`
	SalePrice         decimal.NullDecimal `json:"sale_price" db:"sale_price"`
	Location          *string             `json:"location,omitempty" db:"location"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`
}

// Value is the purchase value of what is left in the lot.
func (l *Lot) Value() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(int64(l.QuantityRemaining)))
}

// DaysToExpiration returns whole days from today to the expiration date.
// ok is false when the lot does not track an expiry.
func (l *Lot) DaysToExpiration(today time.Time) (days int, ok bool) {
	if l.ExpirationDate == nil {
		return 0, false
	}
	return DaysBetween(today, *l.ExpirationDate), true
}

// IsExpired reports whether the lot expired on or before today.
func (l *Lot) IsExpired(today time.Time) bool {
	days, ok := l.DaysToExpiration(today)
	return ok && days <= 0
}

// NewLot describes a lot to create. The lot starts empty; its opening
// quantity arrives through the entry movement written with it.
type NewLot struct {
	ProductID      string
	LotNumber      string
	Quantity       int
	ExpirationDate *time.Time
	ReceptionDate  time.Time
	SupplierID     *string
	ReceptionID    *string
	UnitCost       decimal.Decimal
	TaxRate        decimal.NullDecimal
	Markup         decimal.NullDecimal
	SalePrice      decimal.NullDecimal
	Location       *string
}

// DaysBetween counts calendar days from a to b, ignoring the time of day.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// Today truncates t to its calendar date in UTC.
func Today(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LotFilter narrows a lot listing.
type LotFilter struct {
	ProductID string
	// Available keeps only lots with stock left.
	Available bool
	// ExpiringBefore keeps only lots with an expiry on or before the date.
	ExpiringBefore *time.Time
	Limit          int
	Offset         int
}
