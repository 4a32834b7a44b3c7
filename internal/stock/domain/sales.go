package domain

import (
	"math"
	"time"
)

// SaleLine is a line written by the point-of-sale collaborator.
type SaleLine struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"-" db:"tenant_id"`
	SalesSessionID string    `json:"sales_session_id" db:"sales_session_id"`
	ProductID      string    `json:"product_id" db:"product_id"`
	LotID          *string   `json:"lot_id,omitempty" db:"lot_id"`
	Quantity       int       `json:"quantity" db:"quantity"`
	SoldAt         time.Time `json:"sold_at" db:"sold_at"`
}

// SoldQuantity is the total sold per (product, lot) for a sales session.
type SoldQuantity struct {
	ProductID string  `db:"product_id"`
	LotID     *string `db:"lot_id"`
	Quantity  int     `db:"quantity"`
}

// DailySales is one day of units sold for a product.
type DailySales struct {
	Day   time.Time `db:"day"`
	Units int       `db:"units"`
}

// VariationCoefficient is stddev / mean of daily units over days, counting
// days without sales as zero. It returns fallback when there is no demand.
func VariationCoefficient(series []DailySales, days int, fallback float64) float64 {
	if days <= 1 {
		return fallback
	}
	var total float64
	for _, d := range series {
		total += float64(d.Units)
	}
	mean := total / float64(days)
	if mean <= 0 {
		return fallback
	}
	var sq float64
	for _, d := range series {
		diff := float64(d.Units) - mean
		sq += diff * diff
	}
	// Days with no row contributed zero units.
	missing := days - len(series)
	if missing > 0 {
		sq += float64(missing) * mean * mean
	}
	variance := sq / float64(days)
	return math.Sqrt(variance) / mean
}
