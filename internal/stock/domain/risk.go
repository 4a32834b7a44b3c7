package domain

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel grades expected loss from expiry.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Write-off factors applied to the unsellable value.
var (
	highLossFactor     = decimal.NewFromFloat(0.8)
	criticalLossFactor = decimal.NewFromInt(1)
)

// ExpirationRisk is the expiry assessment of one lot. A nil DaysToSellOut
// means no sales velocity: the lot never sells out on its own.
type ExpirationRisk struct {
	LotID              string          `json:"lot_id"`
	ProductID          string          `json:"product_id"`
	LotNumber          string          `json:"lot_number"`
	ExpirationDate     *time.Time      `json:"expiration_date,omitempty"`
	RemainingQuantity  int             `json:"remaining_quantity"`
	AverageDailySales  float64         `json:"average_daily_sales"`
	DaysToExpiration   *int            `json:"days_to_expiration,omitempty"`
	DaysToSellOut      *float64        `json:"days_to_sell_out"`
	UnsellableQuantity int             `json:"unsellable_quantity"`
	Level              RiskLevel       `json:"level"`
	EstimatedLoss      decimal.Decimal `json:"estimated_loss"`
}

// ClassifyExpiration grades a lot from its days to expiry and days to sell
// out (nil for infinite). A lot with no sales at all and an expiry at most a
// week away is critical, like one already expired.
func ClassifyExpiration(daysToExpiration int, daysToSellOut *float64) RiskLevel {
	outlasts := daysToSellOut == nil || *daysToSellOut > float64(daysToExpiration)
	switch {
	case daysToExpiration <= 0:
		return RiskCritical
	case daysToExpiration <= 7 && daysToSellOut == nil:
		return RiskCritical
	case daysToExpiration <= 7 || outlasts:
		return RiskHigh
	case daysToExpiration <= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// AssessExpiration scores a lot given its product's average daily sales.
func AssessExpiration(lot *Lot, averageDailySales float64, today time.Time) ExpirationRisk {
	r := ExpirationRisk{
		LotID:             lot.ID,
		ProductID:         lot.ProductID,
		LotNumber:         lot.LotNumber,
		ExpirationDate:    lot.ExpirationDate,
		RemainingQuantity: lot.QuantityRemaining,
		AverageDailySales: averageDailySales,
		Level:             RiskLow,
		EstimatedLoss:     decimal.Zero,
	}
	if averageDailySales > 0 {
		sellOut := round2(float64(lot.QuantityRemaining) / averageDailySales)
		r.DaysToSellOut = &sellOut
	}

	days, tracked := lot.DaysToExpiration(today)
	if !tracked || lot.QuantityRemaining <= 0 {
		return r
	}
	r.DaysToExpiration = &days
	r.Level = ClassifyExpiration(days, r.DaysToSellOut)

	unsellable := lot.QuantityRemaining
	if days > 0 && averageDailySales > 0 {
		unsellable = lot.QuantityRemaining - int(math.Floor(averageDailySales*float64(days)))
		if unsellable < 0 {
			unsellable = 0
		}
	}
	r.UnsellableQuantity = unsellable

	value := lot.UnitCost.Mul(decimal.NewFromInt(int64(unsellable)))
	switch r.Level {
	case RiskCritical:
		r.EstimatedLoss = value.Mul(criticalLossFactor).Round(2)
	case RiskHigh:
		r.EstimatedLoss = value.Mul(highLossFactor).Round(2)
	}
	return r
}

// AverageDailySales is units sold over a lookback of days.
func AverageDailySales(unitsSold, days int) float64 {
	if days <= 0 || unitsSold <= 0 {
		return 0
	}
	return float64(unitsSold) / float64(days)
}

// FIFOCheck is the result of checking a lot pick against oldest-first order.
type FIFOCheck struct {
	ProductID             string          `json:"product_id"`
	SelectedLotID         string          `json:"selected_lot_id"`
	SelectedLotNumber     string          `json:"selected_lot_number"`
	SelectedReceptionDate time.Time       `json:"selected_reception_date"`
	OldestLotID           string          `json:"oldest_lot_id"`
	OldestLotNumber       string          `json:"oldest_lot_number"`
	OldestReceptionDate   time.Time       `json:"oldest_reception_date"`
	DeviationDays         int             `json:"deviation_days"`
	ToleranceDays         int             `json:"tolerance_days"`
	Compliant             bool            `json:"compliant"`
	SuggestedLotID        *string         `json:"suggested_lot_id,omitempty"`
	SuggestedLotNumber    *string         `json:"suggested_lot_number,omitempty"`
	EstimatedExposure     decimal.Decimal `json:"estimated_exposure"`
}

// OldestLot picks the lot to consume first: earliest reception date, then
// earliest expiry, then lot number. Empty lots are ignored.
func OldestLot(lots []Lot) *Lot {
	candidates := make([]*Lot, 0, len(lots))
	for i := range lots {
		if lots[i].QuantityRemaining > 0 {
			candidates = append(candidates, &lots[i])
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if d := DaysBetween(b.ReceptionDate, a.ReceptionDate); d != 0 {
			return d < 0
		}
		if a.ExpirationDate != nil && b.ExpirationDate != nil {
			if d := DaysBetween(*b.ExpirationDate, *a.ExpirationDate); d != 0 {
				return d < 0
			}
		} else if a.ExpirationDate != nil || b.ExpirationDate != nil {
			return a.ExpirationDate != nil
		}
		return a.LotNumber < b.LotNumber
	})
	return candidates[0]
}

// CheckFIFO compares the selected lot with the oldest available lot of the
// same product. Exposure is the oldest lot's value carried for the deviation,
// as a fraction of a year.
func CheckFIFO(selected *Lot, available []Lot, toleranceDays int) FIFOCheck {
	c := FIFOCheck{
		ProductID:             selected.ProductID,
		SelectedLotID:         selected.ID,
		SelectedLotNumber:     selected.LotNumber,
		SelectedReceptionDate: selected.ReceptionDate,
		OldestLotID:           selected.ID,
		OldestLotNumber:       selected.LotNumber,
		OldestReceptionDate:   selected.ReceptionDate,
		ToleranceDays:         toleranceDays,
		Compliant:             true,
		EstimatedExposure:     decimal.Zero,
	}

	oldest := OldestLot(available)
	if oldest == nil {
		return c
	}
	c.OldestLotID = oldest.ID
	c.OldestLotNumber = oldest.LotNumber
	c.OldestReceptionDate = oldest.ReceptionDate

	c.DeviationDays = DaysBetween(oldest.ReceptionDate, selected.ReceptionDate)
	if c.DeviationDays < 0 {
		c.DeviationDays = 0
	}
	c.Compliant = c.DeviationDays <= toleranceDays
	if !c.Compliant {
		id, number := oldest.ID, oldest.LotNumber
		c.SuggestedLotID = &id
		c.SuggestedLotNumber = &number
		c.EstimatedExposure = oldest.Value().
			Mul(decimal.NewFromInt(int64(c.DeviationDays))).
			Div(decimal.NewFromInt(365)).
			Round(2)
	}
	return c
}

// StockoutPrediction estimates when a product runs out.
type StockoutPrediction struct {
	ProductID            string     `json:"product_id"`
	RemainingQuantity    int        `json:"remaining_quantity"`
	AverageDailySales    float64    `json:"average_daily_sales"`
	VariationCoefficient float64    `json:"variation_coefficient"`
	ObservedVariation    float64    `json:"observed_variation"`
	DaysUntilStockout    *float64   `json:"days_until_stockout"`
	StockoutDate         *time.Time `json:"stockout_date"`
}

// PredictStockout buffers average demand by (1 + variationCoefficient). With
// no demand the product has no predicted stockout.
func PredictStockout(productID string, remaining int, averageDailySales, variationCoefficient float64, today time.Time) StockoutPrediction {
	p := StockoutPrediction{
		ProductID:            productID,
		RemainingQuantity:    remaining,
		AverageDailySales:    averageDailySales,
		VariationCoefficient: variationCoefficient,
	}
	if averageDailySales <= 0 {
		return p
	}
	days := float64(remaining) / (averageDailySales * (1 + variationCoefficient))
	days = round2(days)
	date := Today(today).AddDate(0, 0, int(math.Floor(days)))
	p.DaysUntilStockout = &days
	p.StockoutDate = &date
	return p
}
