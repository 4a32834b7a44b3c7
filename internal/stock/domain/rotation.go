package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Window is the period a rotation analysis covers.
type Window string

const (
	WindowMonthly   Window = "monthly"
	WindowQuarterly Window = "quarterly"
	WindowYearly    Window = "yearly"
	WindowCustom    Window = "custom"
)

// Range resolves the window to [start, end) where end is the day after to,
// so the day of to is included. Custom windows need an explicit from no
// later than to.
func (w Window) Range(from, to time.Time) (time.Time, time.Time, int, error) {
	to = Today(to).AddDate(0, 0, 1)
	var days int
	switch w {
	case WindowMonthly, "":
		days = 30
	case WindowQuarterly:
		days = 90
	case WindowYearly:
		days = 365
	case WindowCustom:
		if from.IsZero() {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("custom window needs a start date")
		}
		from = Today(from)
		days = DaysBetween(from, to)
		if days <= 0 {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("custom window must not end before it starts")
		}
		return from, to, days, nil
	default:
		return time.Time{}, time.Time{}, 0, fmt.Errorf("unknown window %q", w)
	}
	return to.AddDate(0, 0, -days), to, days, nil
}

// RotationClass buckets a product by turnover rate.
type RotationClass string

const (
	RotationExcellent RotationClass = "excellent"
	RotationGood      RotationClass = "good"
	RotationMedium    RotationClass = "medium"
	RotationWeak      RotationClass = "weak"
	RotationCritical  RotationClass = "critical"
)

// ClassifyTurnover applies the 10 / 6 / 3 / 1 thresholds.
func ClassifyTurnover(rate float64) RotationClass {
	switch {
	case rate >= 10:
		return RotationExcellent
	case rate >= 6:
		return RotationGood
	case rate >= 3:
		return RotationMedium
	case rate >= 1:
		return RotationWeak
	default:
		return RotationCritical
	}
}

// AverageStock is the mean over lots of (initial + remaining) / 2.
func AverageStock(lots []Lot) float64 {
	if len(lots) == 0 {
		return 0
	}
	var sum float64
	for i := range lots {
		sum += float64(lots[i].QuantityInitial+lots[i].QuantityRemaining) / 2
	}
	return sum / float64(len(lots))
}

// AnnualConsumption scales units sold over windowDays to a year.
func AnnualConsumption(unitsSold, windowDays int) float64 {
	if windowDays <= 0 {
		return 0
	}
	return float64(unitsSold) * 365 / float64(windowDays)
}

// TurnoverRate is annual consumption over average stock, 0 without stock.
func TurnoverRate(annualConsumption, averageStock float64) float64 {
	if averageStock <= 0 {
		return 0
	}
	return annualConsumption / averageStock
}

// ProductRotation is the turnover analysis of one product.
type ProductRotation struct {
	ProductID         string          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Family            string          `json:"family,omitempty"`
	LotCount          int             `json:"lot_count"`
	QuantityOnHand    int             `json:"quantity_on_hand"`
	AverageStock      float64         `json:"average_stock"`
	UnitsSold         int             `json:"units_sold"`
	AnnualConsumption float64         `json:"annual_consumption"`
	TurnoverRate      float64         `json:"turnover_rate"`
	Class             RotationClass   `json:"class"`
	StockValue        decimal.Decimal `json:"stock_value"`
	DaysOfCover       *float64        `json:"days_of_cover,omitempty"`
}

// AnalyzeProduct computes the rotation figures of a product from its lots and
// the units sold during a window of windowDays.
func AnalyzeProduct(p Product, lots []Lot, unitsSold, windowDays int) ProductRotation {
	r := ProductRotation{
		ProductID:   p.ID,
		ProductName: p.Name,
		LotCount:    len(lots),
		UnitsSold:   unitsSold,
		StockValue:  decimal.Zero,
	}
	if p.Family != nil {
		r.Family = *p.Family
	}
	for i := range lots {
		r.QuantityOnHand += lots[i].QuantityRemaining
		r.StockValue = r.StockValue.Add(lots[i].Value())
	}
	r.AverageStock = round2(AverageStock(lots))
	r.AnnualConsumption = round2(AnnualConsumption(unitsSold, windowDays))
	rate := TurnoverRate(AnnualConsumption(unitsSold, windowDays), AverageStock(lots))
	r.TurnoverRate = round2(rate)
	r.Class = ClassifyTurnover(rate)
	if unitsSold > 0 && windowDays > 0 {
		cover := round2(float64(r.QuantityOnHand) / (float64(unitsSold) / float64(windowDays)))
		r.DaysOfCover = &cover
	}
	return r
}

// RotationFilter narrows an analysis.
type RotationFilter struct {
	ProductID string
	Family    string
	Class     RotationClass
}

// Match reports whether a computed row passes the class filter. Product and
// family filters are applied when loading.
func (f RotationFilter) Match(r ProductRotation) bool {
	return f.Class == "" || r.Class == f.Class
}

// RotationStats counts products per class.
type RotationStats struct {
	ProductCount int                   `json:"product_count"`
	ByClass      map[RotationClass]int `json:"by_class"`
}

// RotationMetrics are portfolio-level figures.
type RotationMetrics struct {
	AverageTurnover  float64         `json:"average_turnover"`
	TotalStockValue  decimal.Decimal `json:"total_stock_value"`
	SlowMovingValue  decimal.Decimal `json:"slow_moving_value"`
	SlowMovingShare  float64         `json:"slow_moving_share"`
	TotalUnitsSold   int             `json:"total_units_sold"`
	TotalUnitsOnHand int             `json:"total_units_on_hand"`
}

// RotationReport is the result of analyzeRotation.
type RotationReport struct {
	Window   Window            `json:"window"`
	From     time.Time         `json:"from"`
	To       time.Time         `json:"to"`
	Days     int               `json:"days"`
	Products []ProductRotation `json:"products"`
	Stats    RotationStats     `json:"stats"`
	Metrics  RotationMetrics   `json:"metrics"`
}

// Summarize fills Stats and Metrics from Products. Weak and critical
// products count as slow moving.
func (r *RotationReport) Summarize() {
	r.Stats = RotationStats{
		ProductCount: len(r.Products),
		ByClass: map[RotationClass]int{
			RotationExcellent: 0, RotationGood: 0, RotationMedium: 0, RotationWeak: 0, RotationCritical: 0,
		},
	}
	m := RotationMetrics{TotalStockValue: decimal.Zero, SlowMovingValue: decimal.Zero}
	var turnover float64
	for _, p := range r.Products {
		r.Stats.ByClass[p.Class]++
		turnover += p.TurnoverRate
		m.TotalStockValue = m.TotalStockValue.Add(p.StockValue)
		if p.Class == RotationWeak || p.Class == RotationCritical {
			m.SlowMovingValue = m.SlowMovingValue.Add(p.StockValue)
		}
		m.TotalUnitsSold += p.UnitsSold
		m.TotalUnitsOnHand += p.QuantityOnHand
	}
	if len(r.Products) > 0 {
		m.AverageTurnover = round2(turnover / float64(len(r.Products)))
	}
	if m.TotalStockValue.IsPositive() {
		share, _ := m.SlowMovingValue.Div(m.TotalStockValue).Float64()
		m.SlowMovingShare = round2(share * 100)
	}
	r.Metrics = m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
