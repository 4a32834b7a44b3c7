package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType names what an alert is about.
type AlertType string

const (
	AlertExpiryRisk AlertType = "expiry_risk"
	AlertLotExpired AlertType = "lot_expired"
)

// AlertStatus is open until someone acknowledges it.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// Alert is a persisted stock alert raised by the expiry scanner.
type Alert struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"-" db:"tenant_id"`
	Type           AlertType       `json:"alert_type" db:"alert_type"`
	Severity       RiskLevel       `json:"severity" db:"severity"`
	ProductID      string          `json:"product_id" db:"product_id"`
	LotID          *string         `json:"lot_id,omitempty" db:"lot_id"`
	Message        string          `json:"message" db:"message"`
	EstimatedLoss  decimal.Decimal `json:"estimated_loss" db:"estimated_loss"`
	Status         AlertStatus     `json:"status" db:"status"`
	AcknowledgedBy *string         `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// AlertFilter narrows an alert listing.
type AlertFilter struct {
	Status   AlertStatus
	Type     AlertType
	Severity RiskLevel
}

// AlertFromRisk turns a high or critical assessment into an alert. It returns
// nil for lower levels.
func AlertFromRisk(r ExpirationRisk) *Alert {
	if r.Level != RiskHigh && r.Level != RiskCritical {
		return nil
	}
	lotID := r.LotID
	a := &Alert{
		Type:          AlertExpiryRisk,
		Severity:      r.Level,
		ProductID:     r.ProductID,
		LotID:         &lotID,
		EstimatedLoss: r.EstimatedLoss,
		Status:        AlertOpen,
	}
	days := 0
	if r.DaysToExpiration != nil {
		days = *r.DaysToExpiration
	}
	if days <= 0 {
		a.Type = AlertLotExpired
		a.Message = fmt.Sprintf("lot %s has expired with %d units left", r.LotNumber, r.RemainingQuantity)
	} else {
		a.Message = fmt.Sprintf("lot %s expires in %d days, %d of %d units unlikely to sell",
			r.LotNumber, days, r.UnsellableQuantity, r.RemainingQuantity)
	}
	return a
}
