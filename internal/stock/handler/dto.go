package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
)

// CreateReceptionRequest is the body of POST /receptions.
type CreateReceptionRequest struct {
	SupplierID       string                 `json:"supplier_id" validate:"required"`
	ReceptionDate    string                 `json:"reception_date" validate:"required,datetime=2006-01-02"`
	Agent            string                 `json:"agent" validate:"max=255"`
	ReferenceInvoice *string                `json:"reference_invoice,omitempty" validate:"omitempty,max=100"`
	TotalHT          decimal.Decimal        `json:"total_ht"`
	TotalTTC         decimal.Decimal        `json:"total_ttc"`
	PackagingOK      bool                   `json:"packaging_ok"`
	TemperatureOK    bool                   `json:"temperature_ok"`
	DocumentsOK      bool                   `json:"documents_ok"`
	Notes            *string                `json:"notes,omitempty"`
	Lines            []ReceptionLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ReceptionLineRequest is one delivered product. LineIndex defaults to the
// position in the request.
type ReceptionLineRequest struct {
	LineIndex        *int                `json:"line_index,omitempty" validate:"omitempty,min=0"`
	ProductID        string              `json:"product_id" validate:"required"`
	OrderedQty       int                 `json:"ordered_qty" validate:"min=0"`
	ReceivedQty      int                 `json:"received_qty" validate:"min=0"`
	AcceptedQty      int                 `json:"accepted_qty" validate:"min=0"`
	LotNumber        *string             `json:"lot_number,omitempty" validate:"omitempty,max=100"`
	ExpirationDate   *string             `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	UnitCost         decimal.Decimal     `json:"unit_cost"`
	TaxRate          decimal.NullDecimal `json:"tax_rate"`
	Markup           decimal.NullDecimal `json:"markup"`
	SalePrice        decimal.NullDecimal `json:"sale_price"`
	ComplianceStatus string              `json:"compliance_status" validate:"omitempty,oneof=conforme non-conforme partiellement-conforme"`
}

func (req *CreateReceptionRequest) toDomain() *domain.Reception {
	received, _ := time.Parse(httputil.DateLayout, req.ReceptionDate)
	rec := &domain.Reception{
		SupplierID:       req.SupplierID,
		ReceptionDate:    received,
		Agent:            req.Agent,
		ReferenceInvoice: req.ReferenceInvoice,
		TotalHT:          req.TotalHT,
		TotalTTC:         req.TotalTTC,
		PackagingOK:      req.PackagingOK,
		TemperatureOK:    req.TemperatureOK,
		DocumentsOK:      req.DocumentsOK,
		Notes:            req.Notes,
		Lines:            make([]domain.ReceptionLine, 0, len(req.Lines)),
	}
	for i, l := range req.Lines {
		index := i
		if l.LineIndex != nil {
			index = *l.LineIndex
		}
		status := domain.ComplianceStatus(l.ComplianceStatus)
		if status == "" {
			status = domain.Compliant
		}
		rec.Lines = append(rec.Lines, domain.ReceptionLine{
			LineIndex:        index,
			ProductID:        l.ProductID,
			OrderedQty:       l.OrderedQty,
			ReceivedQty:      l.ReceivedQty,
			AcceptedQty:      l.AcceptedQty,
			LotNumber:        l.LotNumber,
			ExpirationDate:   parseOptionalDate(l.ExpirationDate),
			UnitCost:         l.UnitCost,
			TaxRate:          l.TaxRate,
			Markup:           l.Markup,
			SalePrice:        l.SalePrice,
			ComplianceStatus: status,
		})
	}
	return rec
}

// CreateLotRequest is the body of POST /lots.
type CreateLotRequest struct {
	ProductID      string              `json:"product_id" validate:"required"`
	LotNumber      string              `json:"lot_number" validate:"required,max=100"`
	Quantity       int                 `json:"quantity" validate:"min=0"`
	ExpirationDate *string             `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ReceptionDate  *string             `json:"reception_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	SupplierID     *string             `json:"supplier_id,omitempty"`
	UnitCost       decimal.Decimal     `json:"unit_cost"`
	TaxRate        decimal.NullDecimal `json:"tax_rate"`
	Markup         decimal.NullDecimal `json:"markup"`
	SalePrice      decimal.NullDecimal `json:"sale_price"`
	Location       *string             `json:"location,omitempty" validate:"omitempty,max=100"`
}

func (req *CreateLotRequest) toDomain(now time.Time) domain.NewLot {
	received := domain.Today(now)
	if d := parseOptionalDate(req.ReceptionDate); d != nil {
		received = *d
	}
	return domain.NewLot{
		ProductID:      req.ProductID,
		LotNumber:      req.LotNumber,
		Quantity:       req.Quantity,
		ExpirationDate: parseOptionalDate(req.ExpirationDate),
		ReceptionDate:  received,
		SupplierID:     req.SupplierID,
		UnitCost:       req.UnitCost,
		TaxRate:        req.TaxRate,
		Markup:         req.Markup,
		SalePrice:      req.SalePrice,
		Location:       req.Location,
	}
}

// AdjustLotRequest is the body of POST /lots/{id}/adjust.
type AdjustLotRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// ConsumeLotRequest is the body of POST /lots/{id}/consume.
type ConsumeLotRequest struct {
	Quantity int    `json:"quantity" validate:"required,gt=0"`
	SaleRef  string `json:"sale_ref" validate:"required,max=100"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Type      string `json:"type" validate:"required,oneof=standard reception sales"`
	SourceRef string `json:"source_ref"`
	Label     string `json:"label" validate:"max=255"`
}

// RecordCountRequest is the body of PUT /sessions/{id}/items/{itemId}/count.
type RecordCountRequest struct {
	Counted  *int    `json:"counted" validate:"required"`
	Location *string `json:"location,omitempty" validate:"omitempty,max=100"`
}

func parseOptionalDate(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse(httputil.DateLayout, *raw)
	if err != nil {
		return nil
	}
	return &t
}
