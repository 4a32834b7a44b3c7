package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
)

// OperatorID is the operator recorded by fixtures
const OperatorID = "5f1d7a3c-2b4e-4a6f-8c9d-0e1f2a3b4c5d"

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
	// Today anchors reception and expiration dates
	Today time.Time
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{Today: domain.Today(time.Now())}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Product creates a catalog product with defaults
func (f *FixtureFactory) Product(opts ...func(*domain.Product)) domain.Product {
	seq := f.nextSeq()
	family := "analgesics"
	p := domain.Product{
		ID:        uuid.New().String(),
		Name:      fmt.Sprintf("Paracetamol %d mg", 500+seq),
		Family:    &family,
		Unit:      "box",
		CostPrice: decimal.RequireFromString("2.40"),
		SalePrice: decimal.RequireFromString("3.90"),
		IsActive:  true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithFamily sets the product family
func WithFamily(family string) func(*domain.Product) {
	return func(p *domain.Product) {
		p.Family = &family
	}
}

// Lot creates a lot of productID with defaults: 100 units received today,
// expiring in a year.
func (f *FixtureFactory) Lot(productID string, opts ...func(*domain.Lot)) domain.Lot {
	seq := f.nextSeq()
	exp := f.Today.AddDate(1, 0, 0)
	l := domain.Lot{
		ID:                uuid.New().String(),
		ProductID:         productID,
		LotNumber:         fmt.Sprintf("LOT-%04d", seq),
		QuantityInitial:   100,
		QuantityRemaining: 100,
		ExpirationDate:    &exp,
		ReceptionDate:     f.Today,
		UnitCost:          decimal.RequireFromString("2.40"),
	}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// WithRemaining sets the remaining quantity
func WithRemaining(n int) func(*domain.Lot) {
	return func(l *domain.Lot) {
		l.QuantityRemaining = n
	}
}

// WithExpiry sets the expiration date
func WithExpiry(t time.Time) func(*domain.Lot) {
	return func(l *domain.Lot) {
		l.ExpirationDate = &t
	}
}

// WithReceivedOn sets the reception date
func WithReceivedOn(t time.Time) func(*domain.Lot) {
	return func(l *domain.Lot) {
		l.ReceptionDate = t
	}
}

// WithLotNumber sets the lot number
func WithLotNumber(n string) func(*domain.Lot) {
	return func(l *domain.Lot) {
		l.LotNumber = n
	}
}

// Reception creates a draft reception with one line per ReceptionLine
// passed. Line IDs, indexes and reception IDs are filled in.
func (f *FixtureFactory) Reception(lines ...domain.ReceptionLine) *domain.Reception {
	seq := f.nextSeq()
	invoice := fmt.Sprintf("INV-%05d", seq)
	r := &domain.Reception{
		ID:               uuid.New().String(),
		SupplierID:       uuid.New().String(),
		ReceptionDate:    f.Today,
		Agent:            "reception desk",
		ReferenceInvoice: &invoice,
		TotalHT:          decimal.Zero,
		TotalTTC:         decimal.Zero,
		PackagingOK:      true,
		TemperatureOK:    true,
		DocumentsOK:      true,
		Status:           domain.ReceptionDraft,
		CreatedBy:        OperatorID,
	}
	for i, l := range lines {
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.ReceptionID = r.ID
		l.LineIndex = i
		if l.ComplianceStatus == "" {
			l.ComplianceStatus = domain.Compliant
		}
		r.Lines = append(r.Lines, l)
		r.TotalHT = r.TotalHT.Add(l.UnitCost.Mul(decimal.NewFromInt(int64(l.AcceptedQty))))
	}
	r.TotalTTC = r.TotalHT
	return r
}

// ReceptionLine creates a reception line accepting qty units of productID
// under lotNumber. An empty lotNumber leaves the line without one.
func (f *FixtureFactory) ReceptionLine(productID, lotNumber string, qty int) domain.ReceptionLine {
	exp := f.Today.AddDate(2, 0, 0)
	l := domain.ReceptionLine{
		ProductID:      productID,
		OrderedQty:     qty,
		ReceivedQty:    qty,
		AcceptedQty:    qty,
		ExpirationDate: &exp,
		UnitCost:       decimal.RequireFromString("2.40"),
	}
	if lotNumber != "" {
		l.LotNumber = &lotNumber
	}
	return l
}

// Session creates an in-progress standard session
func (f *FixtureFactory) Session(opts ...func(*domain.InventorySession)) *domain.InventorySession {
	seq := f.nextSeq()
	s := &domain.InventorySession{
		ID:        uuid.New().String(),
		Label:     fmt.Sprintf("Count %d", seq),
		Type:      domain.SessionStandard,
		Status:    domain.SessionInProgress,
		StartedBy: OperatorID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSource makes the session a reception or sales session on ref
func WithSource(typ domain.SessionType, ref string) func(*domain.InventorySession) {
	return func(s *domain.InventorySession) {
		s.Type = typ
		switch typ {
		case domain.SessionReception:
			s.ReceptionID = &ref
		case domain.SessionSales:
			s.SalesSessionID = &ref
		}
	}
}
