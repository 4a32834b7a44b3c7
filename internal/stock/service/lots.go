package service

import (
	"context"
	"strings"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// LotService is the lot store: lookups plus the quantity operations, each of
// which goes through the ledger.
type LotService struct {
	ledger   *LedgerService
	lots     LotRepository
	products ProductCatalog
	audit    *AuditService
	logger   *logger.Logger
}

// NewLotService creates a new lot service
func NewLotService(ledger *LedgerService, lots LotRepository, products ProductCatalog, audit *AuditService, log *logger.Logger) *LotService {
	return &LotService{
		ledger:   ledger,
		lots:     lots,
		products: products,
		audit:    audit,
		logger:   log.WithComponent("lots"),
	}
}

// FindLot returns the newest lot with this number, or nil.
func (s *LotService) FindLot(ctx context.Context, productID, lotNumber string) (*domain.Lot, error) {
	return s.lots.FindByNumber(ctx, productID, strings.TrimSpace(lotNumber))
}

// CreateLot opens a lot with its entry movement.
func (s *LotService) CreateLot(ctx context.Context, spec domain.NewLot, ref domain.Reference) (*domain.Lot, error) {
	var lot *domain.Lot
	var m *domain.Movement
	err := unitOfWork(ctx, s.ledger.tx, s.ledger.retry, s.logger, func(ctx context.Context) error {
		var err error
		lot, m, err = s.ledger.open(ctx, spec, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.ledger.committed(ctx, m)
	return lot, nil
}

// IncrementLot adds delta units to a lot with an entry movement.
func (s *LotService) IncrementLot(ctx context.Context, lotID string, delta int, ref domain.Reference) (*domain.Lot, error) {
	return s.move(ctx, lotID, domain.MovementEntry, delta, ref)
}

// DecrementLot removes delta units from a lot with an exit movement. It fails
// with NegativeQuantity when the lot holds fewer than delta units.
func (s *LotService) DecrementLot(ctx context.Context, lotID string, delta int, ref domain.Reference) (*domain.Lot, error) {
	return s.move(ctx, lotID, domain.MovementExit, delta, ref)
}

func (s *LotService) move(ctx context.Context, lotID string, typ domain.MovementType, delta int, ref domain.Reference) (*domain.Lot, error) {
	if _, err := s.ledger.Record(ctx, lotID, typ, delta, ref); err != nil {
		return nil, err
	}
	return s.lots.GetByID(ctx, lotID)
}

// CreateManualLot registers stock that arrived outside a reception.
func (s *LotService) CreateManualLot(ctx context.Context, spec domain.NewLot) (*domain.Lot, error) {
	spec.LotNumber = strings.TrimSpace(spec.LotNumber)
	if spec.LotNumber == "" {
		return nil, errors.Validation(map[string]string{"lot_number": "required"})
	}
	if _, err := s.products.GetByID(ctx, spec.ProductID); err != nil {
		return nil, err
	}
	spec.ReceptionID = nil

	lot, err := s.CreateLot(ctx, spec, domain.Reference{Type: domain.ReferenceAdjustment, Reason: "manual entry"})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, domain.EntityLot, lot.ID, domain.ActionCreated, map[string]interface{}{
		"product_id": lot.ProductID,
		"lot_number": lot.LotNumber,
		"quantity":   lot.QuantityInitial,
	})
	return lot, nil
}

// AdjustLot applies a signed manual correction.
func (s *LotService) AdjustLot(ctx context.Context, lotID string, delta int, reason string) (*domain.Movement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation(map[string]string{"reason": "required"})
	}
	m, err := s.ledger.Record(ctx, lotID, domain.MovementAdjustment, delta, domain.Reference{
		Type:   domain.ReferenceAdjustment,
		Reason: reason,
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, domain.EntityLot, lotID, domain.ActionAdjusted, map[string]interface{}{
		"movement_id":     m.ID,
		"quantity_before": m.QuantityBefore,
		"quantity_after":  m.QuantityAfter,
		"reason":          reason,
	})
	return m, nil
}

// ConsumeLot records a sale against a lot.
func (s *LotService) ConsumeLot(ctx context.Context, lotID string, quantity int, saleRef string) (*domain.Lot, error) {
	if strings.TrimSpace(saleRef) == "" {
		return nil, errors.Validation(map[string]string{"sale_ref": "required"})
	}
	return s.DecrementLot(ctx, lotID, quantity, domain.Reference{
		Type:   domain.ReferenceSale,
		ID:     saleRef,
		Reason: "sale",
	})
}

// Get returns a lot by ID.
func (s *LotService) Get(ctx context.Context, id string) (*domain.Lot, error) {
	return s.lots.GetByID(ctx, id)
}

// List lists lots.
func (s *LotService) List(ctx context.Context, filter domain.LotFilter) ([]domain.Lot, error) {
	return s.lots.List(ctx, filter)
}

// Movements returns a lot's ledger in commit order.
func (s *LotService) Movements(ctx context.Context, lotID string) ([]domain.Movement, error) {
	if _, err := s.lots.GetByID(ctx, lotID); err != nil {
		return nil, err
	}
	return s.ledger.movements.ListByLot(ctx, lotID)
}

// Verify replays a lot's ledger.
func (s *LotService) Verify(ctx context.Context, lotID string) (*domain.LedgerReport, error) {
	return s.ledger.Verify(ctx, lotID)
}
