package service

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/cache"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

// unitOfWork runs fn as one tenant transaction and retries the whole
// transaction on transient failures. fn must use the ctx it is given.
func unitOfWork(ctx context.Context, tx TxRunner, policy database.RetryPolicy, log *logger.Logger, fn func(ctx context.Context) error) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return errors.BadRequest("tenant context required")
	}
	return database.Retry(ctx, policy, tx, log, func(ctx context.Context) error {
		return tx.WithinTenant(ctx, tenantID, fn)
	})
}

func rotationScope(ctx context.Context) string {
	tenantID, _ := tenant.TenantID(ctx)
	return "rotation:" + tenantID
}

type noopPublisher struct{}

func (noopPublisher) PublishMovementRecorded(context.Context, *domain.Movement)          {}
func (noopPublisher) PublishReceptionResolved(context.Context, *domain.ResolutionResult) {}
func (noopPublisher) PublishSessionCompleted(context.Context, *domain.InventorySession)  {}
func (noopPublisher) PublishAlertGenerated(context.Context, *domain.Alert)               {}

// LedgerService is the only writer of lot quantities. Every change is a lot
// update plus one movement in the same transaction, under the lot's row lock.
type LedgerService struct {
	tx        TxRunner
	lots      LotRepository
	movements MovementRepository
	publisher EventPublisher
	cache     cache.VersionedCache
	retry     database.RetryPolicy
	clock     Clock
	logger    *logger.Logger
}

// NewLedgerService creates a ledger. publisher and rotationCache may be nil.
func NewLedgerService(
	tx TxRunner,
	lots LotRepository,
	movements MovementRepository,
	publisher EventPublisher,
	rotationCache cache.VersionedCache,
	retry database.RetryPolicy,
	log *logger.Logger,
) *LedgerService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &LedgerService{
		tx:        tx,
		lots:      lots,
		movements: movements,
		publisher: publisher,
		cache:     rotationCache,
		retry:     retry,
		logger:    log.WithComponent("ledger"),
	}
}

// Record writes one movement against a lot in its own unit of work.
func (s *LedgerService) Record(ctx context.Context, lotID string, typ domain.MovementType, delta int, ref domain.Reference) (*domain.Movement, error) {
	var m *domain.Movement
	err := unitOfWork(ctx, s.tx, s.retry, s.logger, func(ctx context.Context) error {
		var err error
		m, err = s.apply(ctx, lotID, typ, delta, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, m)
	return m, nil
}

// committed runs the side effects of movements that are durable.
func (s *LedgerService) committed(ctx context.Context, ms ...*domain.Movement) {
	for _, m := range ms {
		s.publisher.PublishMovementRecorded(ctx, m)
	}
	if s.cache != nil && len(ms) > 0 {
		if err := s.cache.Invalidate(ctx, rotationScope(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate rotation cache")
		}
	}
}

// apply must run inside a unit of work. It locks the lot, checks it against
// its last movement, then writes the new quantity and the movement.
func (s *LedgerService) apply(ctx context.Context, lotID string, typ domain.MovementType, delta int, ref domain.Reference) (*domain.Movement, error) {
	lot, err := s.lots.GetForUpdate(ctx, lotID)
	if err != nil {
		return nil, err
	}

	last, err := s.movements.LastForLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	ledger := 0
	if last != nil {
		ledger = last.QuantityAfter
	}
	if ledger != lot.QuantityRemaining {
		s.logger.Error().
			Str("lot_id", lotID).
			Int("expected", ledger).
			Int("actual", lot.QuantityRemaining).
			Msg("lot quantity does not match its ledger")
		return nil, errors.LedgerIntegrity(lotID, ledger, lot.QuantityRemaining)
	}

	after, err := domain.ComputeAfter(lotID, lot.QuantityRemaining, typ, delta)
	if err != nil {
		return nil, err
	}
	if err := s.lots.UpdateQuantity(ctx, lotID, after); err != nil {
		return nil, err
	}

	m := &domain.Movement{
		LotID:          lotID,
		ProductID:      lot.ProductID,
		Type:           typ,
		QuantityBefore: lot.QuantityRemaining,
		QuantityDelta:  delta,
		QuantityAfter:  after,
		ReferenceType:  ref.Type,
		Reason:         ref.Reason,
		OperatorID:     actor.OperatorID(ctx),
	}
	if ref.ID != "" {
		id := ref.ID
		m.ReferenceID = &id
	}
	if err := s.movements.Append(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// open must run inside a unit of work. It creates an empty lot and brings it
// to its opening quantity with one entry movement.
func (s *LedgerService) open(ctx context.Context, spec domain.NewLot, ref domain.Reference) (*domain.Lot, *domain.Movement, error) {
	if spec.Quantity <= 0 {
		return nil, nil, errors.Validation(map[string]string{"quantity": "must be positive"})
	}
	receptionDate := spec.ReceptionDate
	if receptionDate.IsZero() {
		receptionDate = s.clock.now()
	}
	lot := &domain.Lot{
		ProductID:         spec.ProductID,
		LotNumber:         spec.LotNumber,
		QuantityInitial:   spec.Quantity,
		QuantityRemaining: 0,
		ExpirationDate:    spec.ExpirationDate,
		ReceptionDate:     receptionDate,
		SupplierID:        spec.SupplierID,
		ReceptionID:       spec.ReceptionID,
		UnitCost:          spec.UnitCost,
		TaxRate:           spec.TaxRate,
		Markup:            spec.Markup,
		SalePrice:         spec.SalePrice,
		Location:          spec.Location,
	}
	if err := s.lots.Create(ctx, lot); err != nil {
		return nil, nil, err
	}
	m, err := s.apply(ctx, lot.ID, domain.MovementEntry, spec.Quantity, ref)
	if err != nil {
		return nil, nil, err
	}
	lot.QuantityRemaining = m.QuantityAfter
	return lot, m, nil
}

// Verify replays a lot's ledger.
func (s *LedgerService) Verify(ctx context.Context, lotID string) (*domain.LedgerReport, error) {
	lot, err := s.lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	movements, err := s.movements.ListByLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	report := domain.VerifyLedger(lot, movements)
	if !report.OK() {
		s.logger.Error().
			Str("lot_id", lotID).
			Int("replayed", report.ReplayedQuantity).
			Int("lot_quantity", report.LotQuantity).
			Int("violations", len(report.Violations)).
			Msg("ledger verification failed")
	}
	return &report, nil
}
