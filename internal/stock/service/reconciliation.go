package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// ReconciliationService runs inventory counting sessions.
//
// Every write locks the session row first. That orders counts against
// completion, and aggregates are always recomputed from the full item set
// inside the same transaction, so concurrent operators never leave stale
// counters behind.
type ReconciliationService struct {
	tx         TxRunner
	sessions   SessionRepository
	lots       LotRepository
	movements  MovementRepository
	receptions ReceptionRepository
	products   ProductCatalog
	sales      SalesSource
	operators  OperatorRepository
	audit      *AuditService
	publisher  EventPublisher
	retry      database.RetryPolicy
	batchSize  int
	clock      Clock
	logger     *logger.Logger
}

// ReconciliationDeps groups the collaborators of the reconciliation service.
type ReconciliationDeps struct {
	Tx         TxRunner
	Sessions   SessionRepository
	Lots       LotRepository
	Movements  MovementRepository
	Receptions ReceptionRepository
	Products   ProductCatalog
	Sales      SalesSource
	Operators  OperatorRepository
	Audit      *AuditService
	Publisher  EventPublisher
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(deps ReconciliationDeps, retry database.RetryPolicy, batchSize int, log *logger.Logger) *ReconciliationService {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ReconciliationService{
		tx:         deps.Tx,
		sessions:   deps.Sessions,
		lots:       deps.Lots,
		movements:  deps.Movements,
		receptions: deps.Receptions,
		products:   deps.Products,
		sales:      deps.Sales,
		operators:  deps.Operators,
		audit:      deps.Audit,
		publisher:  publisher,
		retry:      retry,
		batchSize:  batchSize,
		logger:     log.WithComponent("reconciliation"),
	}
}

// CreateSession starts a counting session. Reception and sales sessions need
// the reception or sales session they verify.
func (s *ReconciliationService) CreateSession(ctx context.Context, typ domain.SessionType, sourceRef, label string) (*domain.InventorySession, error) {
	if !typ.Valid() {
		return nil, errors.Validation(map[string]string{"session_type": "must be standard, reception or sales"})
	}
	sourceRef = strings.TrimSpace(sourceRef)

	sess := &domain.InventorySession{
		Type:      typ,
		Status:    domain.SessionInProgress,
		Label:     strings.TrimSpace(label),
		StartedBy: actor.OperatorID(ctx),
	}
	switch typ {
	case domain.SessionReception:
		if sourceRef == "" {
			return nil, errors.Validation(map[string]string{"source_ref": "reception sessions need a reception"})
		}
		if _, err := s.receptions.GetByID(ctx, sourceRef); err != nil {
			return nil, err
		}
		sess.ReceptionID = &sourceRef
	case domain.SessionSales:
		if sourceRef == "" {
			return nil, errors.Validation(map[string]string{"source_ref": "sales sessions need a sales session"})
		}
		sess.SalesSessionID = &sourceRef
	}
	if sess.Label == "" {
		sess.Label = fmt.Sprintf("%s count %s", typ, s.clock.now().Format("2006-01-02"))
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession returns a session with its cached aggregates.
func (s *ReconciliationService) GetSession(ctx context.Context, id string) (*domain.InventorySession, error) {
	return s.sessions.GetByID(ctx, id)
}

// Initialize seeds the session's items from its source. A session that
// already has items is left as is, so the call is safe to repeat.
func (s *ReconciliationService) Initialize(ctx context.Context, sessionID string) (int, error) {
	var total int
	err := unitOfWork(ctx, s.tx, s.retry, s.logger, func(ctx context.Context) error {
		sess, err := s.sessions.LockForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := sess.EnsureOpen(); err != nil {
			return err
		}

		existing, err := s.sessions.CountItems(ctx, sessionID)
		if err != nil {
			return err
		}
		if existing > 0 {
			total = existing
			return nil
		}

		items, err := s.buildItems(ctx, sess)
		if err != nil {
			return err
		}
		if _, err := s.sessions.InsertItems(ctx, items, s.batchSize); err != nil {
			return err
		}
		agg, err := s.recompute(ctx, sessionID)
		if err != nil {
			return err
		}
		total = agg.ItemsTotal
		return s.sessions.MarkInitialized(ctx, sessionID, s.clock.now())
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info().Str("session_id", sessionID).Int("items", total).Msg("inventory session initialized")
	return total, nil
}

func (s *ReconciliationService) buildItems(ctx context.Context, sess *domain.InventorySession) ([]domain.InventoryItem, error) {
	switch sess.Type {
	case domain.SessionReception:
		return s.receptionItems(ctx, sess)
	case domain.SessionSales:
		return s.salesItems(ctx, sess)
	default:
		return s.standardItems(ctx, sess)
	}
}

func (s *ReconciliationService) catalog(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	seen := make(map[string]bool, len(productIDs))
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return s.products.GetMany(ctx, ids)
}

func newItem(sessionID string, p domain.Product, lot *domain.Lot, q domain.ItemQuantities) domain.InventoryItem {
	it := domain.InventoryItem{
		SessionID:           sessionID,
		ProductID:           p.ID,
		Barcode:             p.Barcode,
		ProductLabel:        p.Name,
		Unit:                p.Unit,
		TheoreticalLocation: p.DefaultLocation,
		QuantityInitial:     q.Initial,
		QuantityMovement:    q.Movement,
		QuantityTheoretical: q.Theoretical,
		Status:              domain.ItemNotCounted,
	}
	if lot != nil {
		lotID, number := lot.ID, lot.LotNumber
		it.LotID = &lotID
		it.LotNumber = &number
		if lot.Location != nil {
			it.TheoreticalLocation = lot.Location
		}
	}
	return it
}

func (s *ReconciliationService) unresolved(sessionID, productID string) {
	s.logger.Warn().
		Str("session_id", sessionID).
		Str("product_id", productID).
		Msg("product not resolved in catalog, item left out")
}

func (s *ReconciliationService) standardItems(ctx context.Context, sess *domain.InventorySession) ([]domain.InventoryItem, error) {
	lots, err := s.lots.List(ctx, domain.LotFilter{Available: true})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(lots))
	for i := range lots {
		ids[i] = lots[i].ProductID
	}
	products, err := s.catalog(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.InventoryItem, 0, len(lots))
	for i := range lots {
		p, ok := products[lots[i].ProductID]
		if !ok {
			s.unresolved(sess.ID, lots[i].ProductID)
			continue
		}
		items = append(items, newItem(sess.ID, p, &lots[i], domain.StandardQuantities(lots[i].QuantityRemaining)))
	}
	return items, nil
}

// receptionItems isolates the reception's effect on every lot it touched.
// Lines of the same lot are summed.
func (s *ReconciliationService) receptionItems(ctx context.Context, sess *domain.InventorySession) ([]domain.InventoryItem, error) {
	rec, err := s.receptions.GetByID(ctx, sess.SourceRef())
	if err != nil {
		return nil, err
	}

	accepted := make(map[string]int)
	var order []string
	for i := range rec.Lines {
		l := &rec.Lines[i]
		if l.AcceptedQty <= 0 {
			continue
		}
		lotID := ""
		if l.LotID != nil {
			lotID = *l.LotID
		} else if l.LotNumber != nil && *l.LotNumber != "" {
			lot, err := s.lots.FindByNumber(ctx, l.ProductID, *l.LotNumber)
			if err != nil {
				return nil, err
			}
			if lot != nil {
				lotID = lot.ID
			}
		}
		if lotID == "" {
			s.logger.Warn().
				Str("session_id", sess.ID).
				Int("line_index", l.LineIndex).
				Msg("reception line has no lot yet, item left out")
			continue
		}
		if _, ok := accepted[lotID]; !ok {
			order = append(order, lotID)
		}
		accepted[lotID] += l.AcceptedQty
	}

	lots := make([]*domain.Lot, 0, len(order))
	ids := make([]string, 0, len(order))
	for _, lotID := range order {
		lot, err := s.lots.GetByID(ctx, lotID)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
		ids = append(ids, lot.ProductID)
	}
	products, err := s.catalog(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.InventoryItem, 0, len(lots))
	for _, lot := range lots {
		p, ok := products[lot.ProductID]
		if !ok {
			s.unresolved(sess.ID, lot.ProductID)
			continue
		}
		snap, err := s.movements.ReceptionSnapshot(ctx, lot.ID, rec.ID)
		if err != nil {
			return nil, err
		}
		q := domain.ReceptionQuantities(lot.QuantityRemaining, accepted[lot.ID], snap)
		items = append(items, newItem(sess.ID, p, lot, q))
	}
	return items, nil
}

// salesItems isolates a sales session's effect per (product, lot). Sales
// without a lot are compared against the product's whole stock.
func (s *ReconciliationService) salesItems(ctx context.Context, sess *domain.InventorySession) ([]domain.InventoryItem, error) {
	salesSessionID := sess.SourceRef()
	sold, err := s.sales.SoldBySession(ctx, salesSessionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(sold))
	for i := range sold {
		ids[i] = sold[i].ProductID
	}
	products, err := s.catalog(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.InventoryItem, 0, len(sold))
	for _, sq := range sold {
		p, ok := products[sq.ProductID]
		if !ok {
			s.unresolved(sess.ID, sq.ProductID)
			continue
		}

		if sq.LotID == nil {
			lots, err := s.lots.ListAvailableByProduct(ctx, sq.ProductID)
			if err != nil {
				return nil, err
			}
			current := 0
			for i := range lots {
				current += lots[i].QuantityRemaining
			}
			items = append(items, newItem(sess.ID, p, nil, domain.SalesQuantities(current, sq.Quantity, nil)))
			continue
		}

		lot, err := s.lots.GetByID(ctx, *sq.LotID)
		if err != nil {
			return nil, err
		}
		snap, err := s.movements.SalesSnapshot(ctx, lot.ID, salesSessionID)
		if err != nil {
			return nil, err
		}
		items = append(items, newItem(sess.ID, p, lot, domain.SalesQuantities(lot.QuantityRemaining, sq.Quantity, snap)))
	}
	return items, nil
}

// recompute must run inside a unit of work.
func (s *ReconciliationService) recompute(ctx context.Context, sessionID string) (domain.Aggregates, error) {
	agg, err := s.sessions.Aggregates(ctx, sessionID)
	if err != nil {
		return domain.Aggregates{}, err
	}
	return agg, s.sessions.SaveAggregates(ctx, sessionID, agg)
}

// mutateItem locks the open session, changes one item and refreshes the
// session aggregates.
func (s *ReconciliationService) mutateItem(ctx context.Context, sessionID, itemID string, change func(it *domain.InventoryItem) error) (*domain.InventoryItem, error) {
	var item *domain.InventoryItem
	err := unitOfWork(ctx, s.tx, s.retry, s.logger, func(ctx context.Context) error {
		sess, err := s.sessions.LockForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := sess.EnsureOpen(); err != nil {
			return err
		}
		it, err := s.sessions.GetItem(ctx, sessionID, itemID)
		if err != nil {
			return err
		}
		if err := change(it); err != nil {
			return err
		}
		if err := s.sessions.SaveItemCount(ctx, it); err != nil {
			return err
		}
		if _, err := s.recompute(ctx, sessionID); err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RecordCount stores a count. A later count of the same item replaces it.
func (s *ReconciliationService) RecordCount(ctx context.Context, sessionID, itemID string, counted int, location *string) (*domain.InventoryItem, error) {
	if counted < 0 {
		return nil, errors.InvalidCount(itemID, counted)
	}
	operatorID := actor.OperatorID(ctx)
	return s.mutateItem(ctx, sessionID, itemID, func(it *domain.InventoryItem) error {
		return it.RecordCount(counted, location, operatorID, s.clock.now())
	})
}

// ResetCount returns an item to non_compte.
func (s *ReconciliationService) ResetCount(ctx context.Context, sessionID, itemID string) (*domain.InventoryItem, error) {
	return s.mutateItem(ctx, sessionID, itemID, func(it *domain.InventoryItem) error {
		it.Reset()
		return nil
	})
}

// ValidateItem signs off a counted item.
func (s *ReconciliationService) ValidateItem(ctx context.Context, sessionID, itemID string) (*domain.InventoryItem, error) {
	operatorID := actor.OperatorID(ctx)
	return s.mutateItem(ctx, sessionID, itemID, func(it *domain.InventoryItem) error {
		return it.Validate(operatorID, s.clock.now())
	})
}

// Complete closes the session. Discrepancies are not applied to stock.
func (s *ReconciliationService) Complete(ctx context.Context, sessionID string) (*domain.InventorySession, error) {
	operatorID := actor.OperatorID(ctx)
	var sess *domain.InventorySession
	err := unitOfWork(ctx, s.tx, s.retry, s.logger, func(ctx context.Context) error {
		locked, err := s.sessions.LockForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := locked.EnsureOpen(); err != nil {
			return err
		}
		if _, err := s.recompute(ctx, sessionID); err != nil {
			return err
		}
		ok, err := s.sessions.Complete(ctx, sessionID, operatorID, s.clock.now())
		if err != nil {
			return err
		}
		if !ok {
			return errors.SessionClosed(sessionID)
		}
		sess, err = s.sessions.GetByID(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, domain.EntitySession, sessionID, domain.ActionCompleted, map[string]interface{}{
		"items_total":   sess.ItemsTotal,
		"items_counted": sess.ItemsCounted,
		"discrepancies": sess.Discrepancies,
	})
	s.publisher.PublishSessionCompleted(ctx, sess)
	s.logger.Info().
		Str("session_id", sessionID).
		Int("items_counted", sess.ItemsCounted).
		Int("discrepancies", sess.Discrepancies).
		Msg("inventory session completed")
	return sess, nil
}

// ListItems lists a session's items, optionally by status.
func (s *ReconciliationService) ListItems(ctx context.Context, sessionID string, status domain.ItemStatus) ([]domain.InventoryItem, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.ListItems(ctx, sessionID, status)
}

// DiscrepancyReport values every counted difference at the lot's unit cost.
func (s *ReconciliationService) DiscrepancyReport(ctx context.Context, sessionID string) (*domain.DiscrepancyReport, error) {
	items, err := s.ListItems(ctx, sessionID, "")
	if err != nil {
		return nil, err
	}

	costs := make(map[string]decimal.Decimal)
	for i := range items {
		if items[i].LotID == nil {
			continue
		}
		lotID := *items[i].LotID
		if _, done := costs[lotID]; done {
			continue
		}
		lot, err := s.lots.GetByID(ctx, lotID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		costs[lotID] = lot.UnitCost
	}

	report := domain.BuildDiscrepancyReport(sessionID, items, costs)
	names := make(map[string]string)
	for i := range report.Lines {
		line := &report.Lines[i]
		if line.CountedBy == nil || s.operators == nil {
			continue
		}
		id := *line.CountedBy
		name, ok := names[id]
		if !ok {
			op, err := s.operators.Get(ctx, id)
			if err != nil {
				s.logger.Warn().Err(err).Str("operator_id", id).Msg("operator lookup failed")
			} else if op != nil {
				name = op.ToActor().FullName()
			}
			names[id] = name
		}
		line.CountedByName = name
	}
	return &report, nil
}
