package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// ReceptionPolicy configures reception resolution.
type ReceptionPolicy struct {
	Lots domain.LotPolicy
	// BatchSize is the number of planned lines applied per transaction.
	BatchSize int
	// Atomic applies the whole reception in one transaction.
	Atomic bool
}

// ReceptionService records deliveries and resolves them into lots.
type ReceptionService struct {
	receptions ReceptionRepository
	products   ProductCatalog
	ledger     *LedgerService
	audit      *AuditService
	publisher  EventPublisher
	policy     ReceptionPolicy
	clock      Clock
	logger     *logger.Logger
}

// NewReceptionService creates a new reception service
func NewReceptionService(
	receptions ReceptionRepository,
	products ProductCatalog,
	ledger *LedgerService,
	audit *AuditService,
	publisher EventPublisher,
	policy ReceptionPolicy,
	log *logger.Logger,
) *ReceptionService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ReceptionService{
		receptions: receptions,
		products:   products,
		ledger:     ledger,
		audit:      audit,
		publisher:  publisher,
		policy:     policy,
		logger:     log.WithComponent("reception"),
	}
}

// Create stores a draft reception with its lines.
func (s *ReceptionService) Create(ctx context.Context, rec *domain.Reception) error {
	if err := validateReception(rec); err != nil {
		return err
	}
	rec.CreatedBy = actor.OperatorID(ctx)
	return s.receptions.Create(ctx, rec)
}

func validateReception(rec *domain.Reception) error {
	details := map[string]string{}
	if strings.TrimSpace(rec.SupplierID) == "" {
		details["supplier_id"] = "required"
	}
	if rec.ReceptionDate.IsZero() {
		details["reception_date"] = "required"
	}
	if len(rec.Lines) == 0 {
		details["lines"] = "at least one line is required"
	}

	seen := make(map[int]bool, len(rec.Lines))
	for i := range rec.Lines {
		l := &rec.Lines[i]
		field := fmt.Sprintf("lines[%d]", i)
		switch {
		case seen[l.LineIndex]:
			details[field+".line_index"] = "duplicate line index"
		case strings.TrimSpace(l.ProductID) == "":
			details[field+".product_id"] = "required"
		case l.OrderedQty < 0 || l.ReceivedQty < 0 || l.AcceptedQty < 0:
			details[field+".quantity"] = "quantities must not be negative"
		case l.AcceptedQty > l.ReceivedQty:
			details[field+".accepted_qty"] = "cannot exceed received quantity"
		case l.UnitCost.IsNegative():
			details[field+".unit_cost"] = "must not be negative"
		}
		seen[l.LineIndex] = true
		if l.LotNumber != nil {
			trimmed := strings.TrimSpace(*l.LotNumber)
			l.LotNumber = &trimmed
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Get returns a reception with its lines.
func (s *ReceptionService) Get(ctx context.Context, id string) (*domain.Reception, error) {
	return s.receptions.GetByID(ctx, id)
}

// Validate moves a draft reception to validated.
func (s *ReceptionService) Validate(ctx context.Context, id string) (*domain.Reception, error) {
	ok, err := s.receptions.MarkValidated(ctx, id, s.clock.now())
	if err != nil {
		return nil, err
	}
	rec, err := s.receptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Conflict("only draft receptions can be validated")
	}
	s.audit.Record(ctx, domain.EntityReception, id, domain.ActionValidated, nil)
	return rec, nil
}

type plannedWork struct {
	line    domain.PlannedLine
	product domain.Product
}

// Resolve turns the pending lines of a validated reception into lot
// mutations. Lines are applied chunk by chunk; a failing chunk rolls back
// alone and stops the run, leaving earlier chunks committed. Applied lines
// are marked, so calling Resolve again picks up where the last run stopped.
func (s *ReceptionService) Resolve(ctx context.Context, id string) (*domain.ResolutionResult, error) {
	rec, err := s.receptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.ReceptionValidated {
		return nil, errors.Conflict("reception must be validated before it is resolved")
	}

	result := &domain.ResolutionResult{
		ReceptionID: rec.ID,
		LinesTotal:  len(rec.Lines),
		Errors:      []domain.LineError{},
	}
	for i := range rec.Lines {
		switch {
		case rec.Lines[i].AcceptedQty <= 0:
			result.LinesSkipped++
		case rec.Lines[i].Applied():
			result.LinesProcessed++
		}
	}

	// Every check that can reject the reception runs before the first write.
	plan, err := domain.PlanReception(rec, s.policy.Lots)
	if err != nil {
		return nil, err
	}
	work, err := s.resolveProducts(ctx, plan, result)
	if err != nil {
		return nil, err
	}

	size := s.policy.BatchSize
	if s.policy.Atomic || size <= 0 || size > len(work) {
		size = len(work)
	}
	for start := 0; start < len(work); start += size {
		end := start + size
		if end > len(work) {
			end = len(work)
		}
		if err := s.applyChunk(ctx, rec, work[start:end], result); err != nil {
			break
		}
	}

	result.Resumable = result.LinesProcessed+result.LinesSkipped+result.LinesBlocked < result.LinesTotal
	log := s.logger.Info()
	if !result.Complete() {
		log = s.logger.Warn()
	}
	log.Str("reception_id", rec.ID).
		Int("lines_processed", result.LinesProcessed).
		Int("lines_skipped", result.LinesSkipped).
		Int("lines_blocked", result.LinesBlocked).
		Int("lines_total", result.LinesTotal).
		Int("lots_created", result.LotsCreated).
		Int("lots_updated", result.LotsUpdated).
		Int("errors", len(result.Errors)).
		Msg("reception resolution finished")

	if result.Complete() && rec.ResolvedAt == nil {
		if err := s.receptions.MarkResolved(ctx, rec.ID, s.clock.now()); err != nil {
			return result, err
		}
		s.audit.Record(ctx, domain.EntityReception, rec.ID, domain.ActionResolved, map[string]interface{}{
			"lots_created":      result.LotsCreated,
			"lots_updated":      result.LotsUpdated,
			"movements_written": result.MovementsWritten,
			"lines_total":       result.LinesTotal,
		})
		s.publisher.PublishReceptionResolved(ctx, result)
	}
	return result, nil
}

// resolveProducts drops planned lines whose product the catalog does not
// know and reports them as line errors.
func (s *ReceptionService) resolveProducts(ctx context.Context, plan []domain.PlannedLine, result *domain.ResolutionResult) ([]plannedWork, error) {
	ids := make([]string, 0, len(plan))
	seen := make(map[string]bool, len(plan))
	for _, p := range plan {
		if !seen[p.ProductID] {
			seen[p.ProductID] = true
			ids = append(ids, p.ProductID)
		}
	}
	products, err := s.products.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	work := make([]plannedWork, 0, len(plan))
	for _, p := range plan {
		product, ok := products[p.ProductID]
		if !ok {
			result.LinesBlocked += len(p.LineIndexes)
			for _, idx := range p.LineIndexes {
				appErr := errors.ProductNotResolved(idx, p.ProductID)
				result.Errors = append(result.Errors, domain.LineError{
					LineIndex: idx,
					ProductID: p.ProductID,
					LotNumber: p.LotNumber,
					Code:      appErr.Code,
					Message:   appErr.Message,
				})
			}
			continue
		}
		work = append(work, plannedWork{line: p, product: product})
	}
	return work, nil
}

type chunkOutcome struct {
	created, updated int
	lines            int
	movements        []*domain.Movement
}

func (s *ReceptionService) applyChunk(ctx context.Context, rec *domain.Reception, chunk []plannedWork, result *domain.ResolutionResult) error {
	var out chunkOutcome
	var failing *domain.PlannedLine

	err := unitOfWork(ctx, s.ledger.tx, s.ledger.retry, s.logger, func(ctx context.Context) error {
		out = chunkOutcome{}
		for i := range chunk {
			failing = &chunk[i].line
			created, m, err := s.applyLine(ctx, rec, &chunk[i])
			if err != nil {
				return err
			}
			if created {
				out.created++
			} else {
				out.updated++
			}
			out.lines += len(chunk[i].line.LineIndexes)
			out.movements = append(out.movements, m)
		}
		return nil
	})
	if err != nil {
		code, message := "INTERNAL_ERROR", err.Error()
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			code, message = appErr.Code, appErr.Message
		}
		le := domain.LineError{Code: code, Message: message}
		if failing != nil {
			le.LineIndex = failing.FirstLine()
			le.ProductID = failing.ProductID
			le.LotNumber = failing.LotNumber
		}
		result.Errors = append(result.Errors, le)
		s.logger.Error().Err(err).
			Str("reception_id", rec.ID).
			Int("line_index", le.LineIndex).
			Int("chunk_lines", len(chunk)).
			Msg("reception chunk rolled back")
		return err
	}

	result.LotsCreated += out.created
	result.LotsUpdated += out.updated
	result.MovementsWritten += len(out.movements)
	result.LinesProcessed += out.lines
	s.ledger.committed(ctx, out.movements...)
	return nil
}

// applyLine must run inside a unit of work.
func (s *ReceptionService) applyLine(ctx context.Context, rec *domain.Reception, w *plannedWork) (bool, *domain.Movement, error) {
	p := &w.line
	ref := domain.Reference{Type: domain.ReferenceReception, ID: rec.ID, Reason: "reception"}

	var existing *domain.Lot
	if !s.policy.Lots.OneLotPerReception {
		var err error
		existing, err = s.ledger.lots.FindByNumber(ctx, p.ProductID, p.LotNumber)
		if err != nil {
			return false, nil, err
		}
	}

	var lotID string
	var m *domain.Movement
	created := existing == nil
	if existing != nil {
		var err error
		lotID = existing.ID
		m, err = s.ledger.apply(ctx, lotID, domain.MovementEntry, p.Quantity, ref)
		if err != nil {
			return false, nil, err
		}
	} else {
		receptionID, supplierID := rec.ID, rec.SupplierID
		lot, entry, err := s.ledger.open(ctx, domain.NewLot{
			ProductID:      p.ProductID,
			LotNumber:      p.LotNumber,
			Quantity:       p.Quantity,
			ExpirationDate: p.ExpirationDate,
			ReceptionDate:  rec.ReceptionDate,
			SupplierID:     &supplierID,
			ReceptionID:    &receptionID,
			UnitCost:       p.UnitCost,
			TaxRate:        p.TaxRate,
			Markup:         p.Markup,
			SalePrice:      p.SalePrice,
			Location:       w.product.DefaultLocation,
		}, ref)
		if err != nil {
			return false, nil, err
		}
		lotID, m = lot.ID, entry
	}

	if p.HasPricing() {
		if !created {
			if err := s.ledger.lots.UpdatePricing(ctx, lotID, p.TaxRate, p.Markup, p.SalePrice); err != nil {
				return false, nil, err
			}
		}
		if err := s.products.UpdateSalePrice(ctx, p.ProductID, p.SalePrice.Decimal); err != nil {
			return false, nil, err
		}
	}

	now := s.clock.now()
	for _, lineID := range p.LineIDs {
		ok, err := s.receptions.MarkLineApplied(ctx, lineID, lotID, now)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, nil, errors.Conflict("reception line was applied concurrently")
		}
	}
	return created, m, nil
}
