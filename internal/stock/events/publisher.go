package events

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// Publisher is the subset of messaging.Publisher the stock events need.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// StockEventPublisher publishes stock-related events
type StockEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher on the stock.events exchange
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// NewStockEventPublisherWith wraps an existing publisher. Tests pass
// testutil.MockPublisher here.
func NewStockEventPublisherWith(p Publisher, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{publisher: p, logger: log}
}

// PublishMovementRecorded publishes a committed ledger entry
func (p *StockEventPublisher) PublishMovementRecorded(ctx context.Context, m *domain.Movement) {
	if p == nil {
		return
	}
	ref := ""
	if m.ReferenceID != nil {
		ref = *m.ReferenceID
	}

	data := messaging.MovementRecordedEvent{
		MovementID:     m.ID,
		LotID:          m.LotID,
		ProductID:      m.ProductID,
		MovementType:   string(m.Type),
		QuantityBefore: m.QuantityBefore,
		QuantityDelta:  m.QuantityDelta,
		QuantityAfter:  m.QuantityAfter,
		ReferenceType:  string(m.ReferenceType),
		ReferenceID:    ref,
		OperatorID:     m.OperatorID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventMovementRecorded, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", m.LotID).Str("movement_id", m.ID).Msg("failed to publish movement recorded event")
	}
}

// PublishReceptionResolved publishes the outcome of a reception resolution run
func (p *StockEventPublisher) PublishReceptionResolved(ctx context.Context, res *domain.ResolutionResult) {
	if p == nil {
		return
	}
	data := messaging.ReceptionResolvedEvent{
		ReceptionID:      res.ReceptionID,
		LotsCreated:      res.LotsCreated,
		LotsUpdated:      res.LotsUpdated,
		MovementsWritten: res.MovementsWritten,
		LinesProcessed:   res.LinesProcessed,
		LinesTotal:       res.LinesTotal,
		Complete:         res.Complete(),
	}

	if err := p.publisher.Publish(ctx, messaging.EventReceptionResolved, data); err != nil {
		p.logger.Error().Err(err).Str("reception_id", res.ReceptionID).Msg("failed to publish reception resolved event")
	}
}

// PublishSessionCompleted publishes a closed inventory session
func (p *StockEventPublisher) PublishSessionCompleted(ctx context.Context, s *domain.InventorySession) {
	if p == nil {
		return
	}
	completedBy := ""
	if s.CompletedBy != nil {
		completedBy = *s.CompletedBy
	}

	data := messaging.SessionCompletedEvent{
		SessionID:     s.ID,
		SessionType:   string(s.Type),
		ItemsTotal:    s.ItemsTotal,
		ItemsCounted:  s.ItemsCounted,
		Discrepancies: s.Discrepancies,
		CompletedBy:   completedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventSessionCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("session_id", s.ID).Msg("failed to publish session completed event")
	}
}

// PublishAlertGenerated publishes an alert raised by the expiry scanner
func (p *StockEventPublisher) PublishAlertGenerated(ctx context.Context, a *domain.Alert) {
	if p == nil {
		return
	}
	lotID := ""
	if a.LotID != nil {
		lotID = *a.LotID
	}

	data := messaging.AlertGeneratedEvent{
		AlertID:       a.ID,
		AlertType:     string(a.Type),
		Severity:      string(a.Severity),
		Message:       a.Message,
		ProductID:     a.ProductID,
		LotID:         lotID,
		EstimatedLoss: a.EstimatedLoss,
	}

	if err := p.publisher.Publish(ctx, messaging.EventAlertGenerated, data); err != nil {
		p.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to publish alert generated event")
	}
}
