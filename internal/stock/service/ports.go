package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
)

// The services depend on these ports. internal/stock/repository implements
// them on PostgreSQL, internal/stock/memstore in memory.

// TxRunner runs fn as one tenant-scoped unit of work. Repository calls made
// with the ctx passed to fn join it.
type TxRunner interface {
	WithinTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error
	Reconnect(ctx context.Context) error
}

type LotRepository interface {
	Create(ctx context.Context, lot *domain.Lot) error
	GetByID(ctx context.Context, id string) (*domain.Lot, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Lot, error)
	FindByNumber(ctx context.Context, productID, lotNumber string) (*domain.Lot, error)
	UpdateQuantity(ctx context.Context, id string, remaining int) error
	UpdatePricing(ctx context.Context, id string, taxRate, markup, salePrice decimal.NullDecimal) error
	List(ctx context.Context, filter domain.LotFilter) ([]domain.Lot, error)
	ListAvailableByProduct(ctx context.Context, productID string) ([]domain.Lot, error)
	ListExpiring(ctx context.Context, before time.Time) ([]domain.Lot, error)
}

type MovementRepository interface {
	Append(ctx context.Context, m *domain.Movement) error
	LastForLot(ctx context.Context, lotID string) (*domain.Movement, error)
	ListByLot(ctx context.Context, lotID string) ([]domain.Movement, error)
	ReceptionSnapshot(ctx context.Context, lotID, receptionID string) (*domain.LedgerSnapshot, error)
	SalesSnapshot(ctx context.Context, lotID, salesSessionID string) (*domain.LedgerSnapshot, error)
	UnitsSoldByProduct(ctx context.Context, from, to time.Time) (map[string]int, error)
	DailySales(ctx context.Context, productID string, from, to time.Time) ([]domain.DailySales, error)
}

type ReceptionRepository interface {
	Create(ctx context.Context, rec *domain.Reception) error
	GetByID(ctx context.Context, id string) (*domain.Reception, error)
	MarkValidated(ctx context.Context, id string, at time.Time) (bool, error)
	MarkLineApplied(ctx context.Context, lineID, lotID string, at time.Time) (bool, error)
	MarkResolved(ctx context.Context, id string, at time.Time) error
}

// ProductCatalog is the product collaborator as seen from stock.
type ProductCatalog interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error)
	List(ctx context.Context, productID, family string) ([]domain.Product, error)
	UpdateSalePrice(ctx context.Context, id string, price decimal.Decimal) error
}

// SalesSource is the point-of-sale collaborator as seen from stock.
type SalesSource interface {
	SoldBySession(ctx context.Context, salesSessionID string) ([]domain.SoldQuantity, error)
}

type SessionRepository interface {
	Create(ctx context.Context, s *domain.InventorySession) error
	GetByID(ctx context.Context, id string) (*domain.InventorySession, error)
	LockForUpdate(ctx context.Context, id string) (*domain.InventorySession, error)
	CountItems(ctx context.Context, sessionID string) (int, error)
	InsertItems(ctx context.Context, items []domain.InventoryItem, chunkSize int) (int, error)
	GetItem(ctx context.Context, sessionID, itemID string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context, sessionID string, status domain.ItemStatus) ([]domain.InventoryItem, error)
	SaveItemCount(ctx context.Context, it *domain.InventoryItem) error
	Aggregates(ctx context.Context, sessionID string) (domain.Aggregates, error)
	SaveAggregates(ctx context.Context, sessionID string, a domain.Aggregates) error
	MarkInitialized(ctx context.Context, sessionID string, at time.Time) error
	Complete(ctx context.Context, sessionID, operatorID string, at time.Time) (bool, error)
}

type AlertRepository interface {
	CreateIfAbsent(ctx context.Context, a *domain.Alert) (bool, error)
	List(ctx context.Context, filter domain.AlertFilter, page, perPage int) ([]domain.Alert, int64, error)
	Acknowledge(ctx context.Context, id, userID string) error
}

type AuditTrailRepository interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditEntry, error)
}

type OperatorRepository interface {
	Set(ctx context.Context, op *actor.OperatorCache) error
	Get(ctx context.Context, userID string) (*actor.OperatorCache, error)
	Delete(ctx context.Context, userID string) error
}

// TenantLister lists the tenants the scanner walks.
type TenantLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

// EventPublisher is implemented by events.StockEventPublisher. Methods never
// fail the caller; publication errors are logged.
type EventPublisher interface {
	PublishMovementRecorded(ctx context.Context, m *domain.Movement)
	PublishReceptionResolved(ctx context.Context, res *domain.ResolutionResult)
	PublishSessionCompleted(ctx context.Context, s *domain.InventorySession)
	PublishAlertGenerated(ctx context.Context, a *domain.Alert)
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
