package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/memstore"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/cache"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/testutil"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

var fastRetry = database.RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

type harness struct {
	ctx    context.Context
	store  *memstore.Store
	pub    *testutil.MockPublisher
	cache  *cache.InMemoryVersionedCache
	f      *testutil.FixtureFactory
	tenant string

	ledger     *service.LedgerService
	lots       *service.LotService
	receptions *service.ReceptionService
	recon      *service.ReconciliationService
	rotation   *service.RotationService
	risk       *service.RiskService
	scanner    *service.AlertScanner
	audit      *service.AuditService
}

type harnessOption func(*service.ReceptionPolicy)

func oneLotPerReception(p *service.ReceptionPolicy) { p.Lots.OneLotPerReception = true }
func noLotNumberGeneration(p *service.ReceptionPolicy) {
	p.Lots.AutoGenerateLotNumbers = false
}
func chunked(size int) harnessOption {
	return func(p *service.ReceptionPolicy) {
		p.Atomic = false
		p.BatchSize = size
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store := memstore.New()
	store.Now = func() time.Time { return testNow }
	store.AddTenant(testutil.DefaultTenantID)

	log := logger.Nop()
	pub := testutil.NewMockPublisher()
	publisher := events.NewStockEventPublisherWith(pub, log)
	rotationCache := cache.NewInMemoryVersionedCache()

	policy := service.ReceptionPolicy{
		Lots:      domain.LotPolicy{AutoGenerateLotNumbers: true},
		BatchSize: 500,
		Atomic:    true,
	}
	for _, opt := range opts {
		opt(&policy)
	}
	analytics := service.AnalyticsConfig{
		FIFOToleranceDays:    7,
		VariationCoefficient: 0.2,
		LookbackDays:         30,
		CacheTTL:             time.Minute,
	}

	clock := func() time.Time { return testNow }

	audit := service.NewAuditService(store.AuditTrail(), log)
	ledger := service.NewLedgerService(store, store.Lots(), store.Movements(), publisher, rotationCache, fastRetry, log)
	ledger.SetClock(clock)
	receptions := service.NewReceptionService(store.Receptions(), store.Products(), ledger, audit, publisher, policy, log)
	receptions.SetClock(clock)
	recon := service.NewReconciliationService(service.ReconciliationDeps{
		Tx:         store,
		Sessions:   store.Sessions(),
		Lots:       store.Lots(),
		Movements:  store.Movements(),
		Receptions: store.Receptions(),
		Products:   store.Products(),
		Sales:      store.Sales(),
		Operators:  store.Operators(),
		Audit:      audit,
		Publisher:  publisher,
	}, fastRetry, 100, log)
	recon.SetClock(clock)
	rotation := service.NewRotationService(store.Lots(), store.Movements(), store.Products(), rotationCache, analytics, log)
	rotation.SetClock(clock)
	risk := service.NewRiskService(store.Lots(), store.Movements(), analytics, log)
	risk.SetClock(clock)
	scanner := service.NewAlertScanner(store.Lots(), store.Movements(), store.Alerts(), publisher, analytics, 90, log)
	scanner.SetClock(clock)

	f := testutil.NewFixtureFactory()
	f.Today = domain.Today(testNow)

	ctx := actor.WithActor(testutil.TestTenantContext(), &actor.Actor{
		ID:        testutil.OperatorID,
		FirstName: "Camille",
		LastName:  "Durand",
		TenantID:  testutil.DefaultTenantID,
	})

	return &harness{
		ctx:        ctx,
		store:      store,
		pub:        pub,
		cache:      rotationCache,
		f:          f,
		tenant:     testutil.DefaultTenantID,
		ledger:     ledger,
		lots:       service.NewLotService(ledger, store.Lots(), store.Products(), audit, log),
		receptions: receptions,
		recon:      recon,
		rotation:   rotation,
		risk:       risk,
		scanner:    scanner,
		audit:      audit,
	}
}

func (h *harness) product(opts ...func(*domain.Product)) domain.Product {
	return h.store.AddProduct(h.tenant, h.f.Product(opts...))
}

// openedLot seeds a lot whose ledger matches its quantity.
func (h *harness) openedLot(productID string, opts ...func(*domain.Lot)) domain.Lot {
	return h.store.AddOpenedLot(h.tenant, h.f.Lot(productID, opts...))
}

// validatedReception stores and validates a reception built from lines.
func (h *harness) validatedReception(t *testing.T, lines ...domain.ReceptionLine) *domain.Reception {
	t.Helper()
	rec := h.f.Reception(lines...)
	require.NoError(t, h.receptions.Create(h.ctx, rec))
	_, err := h.receptions.Validate(h.ctx, rec.ID)
	require.NoError(t, err)
	return rec
}

// sell writes a sale exit of qty units from lotID dated at.
func (h *harness) sell(t *testing.T, lotID string, qty int, saleRef string, at time.Time) {
	t.Helper()
	h.store.Now = func() time.Time { return at }
	defer func() { h.store.Now = func() time.Time { return testNow } }()
	_, err := h.lots.ConsumeLot(h.ctx, lotID, qty, saleRef)
	require.NoError(t, err)
}

func (h *harness) requireLedgerOK(t *testing.T, lotID string) {
	t.Helper()
	report, err := h.lots.Verify(h.ctx, lotID)
	require.NoError(t, err)
	require.True(t, report.OK(), "ledger violations: %+v", report.Violations)
}
