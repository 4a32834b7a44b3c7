//go:build integration

package service_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/cache"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()
	s, err := testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatal(err)
	}
	suite = s
	code := m.Run()
	suite.Cleanup(ctx)
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

type pgServices struct {
	ctx        context.Context
	tenant     *testutil.TestTenant
	lots       *service.LotService
	receptions *service.ReceptionService
	lotRepo    *repository.LotRepository
	pub        *testutil.MockPublisher
}

func newPGServices(t *testing.T, name string) *pgServices {
	t.Helper()
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, name)

	db := suite.DB
	log := suite.Logger
	pub := testutil.NewMockPublisher()
	publisher := events.NewStockEventPublisherWith(pub, log)

	tx := repository.NewTxRunner(db)
	lotRepo := repository.NewLotRepository(db)
	movements := repository.NewMovementRepository(db)
	products := repository.NewProductRepository(db)
	audit := service.NewAuditService(repository.NewAuditTrailRepository(db), log)

	ledger := service.NewLedgerService(tx, lotRepo, movements, publisher, cache.NewInMemoryVersionedCache(), database.DefaultRetryPolicy(), log)
	receptions := service.NewReceptionService(repository.NewReceptionRepository(db), products, ledger, audit, publisher, service.ReceptionPolicy{
		Lots:      domain.LotPolicy{AutoGenerateLotNumbers: true},
		BatchSize: 500,
		Atomic:    true,
	}, log)

	return &pgServices{
		ctx:        suite.TenantContext(tn),
		tenant:     tn,
		lots:       service.NewLotService(ledger, lotRepo, products, audit, log),
		receptions: receptions,
		lotRepo:    lotRepo,
		pub:        pub,
	}
}

func (p *pgServices) product(t *testing.T) domain.Product {
	t.Helper()
	return suite.SeedProduct(t, p.ctx, p.tenant, suite.Fixtures.Product())
}

func (p *pgServices) manualLot(t *testing.T, productID string, qty int) *domain.Lot {
	t.Helper()
	lot, err := p.lots.CreateManualLot(p.ctx, domain.NewLot{
		ProductID:     productID,
		LotNumber:     fmt.Sprintf("PG-%d", qty),
		Quantity:      qty,
		ReceptionDate: suite.Fixtures.Today,
	})
	require.NoError(t, err)
	return lot
}

// ============================================================================
// Ledger against PostgreSQL
// ============================================================================

func TestPG_ConcurrentConsumptionSerializes(t *testing.T) {
	p := newPGServices(t, "concurrency")
	prod := p.product(t)
	lot := p.manualLot(t, prod.ID, 100)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.lots.ConsumeLot(p.ctx, lot.ID, 5, fmt.Sprintf("sale-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := p.lots.Get(p.ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.QuantityRemaining)

	report, err := p.lots.Verify(p.ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, report.OK(), "violations: %+v", report.Violations)
	assert.Equal(t, 21, report.MovementCount)

	_, err = p.lots.ConsumeLot(p.ctx, lot.ID, 1, "sale-late")
	assert.True(t, errors.Is(err, errors.ErrNegativeQuantity), "got %v", err)
}

func TestPG_CheckConstraintMapsToNegativeQuantity(t *testing.T) {
	p := newPGServices(t, "constraint")
	prod := p.product(t)
	lot := p.manualLot(t, prod.ID, 3)

	err := p.lotRepo.UpdateQuantity(p.ctx, lot.ID, -1)
	assert.True(t, errors.Is(err, errors.ErrNegativeQuantity), "got %v", err)
}

func TestPG_TenantIsolation(t *testing.T) {
	a := newPGServices(t, "tenant a")
	b := newPGServices(t, "tenant b")
	prod := a.product(t)
	lot := a.manualLot(t, prod.ID, 10)

	_, err := b.lots.Get(b.ctx, lot.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

	lots, err := b.lots.List(b.ctx, domain.LotFilter{})
	require.NoError(t, err)
	assert.Empty(t, lots)
}

// ============================================================================
// Reception resolution against PostgreSQL
// ============================================================================

func TestPG_ReceptionResolveIsResumable(t *testing.T) {
	p := newPGServices(t, "reception")
	prod := p.product(t)

	f := suite.Fixtures
	rec := f.Reception(f.ReceptionLine(prod.ID, "R1", 30), f.ReceptionLine(prod.ID, "R1", 20))
	require.NoError(t, p.receptions.Create(p.ctx, rec))
	_, err := p.receptions.Validate(p.ctx, rec.ID)
	require.NoError(t, err)

	result, err := p.receptions.Resolve(p.ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, result.Complete())
	assert.Equal(t, 1, result.LotsCreated)

	again, err := p.receptions.Resolve(p.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.LotsCreated)
	assert.Equal(t, 0, again.MovementsWritten)

	lot, err := p.lots.FindLot(p.ctx, prod.ID, "R1")
	require.NoError(t, err)
	assert.Equal(t, 50, lot.QuantityRemaining)
}
