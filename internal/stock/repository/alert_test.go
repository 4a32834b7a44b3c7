package repository_test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/testutil"
)

// ============================================================================
// Alerts
// ============================================================================

func TestAlertRepository_CreateIfAbsent(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "new alert", affected: 1, want: true},
		{name: "open alert already exists", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB := testutil.NewMockDB(t)
			repo := repository.NewAlertRepository(mockDB.DB)

			mockDB.ExpectTenantExec(tenantID, "INSERT INTO stock_alerts", sqlmock.NewResult(0, tt.affected))

			lot := lotID
			created, err := repo.CreateIfAbsent(testutil.TestTenantContext(), &domain.Alert{
				Type: domain.AlertExpiryRisk, Severity: domain.RiskHigh, ProductID: productID,
				LotID: &lot, Message: "expires soon", EstimatedLoss: decimal.NewFromInt(12),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, created)
		})
	}
}

func TestAlertRepository_List_FiltersAndPages(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewAlertRepository(mockDB.DB)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("SELECT COUNT(*) FROM stock_alerts WHERE 1=1 AND status = $1 AND severity = $2").
		WithArgs("open", "critical").
		WillReturnRows(testutil.MockRows("count").AddRow(1))
	mockDB.ExpectQuery("LIMIT $3 OFFSET $4").
		WithArgs("open", "critical", 10, 10).
		WillReturnRows(testutil.MockRows("id", "alert_type", "severity").AddRow("a-1", "lot_expired", "critical"))
	mockDB.ExpectCommit()

	alerts, total, err := repo.List(testutil.TestTenantContext(),
		domain.AlertFilter{Status: domain.AlertOpen, Severity: domain.RiskCritical}, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertLotExpired, alerts[0].Type)
}

func TestAlertRepository_Acknowledge_NotOpen(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewAlertRepository(mockDB.DB)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectExec("SET status = 'acknowledged'").WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	err := repo.Acknowledge(testutil.TestTenantContext(), "a-1", testutil.OperatorID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

// ============================================================================
// Operator cache
// ============================================================================

func TestOperatorCacheRepository_SetAndGet(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOperatorCacheRepository(mockDB.DB)
	ctx := testutil.TestTenantContext()

	mockDB.ExpectTenantExec(tenantID, "ON CONFLICT (tenant_id, user_id)", sqlmock.NewResult(0, 1)).
		WithArgs(tenantID, testutil.OperatorID, "Ana", "Lopez", "ana@pharmacy.test", "pharmacist")
	mockDB.ExpectTenantQuery(tenantID, "FROM operator_cache WHERE user_id = $1",
		testutil.MockRows("user_id", "tenant_id", "first_name", "last_name", "email", "role_name").
			AddRow(testutil.OperatorID, tenantID, "Ana", "Lopez", "ana@pharmacy.test", "pharmacist"))

	require.NoError(t, repo.Set(ctx, &actor.OperatorCache{
		UserID: testutil.OperatorID, FirstName: "Ana", LastName: "Lopez",
		Email: "ana@pharmacy.test", RoleName: "pharmacist",
	}))

	op, err := repo.Get(ctx, testutil.OperatorID)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, "Ana Lopez", op.ToActor().FullName())
}

func TestOperatorCacheRepository_Get_Unknown(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOperatorCacheRepository(mockDB.DB)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("FROM operator_cache").WillReturnRows(testutil.MockRows("user_id"))
	mockDB.ExpectRollback()

	op, err := repo.Get(testutil.TestTenantContext(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestTenantRepository_ListActive(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewTenantRepository(mockDB.DB)

	mockDB.ExpectQuery("FROM public.tenants WHERE is_active = TRUE").
		WillReturnRows(testutil.MockRows("id").AddRow(tenantID).AddRow("8c1d2e3f-4a5b-4c6d-9e7f-0a1b2c3d4e5f"))

	ids, err := repo.ListActive(testutil.TestTenantContext())
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
