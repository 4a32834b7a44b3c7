package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/testutil"
)

const sessionID = "e4d3c2b1-a0f9-4e8d-9c7b-6a5f4e3d2c1b"

// ============================================================================
// Items
// ============================================================================

func TestSessionRepository_InsertItems_Chunks(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewSessionRepository(mockDB.DB)
	ctx := testutil.TestTenantContext()

	items := make([]domain.InventoryItem, 5)
	for i := range items {
		items[i] = domain.InventoryItem{SessionID: sessionID, ProductID: productID, QuantityTheoretical: i}
	}

	mockDB.ExpectTenantTx(tenantID)
	// 2 + 2 + 1 rows, one statement each, all in one transaction
	mockDB.ExpectExec("($16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30) ON CONFLICT DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mockDB.ExpectExec("ON CONFLICT DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) ON CONFLICT DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	n, err := repo.InsertItems(ctx, items, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	for _, it := range items {
		assert.NotEmpty(t, it.ID)
		assert.Equal(t, domain.ItemNotCounted, it.Status)
	}
}

func TestSessionRepository_InsertItems_RollsBackOnFailure(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewSessionRepository(mockDB.DB)

	items := make([]domain.InventoryItem, 3)
	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectExec("INSERT INTO inventory_items").WillReturnResult(sqlmock.NewResult(0, 2))
	mockDB.ExpectExec("INSERT INTO inventory_items").WillReturnError(context.DeadlineExceeded)
	mockDB.ExpectRollback()

	n, err := repo.InsertItems(testutil.TestTenantContext(), items, 2)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestSessionRepository_GetItem_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewSessionRepository(mockDB.DB)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1 AND session_id = $2").
		WithArgs("item-1", sessionID).
		WillReturnRows(testutil.MockRows("id"))
	mockDB.ExpectRollback()

	_, err := repo.GetItem(testutil.TestTenantContext(), sessionID, "item-1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

// ============================================================================
// Aggregates
// ============================================================================

func TestSessionRepository_Aggregates(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewSessionRepository(mockDB.DB)

	mockDB.ExpectTenantQuery(tenantID, "COUNT(*) FILTER (WHERE status <> 'non_compte')",
		testutil.MockRows("items_total", "items_counted", "discrepancies", "progress_percent").AddRow(3, 2, 1, 0)).
		WithArgs(sessionID)

	a, err := repo.Aggregates(testutil.TestTenantContext(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.Aggregates{ItemsTotal: 3, ItemsCounted: 2, Discrepancies: 1, ProgressPercent: 67}, a)
}

func TestSessionRepository_SaveAggregates(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewSessionRepository(mockDB.DB)

	mockDB.ExpectTenantExec(tenantID, "UPDATE inventory_sessions SET", sqlmock.NewResult(0, 1)).
		WithArgs(sessionID, 3, 2, 1, 67)

	err := repo.SaveAggregates(testutil.TestTenantContext(), sessionID,
		domain.Aggregates{ItemsTotal: 3, ItemsCounted: 2, Discrepancies: 1, ProgressPercent: 67})
	require.NoError(t, err)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestSessionRepository_Complete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "in progress session closes", affected: 1, want: true},
		{name: "already completed", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB := testutil.NewMockDB(t)
			repo := repository.NewSessionRepository(mockDB.DB)

			mockDB.ExpectTenantExec(tenantID, "WHERE id = $1 AND status = 'in_progress'", sqlmock.NewResult(0, tt.affected)).
				WithArgs(sessionID, testutil.AnyTime{}, testutil.OperatorID)

			ok, err := repo.Complete(testutil.TestTenantContext(), sessionID, testutil.OperatorID, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSessionRepository_LockForUpdate_RequiresTransaction(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewSessionRepository(mockDB.DB)

	_, err := repo.LockForUpdate(testutil.TestTenantContext(), sessionID)
	assert.Error(t, err)
}
