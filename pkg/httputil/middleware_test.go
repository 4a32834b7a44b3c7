package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

const testTenant = "7b0c2a8e-3f4d-4c1e-9a55-0d7e6f1a2b3c"

func TestTenantMiddleware(t *testing.T) {
	var gotID, gotSchema string
	h := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = tenant.TenantID(r.Context())
		gotSchema, _ = tenant.TenantSchema(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("health is exempt", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing tenant is forbidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock/lots", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed tenant is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/lots", nil)
		req.Header.Set("X-Tenant-ID", "not-a-uuid")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("schema is optional", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/lots", nil)
		req.Header.Set("X-Tenant-ID", testTenant)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, testTenant, gotID)
		assert.Equal(t, tenant.DefaultSchema, gotSchema)
	})

	t.Run("unsafe schema is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/lots", nil)
		req.Header.Set("X-Tenant-ID", testTenant)
		req.Header.Set("X-Tenant-Schema", "stock; DROP TABLE lots")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestOperatorMiddlewareAndRequirePermission(t *testing.T) {
	var got *actor.Actor
	h := OperatorMiddleware(RequirePermission("stock.adjust")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = actor.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	t.Run("no operator", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lots/1/adjust", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("insufficient permission", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/lots/1/adjust", nil)
		req.Header.Set("X-User-ID", "u-1")
		req.Header.Set("X-User-Permissions", `["stock.read"]`)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed permissions header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/lots/1/adjust", nil)
		req.Header.Set("X-User-ID", "u-1")
		req.Header.Set("X-User-Permissions", `stock.read`)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wildcard grants access", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/lots/1/adjust", nil)
		req.Header.Set("X-User-ID", "u-1")
		req.Header.Set("X-User-Email", "pharmacist@example.com")
		req.Header.Set("X-User-Permissions", `["stock.*"]`)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, "u-1", got.ID)
		assert.Equal(t, "pharmacist@example.com", got.Email)
	})
}

func TestMultiStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	MultiStatus(rec, map[string]int{"lines_processed": 2}, errors.MissingLotNumber(3, "p-1"))

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	var body struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
		Error   *ErrorBody     `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, 2, body.Data["lines_processed"])
	require.NotNil(t, body.Error)
	assert.Equal(t, "MISSING_LOT_NUMBER", body.Error.Code)
}

func TestValidate(t *testing.T) {
	type req struct {
		Quantity int    `json:"quantity" validate:"gt=0"`
		Reason   string `json:"reason" validate:"required"`
	}

	err := Validate(req{})
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must be greater than 0", appErr.Details["Quantity"])
	assert.Equal(t, "this field is required", appErr.Details["Reason"])

	assert.NoError(t, Validate(req{Quantity: 1, Reason: "breakage"}))
}
