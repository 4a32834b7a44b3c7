package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		perms    []string
		required string
		want     bool
	}{
		{"empty requirement", nil, "", true},
		{"exact match", []string{StockRead}, StockRead, true},
		{"full access", []string{"*"}, StockAdjust, true},
		{"resource wildcard", []string{"stock.*"}, StockInventoryValidate, true},
		{"nested wildcard", []string{"stock.inventory.*"}, StockInventoryCount, true},
		{"nested wildcard does not leak", []string{"stock.inventory.*"}, StockAdjust, false},
		{"prefix is not a wildcard", []string{"stock"}, StockRead, false},
		{"missing", []string{StockRead}, StockAlertsManage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.perms, tt.required))
		})
	}
}

func TestHasAnyAndAllPermissions(t *testing.T) {
	perms := []string{StockRead, StockInventoryCount}

	assert.True(t, HasAnyPermission(perms, []string{StockAdjust, StockRead}))
	assert.False(t, HasAnyPermission(perms, []string{StockAdjust}))
	assert.True(t, HasAllPermissions(perms, []string{StockRead, StockInventoryCount}))
	assert.False(t, HasAllPermissions(perms, []string{StockRead, StockInventoryValidate}))
}

func TestExpandWildcard(t *testing.T) {
	got := ExpandWildcard("stock.inventory.*", CommonPermissions)
	assert.ElementsMatch(t, []string{StockInventoryCount, StockInventoryValidate, "stock.inventory.*"}, got)
	assert.Nil(t, ExpandWildcard("stock.unknown", CommonPermissions))
}

func TestMergeAndRemovePermissions(t *testing.T) {
	merged := MergePermissions([]string{StockRead, StockAdjust}, []string{StockAdjust, StockAlertsManage})
	assert.Equal(t, []string{StockRead, StockAdjust, StockAlertsManage}, merged)

	assert.Equal(t, []string{StockRead, StockAlertsManage}, RemovePermissions(merged, []string{StockAdjust}))
}

func TestIsValidPermission(t *testing.T) {
	assert.True(t, IsValidPermission("*"))
	assert.True(t, IsValidPermission(StockReceptionsWrite))
	assert.True(t, IsValidPermission("custom.action"))
	assert.False(t, IsValidPermission("nodot"))
}
