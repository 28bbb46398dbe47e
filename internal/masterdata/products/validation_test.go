package products

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	svc := &Service{}

	require.Error(t, svc.validate(Product{Name: "Clavier"}))
	require.Error(t, svc.validate(Product{Reference: "KB-100"}))
	require.Error(t, svc.validate(Product{Reference: " ", Name: "Clavier"}))
	require.Error(t, svc.validate(Product{
		Reference:     "KB-100",
		Name:          "Clavier",
		PurchasePrice: decimal.RequireFromString("-1"),
	}))

	require.NoError(t, svc.validate(Product{
		Reference:     "KB-100",
		Name:          "Clavier",
		PurchasePrice: decimal.RequireFromString("45.90"),
		SalePrice:     decimal.RequireFromString("79.90"),
	}))
}
