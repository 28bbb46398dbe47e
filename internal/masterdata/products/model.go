package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents an inventory item.
type Product struct {
	ID            int64           `json:"id"`
	Reference     string          `json:"reference"`
	Name          string          `json:"name"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
