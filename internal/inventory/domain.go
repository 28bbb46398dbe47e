package inventory

import (
	"errors"
	"time"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound movement (purchase, receipt).
	MovementIn MovementType = "in"
	// MovementOut represents an outbound movement (sale, dispatch).
	MovementOut MovementType = "out"
	// MovementTransfer tags movements created by stock transfers.
	MovementTransfer MovementType = "transfer"
	// MovementAdjustment indicates manual corrections.
	MovementAdjustment MovementType = "adjustment"
	// MovementReturn indicates customer or supplier returns.
	MovementReturn MovementType = "return"
)

// Stock is the quantity of one product held by one store.
type Stock struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	StoreID   int64     `json:"store_id"`
	Quantity  int64     `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockMovement is the immutable audit record of one stock mutation.
type StockMovement struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	StoreID   int64        `json:"store_id"`
	Quantity  int64        `json:"quantity"`
	Type      MovementType `json:"type"`
	Reference string       `json:"reference"`
	Note      string       `json:"note"`
	CreatedBy int64        `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
}

// StockLevel is a stock row joined with product and store names for listings.
type StockLevel struct {
	Stock
	ProductReference string `json:"product_reference"`
	ProductName      string `json:"product_name"`
	StoreName        string `json:"store_name"`
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	StoreID   int64
	ProductID int64
	Quantity  int64
	Note      string
	ActorID   int64
	RefID     string
}

// StockFilter narrows stock level listings.
type StockFilter struct {
	StoreID   *int64
	ProductID *int64
	Limit     int
	Offset    int
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	StoreID   *int64
	ProductID *int64
	Reference string
	Limit     int
	Offset    int
}

// ErrStockNotFound indicates no stock row exists for the (product, store) pair.
var ErrStockNotFound = errors.New("inventory: stock not found")

// ErrNegativeStock triggered when a mutation would drive quantity negative.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")

// ErrInvalidQuantity indicates a zero quantity delta.
var ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
