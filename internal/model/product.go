package model

import "github.com/shopspring/decimal"

// Product is the slice of the catalog row this service reads.
type Product struct {
	ID         string `db:"id" json:"id"`
	MerchantID string `db:"merchant_id" json:"merchant_id"`
	SKU        string `db:"sku" json:"sku"`
	Name       string `db:"name" json:"name"`
	IsActive   bool   `db:"is_active" json:"is_active"`
}

type StockPolicy struct {
	MerchantID      string          `db:"merchant_id" json:"merchant_id"`
	ProductID       string          `db:"product_id" json:"product_id"`
	ReorderPoint    decimal.Decimal `db:"reorder_point" json:"reorder_point"`
	ReorderQuantity decimal.Decimal `db:"reorder_quantity" json:"reorder_quantity"`
}
