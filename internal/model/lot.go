package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type LotStatus string

const (
	LotStatusNew      LotStatus = "new"
	LotStatusInUse    LotStatus = "in_use"
	LotStatusFinished LotStatus = "finished"
	LotStatusDamaged  LotStatus = "damaged"
)

func (s LotStatus) IsValid() bool {
	switch s {
	case LotStatusNew, LotStatusInUse, LotStatusFinished, LotStatusDamaged:
		return true
	}
	return false
}

// Lot is one receipt of physical stock for one product.
type Lot struct {
	ID               string          `db:"id" json:"id"`
	MerchantID       string          `db:"merchant_id" json:"merchant_id"`
	ProductID        string          `db:"product_id" json:"product_id"`
	LotNumber        string          `db:"lot_number" json:"lot_number"`
	PurchaseOrderID  *string         `db:"purchase_order_id" json:"purchase_order_id"`
	InitialQuantity  decimal.Decimal `db:"initial_quantity" json:"initial_quantity"`
	CurrentQuantity  decimal.Decimal `db:"current_quantity" json:"current_quantity"`
	ReservedQuantity decimal.Decimal `db:"reserved_quantity" json:"reserved_quantity"`
	UnitCost         decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ManufacturedAt   *time.Time      `db:"manufactured_at" json:"manufactured_at"`
	ExpiresAt        *time.Time      `db:"expires_at" json:"expires_at"`
	Status           LotStatus       `db:"status" json:"status"`
	Seq              int64           `db:"seq" json:"seq"` // receipt order
	Version          int64           `db:"version" json:"version"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// FreeQuantity is what is left to reserve: current - reserved.
func (l *Lot) FreeQuantity() decimal.Decimal {
	return l.CurrentQuantity.Sub(l.ReservedQuantity)
}

func (l *Lot) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// CheckQuantities enforces 0 <= reserved <= current <= initial.
func (l *Lot) CheckQuantities() error {
	if l.ReservedQuantity.IsNegative() {
		return fmt.Errorf("lot %s: reserved quantity %s is negative", l.ID, l.ReservedQuantity)
	}
	if l.ReservedQuantity.GreaterThan(l.CurrentQuantity) {
		return fmt.Errorf("lot %s: reserved quantity %s exceeds current %s", l.ID, l.ReservedQuantity, l.CurrentQuantity)
	}
	if l.CurrentQuantity.GreaterThan(l.InitialQuantity) {
		return fmt.Errorf("lot %s: current quantity %s exceeds initial %s", l.ID, l.CurrentQuantity, l.InitialQuantity)
	}
	return nil
}

type LotQuantity struct {
	LotID    string          `json:"lot_id"`
	Quantity decimal.Decimal `json:"quantity"`
}
