package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AllocationRequest struct {
	MerchantID      string
	ProductID       string
	Quantity        decimal.Decimal
	ExcludeStatuses []LotStatus
}

// AvailableLot is one row of the availability listing.
type AvailableLot struct {
	Lot          Lot             `json:"lot"`
	FreeQuantity decimal.Decimal `json:"free_quantity"`
}

type AllocationLine struct {
	LotID     string          `json:"lot_id"`
	LotNumber string          `json:"lot_number"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	ExpiresAt *time.Time      `json:"expires_at"`
	// LotVersion is the lot version the line was planned against.
	LotVersion int64 `json:"lot_version"`
}

// AllocationPlan is advisory: it is computed from a snapshot that can go stale.
type AllocationPlan struct {
	MerchantID     string           `json:"merchant_id"`
	ProductID      string           `json:"product_id"`
	Requested      decimal.Decimal  `json:"requested"`
	Lines          []AllocationLine `json:"lines"`
	TotalAllocated decimal.Decimal  `json:"total_allocated"`
	CanFulfill     bool             `json:"can_fulfill"`
}

func (p *AllocationPlan) Shortfall() decimal.Decimal {
	return p.Requested.Sub(p.TotalAllocated)
}
