package dto

import (
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/shopspring/decimal"
)

type ReceiveLotInput struct {
	MerchantID      string `validate:"required"`
	ProductID       string `validate:"required"`
	LotNumber       string `validate:"required,max=64"`
	PurchaseOrderID *string
	Quantity        decimal.Decimal
	UnitCost        decimal.Decimal
	ManufacturedAt  *time.Time
	ExpiresAt       *time.Time
	UserID          string
}

type ReserveInput struct {
	Plan         *model.AllocationPlan `validate:"required"`
	ConsumerType string                `validate:"required,max=50"`
	ConsumerID   string                `validate:"required"`
	Actor        string                `validate:"required"`
}

type ReserveQuantityInput struct {
	MerchantID      string `validate:"required"`
	ProductID       string `validate:"required"`
	Quantity        decimal.Decimal
	ExcludeStatuses []model.LotStatus
	RequireFull     bool
	ConsumerType    string `validate:"required,max=50"`
	ConsumerID      string `validate:"required"`
	Actor           string `validate:"required"`
}

type ChangeStatusInput struct {
	MerchantID string          `validate:"required"`
	LotID      string          `validate:"required"`
	Status     model.LotStatus `validate:"required,oneof=new in_use finished damaged"`
	Reason     string
	Override   bool
	Actor      string `validate:"required"`
}

type AdjustLotInput struct {
	MerchantID     string `validate:"required"`
	LotID          string `validate:"required"`
	QuantityChange decimal.Decimal
	Reason         string `validate:"required"`
	Actor          string `validate:"required"`
}
