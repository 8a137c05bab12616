package dto

import (
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/shopspring/decimal"
)

type LotFilters struct {
	MerchantID string
	ProductID  string
	Status     model.LotStatus
	Page       int
	PageSize   int
}

type LedgerFilters struct {
	MerchantID string
	LotID      string
	ProductID  string
	EntryType  model.LedgerEntryType
	Page       int
	PageSize   int
}

type ReconcileResult struct {
	Lot           *model.Lot          `json:"lot"`
	Balance       model.LedgerBalance `json:"balance"`
	ReservedDrift decimal.Decimal     `json:"reserved_drift"`
	OnHandDrift   decimal.Decimal     `json:"on_hand_drift"`
	Consistent    bool                `json:"consistent"`
}
