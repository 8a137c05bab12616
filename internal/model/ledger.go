package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEntryType string

const (
	LedgerEntryReceipt          LedgerEntryType = "receipt"
	LedgerEntryAllocation       LedgerEntryType = "allocation"
	LedgerEntryRelease          LedgerEntryType = "release"
	LedgerEntryConsumption      LedgerEntryType = "consumption"
	LedgerEntryStatusChange     LedgerEntryType = "status_change"
	LedgerEntryManualAdjustment LedgerEntryType = "manual_adjustment"
)

// LedgerEntry is append-only. QuantityDelta moves reserved_quantity,
// OnHandDelta moves current_quantity.
type LedgerEntry struct {
	ID            string          `db:"id" json:"id"`
	Seq           int64           `db:"seq" json:"seq"`
	MerchantID    string          `db:"merchant_id" json:"merchant_id"`
	LotID         string          `db:"lot_id" json:"lot_id"`
	ProductID     string          `db:"product_id" json:"product_id"`
	EntryType     LedgerEntryType `db:"entry_type" json:"entry_type"`
	QuantityDelta decimal.Decimal `db:"quantity_delta" json:"quantity_delta"`
	OnHandDelta   decimal.Decimal `db:"on_hand_delta" json:"on_hand_delta"`
	StatusFrom    *LotStatus      `db:"status_from" json:"status_from"`
	StatusTo      *LotStatus      `db:"status_to" json:"status_to"`
	ReservationID *string         `db:"reservation_id" json:"reservation_id"`
	Note          string          `db:"note" json:"note"`
	Actor         string          `db:"actor" json:"actor"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// LedgerBalance is the replay of a lot's ledger.
type LedgerBalance struct {
	LotID    string          `json:"lot_id"`
	Reserved decimal.Decimal `json:"reserved"`
	OnHand   decimal.Decimal `json:"on_hand"`
	Entries  int             `json:"entries"`
}

func ReplayLedger(lotID string, entries []LedgerEntry) LedgerBalance {
	balance := LedgerBalance{LotID: lotID, Reserved: decimal.Zero, OnHand: decimal.Zero}
	for _, e := range entries {
		if e.LotID != lotID {
			continue
		}
		balance.Reserved = balance.Reserved.Add(e.QuantityDelta)
		balance.OnHand = balance.OnHand.Add(e.OnHandDelta)
		balance.Entries++
	}
	return balance
}
