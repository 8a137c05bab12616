package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusReleased ReservationStatus = "released"
	ReservationStatusConsumed ReservationStatus = "consumed"
)

type Reservation struct {
	ID            string            `db:"id" json:"id"`
	MerchantID    string            `db:"merchant_id" json:"merchant_id"`
	ProductID     string            `db:"product_id" json:"product_id"`
	ConsumerType  string            `db:"consumer_type" json:"consumer_type"`
	ConsumerID    string            `db:"consumer_id" json:"consumer_id"`
	Status        ReservationStatus `db:"status" json:"status"`
	TotalQuantity decimal.Decimal   `db:"total_quantity" json:"total_quantity"`
	CreatedBy     string            `db:"created_by" json:"created_by"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
	Lines         []ReservationLine `db:"-" json:"lines"`
}

type ReservationLine struct {
	ReservationID string          `db:"reservation_id" json:"reservation_id"`
	LotID         string          `db:"lot_id" json:"lot_id"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
}

func (r *Reservation) LotIDs() []string {
	ids := make([]string, 0, len(r.Lines))
	for _, line := range r.Lines {
		ids = append(ids, line.LotID)
	}
	return ids
}
