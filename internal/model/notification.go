package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type NotificationType string

const (
	NotificationLotDamaged        NotificationType = "lot_damaged"
	NotificationStockExhausted    NotificationType = "stock_exhausted"
	NotificationPurchaseSuggested NotificationType = "purchase_suggested"
)

type Notification struct {
	EventID    string           `json:"event_id"`
	Type       NotificationType `json:"event_type"`
	MerchantID string           `json:"merchant_id"`
	ProductID  string           `json:"product_id"`
	LotID      string           `json:"lot_id,omitempty"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Note       string           `json:"note,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
