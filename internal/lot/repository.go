package lot

import (
	"context"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot/dto"
	"github.com/fekuna/omnipos-lot-service/internal/model"
)

type Repository interface {
	// Catalog
	ProductExists(ctx context.Context, merchantID, productID string) (bool, error)

	// Lots
	CreateLot(ctx context.Context, lot *model.Lot, receipt *model.LedgerEntry) error
	GetLot(ctx context.Context, id string) (*model.Lot, error)
	ListLotsByProduct(ctx context.Context, merchantID, productID string) ([]model.Lot, error)
	FindLots(ctx context.Context, filters *dto.LotFilters) ([]model.Lot, int, error)

	// Reservations
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	ListReservationsByConsumer(ctx context.Context, merchantID, consumerType, consumerID string) ([]model.Reservation, error)

	// Ledger / Audit
	ListLedger(ctx context.Context, filters *dto.LedgerFilters) ([]model.LedgerEntry, int, error)
	ListLedgerByLot(ctx context.Context, lotID string) ([]model.LedgerEntry, error)

	// Replenishment
	// ListStockPolicies returns one merchant's policies, or every merchant's
	// when merchantID is empty.
	ListStockPolicies(ctx context.Context, merchantID string) ([]model.StockPolicy, error)
	UpsertStockPolicy(ctx context.Context, policy *model.StockPolicy) error

	// Transaction support. fn runs as one atomic unit: every row locked
	// through tx stays locked until fn returns, and nothing is written
	// unless fn returns nil.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	// LockLots locks the given lots for update. Missing ids are absent from the map.
	LockLots(ctx context.Context, ids []string) (map[string]*model.Lot, error)
	// LockReservation returns nil when the reservation does not exist.
	LockReservation(ctx context.Context, id string) (*model.Reservation, error)
	SaveLot(ctx context.Context, lot *model.Lot) error
	CreateReservation(ctx context.Context, reservation *model.Reservation) error
	UpdateReservationStatus(ctx context.Context, id string, status model.ReservationStatus, at time.Time) error
	AppendLedger(ctx context.Context, entries ...model.LedgerEntry) error
}
