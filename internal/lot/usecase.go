package lot

import (
	"context"

	"github.com/fekuna/omnipos-lot-service/internal/lot/dto"
	"github.com/fekuna/omnipos-lot-service/internal/model"
)

type UseCase interface {
	ReceiveLot(ctx context.Context, input *dto.ReceiveLotInput) (*model.Lot, error)
	GetLot(ctx context.Context, merchantID, lotID string) (*model.Lot, error)
	ListLots(ctx context.Context, filters *dto.LotFilters) ([]model.Lot, int, error)

	ListAvailable(ctx context.Context, merchantID, productID string) ([]model.AvailableLot, error)
	Allocate(ctx context.Context, req *model.AllocationRequest) (*model.AllocationPlan, error)

	Reserve(ctx context.Context, input *dto.ReserveInput) (*model.Reservation, error)
	ReserveQuantity(ctx context.Context, input *dto.ReserveQuantityInput) (*model.Reservation, *model.AllocationPlan, error)
	Release(ctx context.Context, merchantID, reservationID, actor string) error
	ConsumeReservation(ctx context.Context, merchantID, reservationID, actor string) error
	GetReservation(ctx context.Context, merchantID, reservationID string) (*model.Reservation, error)
	ListReservationsByConsumer(ctx context.Context, merchantID, consumerType, consumerID string) ([]model.Reservation, error)

	ChangeStatus(ctx context.Context, input *dto.ChangeStatusInput) (*model.Lot, error)
	AdjustLot(ctx context.Context, input *dto.AdjustLotInput) (*model.Lot, error)

	ListLedger(ctx context.Context, filters *dto.LedgerFilters) ([]model.LedgerEntry, int, error)
	ReconcileLot(ctx context.Context, merchantID, lotID string) (*dto.ReconcileResult, error)

	SetStockPolicy(ctx context.Context, policy *model.StockPolicy) error
	ListStockPolicies(ctx context.Context, merchantID string) ([]model.StockPolicy, error)
	// ListAllStockPolicies spans every merchant; it backs the replenishment scanner.
	ListAllStockPolicies(ctx context.Context) ([]model.StockPolicy, error)
}

// Notifier is a fire-and-forget outbound channel; it must never block or fail the caller.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}
