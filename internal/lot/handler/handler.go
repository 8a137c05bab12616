package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/auth"
	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/lot/dto"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
)

type LotHandler struct {
	uc     lot.UseCase
	logger logger.ZapLogger
}

var _ LotServiceServer = (*LotHandler)(nil)

func NewLotHandler(uc lot.UseCase, log logger.ZapLogger) *LotHandler {
	return &LotHandler{
		uc:     uc,
		logger: log,
	}
}

type receiveLotRequest struct {
	ProductID       string          `json:"product_id"`
	LotNumber       string          `json:"lot_number"`
	PurchaseOrderID *string         `json:"purchase_order_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ManufacturedAt  *time.Time      `json:"manufactured_at"`
	ExpiresAt       *time.Time      `json:"expires_at"`
}

type idRequest struct {
	LotID         string `json:"lot_id"`
	ReservationID string `json:"reservation_id"`
}

type listLotsRequest struct {
	ProductID string          `json:"product_id"`
	Status    model.LotStatus `json:"status"`
	Page      int             `json:"page"`
	PageSize  int             `json:"page_size"`
}

type allocateRequest struct {
	ProductID       string            `json:"product_id"`
	Quantity        decimal.Decimal   `json:"quantity"`
	ExcludeStatuses []model.LotStatus `json:"exclude_statuses"`
}

type reserveRequest struct {
	Plan         *model.AllocationPlan `json:"plan"`
	ConsumerType string                `json:"consumer_type"`
	ConsumerID   string                `json:"consumer_id"`
}

type reserveQuantityRequest struct {
	allocateRequest
	RequireFull  bool   `json:"require_full"`
	ConsumerType string `json:"consumer_type"`
	ConsumerID   string `json:"consumer_id"`
}

type consumerRequest struct {
	ConsumerType string `json:"consumer_type"`
	ConsumerID   string `json:"consumer_id"`
}

type changeStatusRequest struct {
	LotID    string          `json:"lot_id"`
	Status   model.LotStatus `json:"status"`
	Reason   string          `json:"reason"`
	Override bool            `json:"override"`
}

type adjustLotRequest struct {
	LotID          string          `json:"lot_id"`
	QuantityChange decimal.Decimal `json:"quantity_change"`
	Reason         string          `json:"reason"`
}

type listLedgerRequest struct {
	LotID     string                `json:"lot_id"`
	ProductID string                `json:"product_id"`
	EntryType model.LedgerEntryType `json:"entry_type"`
	Page      int                   `json:"page"`
	PageSize  int                   `json:"page_size"`
}

type stockPolicyRequest struct {
	ProductID       string          `json:"product_id"`
	ReorderPoint    decimal.Decimal `json:"reorder_point"`
	ReorderQuantity decimal.Decimal `json:"reorder_quantity"`
}

type listResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

func (h *LotHandler) ReceiveLot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req receiveLotRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	l, err := h.uc.ReceiveLot(ctx, &dto.ReceiveLotInput{
		MerchantID:      auth.GetMerchantID(ctx),
		ProductID:       req.ProductID,
		LotNumber:       req.LotNumber,
		PurchaseOrderID: req.PurchaseOrderID,
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
		ManufacturedAt:  req.ManufacturedAt,
		ExpiresAt:       req.ExpiresAt,
		UserID:          auth.GetUserID(ctx),
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(l)
}

func (h *LotHandler) GetLot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	l, err := h.uc.GetLot(ctx, auth.GetMerchantID(ctx), req.LotID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(l)
}

func (h *LotHandler) ListLots(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listLotsRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	page, pageSize := paging(req.Page, req.PageSize)
	items, total, err := h.uc.ListLots(ctx, &dto.LotFilters{
		MerchantID: auth.GetMerchantID(ctx),
		ProductID:  req.ProductID,
		Status:     req.Status,
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(listResponse{Items: items, Total: total})
}

func (h *LotHandler) ListAvailable(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req allocateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	items, err := h.uc.ListAvailable(ctx, auth.GetMerchantID(ctx), req.ProductID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(listResponse{Items: items, Total: len(items)})
}

func (h *LotHandler) Allocate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req allocateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	plan, err := h.uc.Allocate(ctx, &model.AllocationRequest{
		MerchantID:      auth.GetMerchantID(ctx),
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		ExcludeStatuses: req.ExcludeStatuses,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(plan)
}

func (h *LotHandler) Reserve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req reserveRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.Plan != nil {
		// plans are only ever committed for the calling merchant
		req.Plan.MerchantID = auth.GetMerchantID(ctx)
	}

	res, err := h.uc.Reserve(ctx, &dto.ReserveInput{
		Plan:         req.Plan,
		ConsumerType: req.ConsumerType,
		ConsumerID:   req.ConsumerID,
		Actor:        auth.GetUserID(ctx),
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(res)
}

func (h *LotHandler) ReserveQuantity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req reserveQuantityRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	res, plan, err := h.uc.ReserveQuantity(ctx, &dto.ReserveQuantityInput{
		MerchantID:      auth.GetMerchantID(ctx),
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		ExcludeStatuses: req.ExcludeStatuses,
		RequireFull:     req.RequireFull,
		ConsumerType:    req.ConsumerType,
		ConsumerID:      req.ConsumerID,
		Actor:           auth.GetUserID(ctx),
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(map[string]interface{}{
		"reservation": res,
		"plan":        plan,
	})
}

func (h *LotHandler) Release(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	if err := h.uc.Release(ctx, auth.GetMerchantID(ctx), req.ReservationID, auth.GetUserID(ctx)); err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(map[string]string{
		"reservation_id": req.ReservationID,
		"status":         string(model.ReservationStatusReleased),
	})
}

func (h *LotHandler) ConsumeReservation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	if err := h.uc.ConsumeReservation(ctx, auth.GetMerchantID(ctx), req.ReservationID, auth.GetUserID(ctx)); err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(map[string]string{
		"reservation_id": req.ReservationID,
		"status":         string(model.ReservationStatusConsumed),
	})
}

func (h *LotHandler) GetReservation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	res, err := h.uc.GetReservation(ctx, auth.GetMerchantID(ctx), req.ReservationID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(res)
}

func (h *LotHandler) ListReservationsByConsumer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req consumerRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	items, err := h.uc.ListReservationsByConsumer(ctx, auth.GetMerchantID(ctx), req.ConsumerType, req.ConsumerID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(listResponse{Items: items, Total: len(items)})
}

func (h *LotHandler) ChangeStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req changeStatusRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	l, err := h.uc.ChangeStatus(ctx, &dto.ChangeStatusInput{
		MerchantID: auth.GetMerchantID(ctx),
		LotID:      req.LotID,
		Status:     req.Status,
		Reason:     req.Reason,
		Override:   req.Override,
		Actor:      auth.GetUserID(ctx),
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(l)
}

func (h *LotHandler) AdjustLot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req adjustLotRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	l, err := h.uc.AdjustLot(ctx, &dto.AdjustLotInput{
		MerchantID:     auth.GetMerchantID(ctx),
		LotID:          req.LotID,
		QuantityChange: req.QuantityChange,
		Reason:         req.Reason,
		Actor:          auth.GetUserID(ctx),
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(l)
}

func (h *LotHandler) ListLedger(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listLedgerRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	page, pageSize := paging(req.Page, req.PageSize)
	items, total, err := h.uc.ListLedger(ctx, &dto.LedgerFilters{
		MerchantID: auth.GetMerchantID(ctx),
		LotID:      req.LotID,
		ProductID:  req.ProductID,
		EntryType:  req.EntryType,
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(listResponse{Items: items, Total: total})
}

func (h *LotHandler) ReconcileLot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	result, err := h.uc.ReconcileLot(ctx, auth.GetMerchantID(ctx), req.LotID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(result)
}

func (h *LotHandler) SetStockPolicy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req stockPolicyRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	policy := &model.StockPolicy{
		MerchantID:      auth.GetMerchantID(ctx),
		ProductID:       req.ProductID,
		ReorderPoint:    req.ReorderPoint,
		ReorderQuantity: req.ReorderQuantity,
	}
	if err := h.uc.SetStockPolicy(ctx, policy); err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(policy)
}

func (h *LotHandler) ListStockPolicies(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	policies, err := h.uc.ListStockPolicies(ctx, auth.GetMerchantID(ctx))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(listResponse{Items: policies, Total: len(policies)})
}

// toStatus maps lot errors onto gRPC codes.
func (h *LotHandler) toStatus(err error) error {
	switch {
	case errors.Is(err, lot.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, lot.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, lot.ErrInsufficientStock), errors.Is(err, lot.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, lot.ErrConcurrencyConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	h.logger.Error("lot service failure", zap.Error(err))
	return status.Error(codes.Internal, err.Error())
}

func paging(page, pageSize int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, pageSize
}

func fromStruct(in *structpb.Struct, out interface{}) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
