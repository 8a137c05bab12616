package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/lot/allocation"
	"github.com/fekuna/omnipos-lot-service/internal/lot/dto"
	"github.com/fekuna/omnipos-lot-service/internal/lot/lifecycle"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/cache"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/search"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultLedgerIndex = "lot_ledger"

type Options struct {
	// ExcludeExpired drops lots past their expiry date from availability.
	ExcludeExpired bool
	CacheTTL       time.Duration
	LedgerIndex    string
	Now            func() time.Time
}

type lotUseCase struct {
	repo     lot.Repository
	cache    *cache.RedisClient
	es       *search.Client
	notifier lot.Notifier
	opts     Options
	validate *validator.Validate
	tracer   trace.Tracer
	logger   logger.ZapLogger
}

// NewLotUseCase wires the lot engine. cache, es and notifier are optional.
func NewLotUseCase(repo lot.Repository, cache *cache.RedisClient, es *search.Client, notifier lot.Notifier, opts Options, log logger.ZapLogger) lot.UseCase {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LedgerIndex == "" {
		opts.LedgerIndex = defaultLedgerIndex
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &lotUseCase{
		repo:     repo,
		cache:    cache,
		es:       es,
		notifier: notifier,
		opts:     opts,
		validate: validator.New(),
		tracer:   otel.Tracer("lot"),
		logger:   log,
	}
}

func (uc *lotUseCase) now() time.Time {
	return uc.opts.Now().UTC()
}

func (uc *lotUseCase) validateInput(input interface{}) error {
	if err := uc.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", lot.ErrInvalidRequest, err)
	}
	return nil
}

func (uc *lotUseCase) ReceiveLot(ctx context.Context, input *dto.ReceiveLotInput) (*model.Lot, error) {
	if err := uc.validateInput(input); err != nil {
		return nil, err
	}
	if !input.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: received quantity must be positive", lot.ErrInvalidRequest)
	}
	if input.UnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: unit cost must not be negative", lot.ErrInvalidRequest)
	}
	if input.ManufacturedAt != nil && input.ExpiresAt != nil && input.ExpiresAt.Before(*input.ManufacturedAt) {
		return nil, fmt.Errorf("%w: expiry date is before manufacturing date", lot.ErrInvalidRequest)
	}

	exists, err := uc.repo.ProductExists(ctx, input.MerchantID, input.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up product: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: unknown product %s", lot.ErrInvalidRequest, input.ProductID)
	}

	now := uc.now()
	actor := input.UserID
	if actor == "" {
		actor = "system"
	}

	l := &model.Lot{
		ID:               uuid.New().String(),
		MerchantID:       input.MerchantID,
		ProductID:        input.ProductID,
		LotNumber:        strings.TrimSpace(input.LotNumber),
		PurchaseOrderID:  input.PurchaseOrderID,
		InitialQuantity:  input.Quantity,
		CurrentQuantity:  input.Quantity,
		ReservedQuantity: decimal.Zero,
		UnitCost:         input.UnitCost,
		ManufacturedAt:   input.ManufacturedAt,
		ExpiresAt:        input.ExpiresAt,
		Status:           model.LotStatusNew,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	status := model.LotStatusNew
	receipt := &model.LedgerEntry{
		ID:            uuid.New().String(),
		MerchantID:    l.MerchantID,
		LotID:         l.ID,
		ProductID:     l.ProductID,
		EntryType:     model.LedgerEntryReceipt,
		QuantityDelta: decimal.Zero,
		OnHandDelta:   l.InitialQuantity,
		StatusTo:      &status,
		Note:          "received lot " + l.LotNumber,
		Actor:         actor,
		CreatedAt:     now,
	}

	if err := uc.repo.CreateLot(ctx, l, receipt); err != nil {
		return nil, err
	}

	uc.logger.Info("lot received",
		zap.String("lot_id", l.ID),
		zap.String("product_id", l.ProductID),
		zap.String("quantity", l.InitialQuantity.String()))

	uc.invalidateAvailability(ctx, l.MerchantID, l.ProductID)
	go uc.syncLedgerToElastic(context.Background(), []model.LedgerEntry{*receipt})

	return l, nil
}

func (uc *lotUseCase) GetLot(ctx context.Context, merchantID, lotID string) (*model.Lot, error) {
	l, err := uc.repo.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if l == nil || l.MerchantID != merchantID {
		return nil, fmt.Errorf("%w: lot %s", lot.ErrNotFound, lotID)
	}
	return l, nil
}

func (uc *lotUseCase) ListLots(ctx context.Context, filters *dto.LotFilters) ([]model.Lot, int, error) {
	if filters.Status != "" && !filters.Status.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown lot status %q", lot.ErrInvalidRequest, filters.Status)
	}
	return uc.repo.FindLots(ctx, filters)
}

func availabilityGenKey(merchantID, productID string) string {
	return fmt.Sprintf("lots:available:gen:%s:%s", merchantID, productID)
}

func availabilityKey(merchantID, productID string, gen int64) string {
	return fmt.Sprintf("lots:available:%s:%s:%d", merchantID, productID, gen)
}

// ListAvailable serves from the cache under the product's current generation.
// The generation is read before the store, so a listing loaded across a
// commit is filed under a generation that commit already retired.
func (uc *lotUseCase) ListAvailable(ctx context.Context, merchantID, productID string) ([]model.AvailableLot, error) {
	if merchantID == "" || productID == "" {
		return nil, fmt.Errorf("%w: merchant and product are required", lot.ErrInvalidRequest)
	}
	if uc.cache == nil {
		return uc.loadAvailable(ctx, merchantID, productID)
	}

	gen, err := uc.cache.Generation(ctx, availabilityGenKey(merchantID, productID))
	if err != nil {
		uc.logger.Warn("availability generation read failed", zap.String("product_id", productID), zap.Error(err))
		return uc.loadAvailable(ctx, merchantID, productID)
	}

	key := availabilityKey(merchantID, productID, gen)
	data, found, err := uc.cache.GetJSON(ctx, key)
	if err != nil {
		uc.logger.Warn("availability cache read failed", zap.String("key", key), zap.Error(err))
	} else if found {
		var cached []model.AvailableLot
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	available, err := uc.loadAvailable(ctx, merchantID, productID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(available); err == nil {
		if err := uc.cache.SetJSON(ctx, key, data, uc.opts.CacheTTL); err != nil {
			uc.logger.Warn("availability cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return available, nil
}

func (uc *lotUseCase) loadAvailable(ctx context.Context, merchantID, productID string) ([]model.AvailableLot, error) {
	lots, err := uc.repo.ListLotsByProduct(ctx, merchantID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	return allocation.ListAvailable(lots, allocation.Options{
		ExcludeExpired: uc.opts.ExcludeExpired,
		Now:            uc.now(),
	}), nil
}

func (uc *lotUseCase) Allocate(ctx context.Context, req *model.AllocationRequest) (*model.AllocationPlan, error) {
	if req == nil || !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: requested quantity must be positive", lot.ErrInvalidRequest)
	}
	if req.MerchantID == "" || req.ProductID == "" {
		return nil, fmt.Errorf("%w: merchant and product are required", lot.ErrInvalidRequest)
	}

	exists, err := uc.repo.ProductExists(ctx, req.MerchantID, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up product: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: unknown product %s", lot.ErrInvalidRequest, req.ProductID)
	}

	// plans feed commits, so they are built from the store and never the cache
	available, err := uc.loadAvailable(ctx, req.MerchantID, req.ProductID)
	if err != nil {
		return nil, err
	}

	return allocation.Allocate(req, withoutStatuses(available, req.ExcludeStatuses))
}

func withoutStatuses(available []model.AvailableLot, statuses []model.LotStatus) []model.AvailableLot {
	if len(statuses) == 0 {
		return available
	}
	excluded := make(map[model.LotStatus]bool, len(statuses))
	for _, s := range statuses {
		excluded[s] = true
	}
	kept := make([]model.AvailableLot, 0, len(available))
	for _, a := range available {
		if !excluded[a.Lot.Status] {
			kept = append(kept, a)
		}
	}
	return kept
}

func validatePlan(plan *model.AllocationPlan) ([]string, error) {
	if plan.MerchantID == "" || plan.ProductID == "" {
		return nil, fmt.Errorf("%w: plan has no merchant or product", lot.ErrInvalidRequest)
	}
	if len(plan.Lines) == 0 {
		return nil, fmt.Errorf("%w: plan has no lines", lot.ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(plan.Lines))
	ids := make([]string, 0, len(plan.Lines))
	for _, line := range plan.Lines {
		if line.LotID == "" {
			return nil, fmt.Errorf("%w: plan line without lot", lot.ErrInvalidRequest)
		}
		if !line.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: plan line for lot %s has non-positive quantity", lot.ErrInvalidRequest, line.LotID)
		}
		if seen[line.LotID] {
			return nil, fmt.Errorf("%w: lot %s appears twice in plan", lot.ErrInvalidRequest, line.LotID)
		}
		seen[line.LotID] = true
		ids = append(ids, line.LotID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (uc *lotUseCase) Reserve(ctx context.Context, input *dto.ReserveInput) (*model.Reservation, error) {
	ctx, span := uc.tracer.Start(ctx, "lot.Reserve")
	defer span.End()

	if err := uc.validateInput(input); err != nil {
		return nil, recordError(span, err)
	}
	plan := input.Plan
	lotIDs, err := validatePlan(plan)
	if err != nil {
		return nil, recordError(span, err)
	}
	span.SetAttributes(
		attribute.String("product_id", plan.ProductID),
		attribute.StringSlice("lot_ids", lotIDs),
	)

	now := uc.now()
	res := &model.Reservation{
		ID:            uuid.New().String(),
		MerchantID:    plan.MerchantID,
		ProductID:     plan.ProductID,
		ConsumerType:  input.ConsumerType,
		ConsumerID:    input.ConsumerID,
		Status:        model.ReservationStatusActive,
		TotalQuantity: decimal.Zero,
		CreatedBy:     input.Actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	note := fmt.Sprintf("reserved for %s %s", input.ConsumerType, input.ConsumerID)

	var entries []model.LedgerEntry
	err = uc.repo.RunInTx(ctx, func(tx lot.Tx) error {
		entries = nil
		res.Lines = nil
		res.TotalQuantity = decimal.Zero

		locked, err := tx.LockLots(ctx, lotIDs)
		if err != nil {
			return fmt.Errorf("failed to lock lots: %w", err)
		}

		for _, line := range plan.Lines {
			l, ok := locked[line.LotID]
			if !ok {
				return fmt.Errorf("%w: lot %s", lot.ErrNotFound, line.LotID)
			}
			if l.MerchantID != plan.MerchantID || l.ProductID != plan.ProductID {
				return fmt.Errorf("%w: lot %s does not belong to product %s", lot.ErrInvalidRequest, l.ID, plan.ProductID)
			}
			if !lifecycle.Allocatable(l.Status) || l.FreeQuantity().LessThan(line.Quantity) {
				return shortfallError(l, line)
			}

			l.ReservedQuantity = l.ReservedQuantity.Add(line.Quantity)
			l.UpdatedAt = now

			reservationID := res.ID
			entries = append(entries, model.LedgerEntry{
				ID:            uuid.New().String(),
				MerchantID:    l.MerchantID,
				LotID:         l.ID,
				ProductID:     l.ProductID,
				EntryType:     model.LedgerEntryAllocation,
				QuantityDelta: line.Quantity,
				OnHandDelta:   decimal.Zero,
				ReservationID: &reservationID,
				Note:          note,
				Actor:         input.Actor,
				CreatedAt:     now,
			})
			entries = append(entries, lifecycle.Settle(l, input.Actor, note, now)...)

			if err := tx.SaveLot(ctx, l); err != nil {
				return fmt.Errorf("failed to save lot %s: %w", l.ID, err)
			}

			res.Lines = append(res.Lines, model.ReservationLine{
				ReservationID: res.ID,
				LotID:         l.ID,
				Quantity:      line.Quantity,
			})
			res.TotalQuantity = res.TotalQuantity.Add(line.Quantity)
		}

		if err := tx.CreateReservation(ctx, res); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		return tx.AppendLedger(ctx, entries...)
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	uc.logger.Info("reservation committed",
		zap.String("reservation_id", res.ID),
		zap.String("product_id", res.ProductID),
		zap.Strings("lot_ids", lotIDs),
		zap.String("quantity", res.TotalQuantity.String()))

	uc.invalidateAvailability(ctx, res.MerchantID, res.ProductID)
	go uc.syncLedgerToElastic(context.Background(), entries)

	return res, nil
}

// shortfallError tells a lost race apart from a stable shortage: if the lot
// changed after the plan was built the caller may re-plan and retry.
func shortfallError(l *model.Lot, line model.AllocationLine) error {
	if line.LotVersion != 0 && l.Version != line.LotVersion {
		return fmt.Errorf("%w: lot %s changed since planning (version %d, planned %d)",
			lot.ErrConcurrencyConflict, l.ID, l.Version, line.LotVersion)
	}
	if !lifecycle.Allocatable(l.Status) {
		return fmt.Errorf("%w: lot %s is %s", lot.ErrInsufficientStock, l.ID, l.Status)
	}
	return fmt.Errorf("%w: lot %s has %s free, %s requested",
		lot.ErrInsufficientStock, l.ID, l.FreeQuantity(), line.Quantity)
}

func (uc *lotUseCase) ReserveQuantity(ctx context.Context, input *dto.ReserveQuantityInput) (*model.Reservation, *model.AllocationPlan, error) {
	ctx, span := uc.tracer.Start(ctx, "lot.ReserveQuantity")
	defer span.End()

	if err := uc.validateInput(input); err != nil {
		return nil, nil, recordError(span, err)
	}
	span.SetAttributes(
		attribute.String("product_id", input.ProductID),
		attribute.String("consumer", input.ConsumerType+":"+input.ConsumerID),
	)

	plan, err := uc.Allocate(ctx, &model.AllocationRequest{
		MerchantID:      input.MerchantID,
		ProductID:       input.ProductID,
		Quantity:        input.Quantity,
		ExcludeStatuses: input.ExcludeStatuses,
	})
	if err != nil {
		return nil, nil, recordError(span, err)
	}

	if len(plan.Lines) == 0 || (input.RequireFull && !plan.CanFulfill) {
		uc.notify(ctx, model.Notification{
			Type:       model.NotificationStockExhausted,
			MerchantID: input.MerchantID,
			ProductID:  input.ProductID,
			Quantity:   plan.Shortfall(),
			Note:       fmt.Sprintf("%s %s requested %s, %s available", input.ConsumerType, input.ConsumerID, plan.Requested, plan.TotalAllocated),
		})
		err := fmt.Errorf("%w: requested %s, available %s", lot.ErrInsufficientStock, plan.Requested, plan.TotalAllocated)
		return nil, plan, recordError(span, err)
	}

	res, err := uc.Reserve(ctx, &dto.ReserveInput{
		Plan:         plan,
		ConsumerType: input.ConsumerType,
		ConsumerID:   input.ConsumerID,
		Actor:        input.Actor,
	})
	if err != nil {
		return nil, plan, recordError(span, err)
	}
	return res, plan, nil
}

func (uc *lotUseCase) Release(ctx context.Context, merchantID, reservationID, actor string) error {
	ctx, span := uc.tracer.Start(ctx, "lot.Release")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if merchantID == "" || reservationID == "" || actor == "" {
		return recordError(span, fmt.Errorf("%w: merchant, reservation and actor are required", lot.ErrInvalidRequest))
	}

	now := uc.now()
	var (
		productID string
		entries   []model.LedgerEntry
	)
	err := uc.repo.RunInTx(ctx, func(tx lot.Tx) error {
		entries = nil

		res, err := lockActiveReservation(ctx, tx, merchantID, reservationID)
		if err != nil {
			return err
		}
		productID = res.ProductID

		locked, err := tx.LockLots(ctx, sortedLotIDs(res))
		if err != nil {
			return fmt.Errorf("failed to lock lots: %w", err)
		}

		for _, line := range res.Lines {
			l, ok := locked[line.LotID]
			if !ok {
				return fmt.Errorf("%w: lot %s", lot.ErrNotFound, line.LotID)
			}
			l.ReservedQuantity = l.ReservedQuantity.Sub(line.Quantity)
			l.UpdatedAt = now

			rid := res.ID
			entries = append(entries, model.LedgerEntry{
				ID:            uuid.New().String(),
				MerchantID:    l.MerchantID,
				LotID:         l.ID,
				ProductID:     l.ProductID,
				EntryType:     model.LedgerEntryRelease,
				QuantityDelta: line.Quantity.Neg(),
				OnHandDelta:   decimal.Zero,
				ReservationID: &rid,
				Note:          fmt.Sprintf("released %s %s", res.ConsumerType, res.ConsumerID),
				Actor:         actor,
				CreatedAt:     now,
			})

			if err := tx.SaveLot(ctx, l); err != nil {
				return fmt.Errorf("failed to save lot %s: %w", l.ID, err)
			}
		}

		if err := tx.UpdateReservationStatus(ctx, res.ID, model.ReservationStatusReleased, now); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, entries...)
	})
	if err != nil {
		return recordError(span, err)
	}

	uc.logger.Info("reservation released", zap.String("reservation_id", reservationID), zap.String("actor", actor))

	uc.invalidateAvailability(ctx, merchantID, productID)
	go uc.syncLedgerToElastic(context.Background(), entries)

	return nil
}

func (uc *lotUseCase) ConsumeReservation(ctx context.Context, merchantID, reservationID, actor string) error {
	ctx, span := uc.tracer.Start(ctx, "lot.ConsumeReservation")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if merchantID == "" || reservationID == "" || actor == "" {
		return recordError(span, fmt.Errorf("%w: merchant, reservation and actor are required", lot.ErrInvalidRequest))
	}

	now := uc.now()
	var (
		productID string
		entries   []model.LedgerEntry
	)
	err := uc.repo.RunInTx(ctx, func(tx lot.Tx) error {
		entries = nil

		res, err := lockActiveReservation(ctx, tx, merchantID, reservationID)
		if err != nil {
			return err
		}
		productID = res.ProductID

		locked, err := tx.LockLots(ctx, sortedLotIDs(res))
		if err != nil {
			return fmt.Errorf("failed to lock lots: %w", err)
		}

		note := fmt.Sprintf("shipped %s %s", res.ConsumerType, res.ConsumerID)
		for _, line := range res.Lines {
			l, ok := locked[line.LotID]
			if !ok {
				return fmt.Errorf("%w: lot %s", lot.ErrNotFound, line.LotID)
			}
			if l.Status == model.LotStatusDamaged {
				return fmt.Errorf("%w: lot %s is damaged and cannot be consumed", lot.ErrInvalidTransition, l.ID)
			}

			l.CurrentQuantity = l.CurrentQuantity.Sub(line.Quantity)
			l.ReservedQuantity = l.ReservedQuantity.Sub(line.Quantity)
			l.UpdatedAt = now

			rid := res.ID
			entries = append(entries, model.LedgerEntry{
				ID:            uuid.New().String(),
				MerchantID:    l.MerchantID,
				LotID:         l.ID,
				ProductID:     l.ProductID,
				EntryType:     model.LedgerEntryConsumption,
				QuantityDelta: line.Quantity.Neg(),
				OnHandDelta:   line.Quantity.Neg(),
				ReservationID: &rid,
				Note:          note,
				Actor:         actor,
				CreatedAt:     now,
			})
			entries = append(entries, lifecycle.Settle(l, actor, note, now)...)

			if err := tx.SaveLot(ctx, l); err != nil {
				return fmt.Errorf("failed to save lot %s: %w", l.ID, err)
			}
		}

		if err := tx.UpdateReservationStatus(ctx, res.ID, model.ReservationStatusConsumed, now); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, entries...)
	})
	if err != nil {
		return recordError(span, err)
	}

	uc.logger.Info("reservation consumed", zap.String("reservation_id", reservationID), zap.String("actor", actor))

	uc.invalidateAvailability(ctx, merchantID, productID)
	go uc.syncLedgerToElastic(context.Background(), entries)

	return nil
}

// lockActiveReservation reports NotFound for missing, foreign and
// no-longer-active reservations alike so a repeated release surfaces.
func lockActiveReservation(ctx context.Context, tx lot.Tx, merchantID, reservationID string) (*model.Reservation, error) {
	res, err := tx.LockReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}
	if res == nil || res.MerchantID != merchantID {
		return nil, fmt.Errorf("%w: reservation %s", lot.ErrNotFound, reservationID)
	}
	if res.Status != model.ReservationStatusActive {
		return nil, fmt.Errorf("%w: reservation %s is already %s", lot.ErrNotFound, reservationID, res.Status)
	}
	return res, nil
}

func sortedLotIDs(res *model.Reservation) []string {
	ids := res.LotIDs()
	sort.Strings(ids)
	return ids
}

func (uc *lotUseCase) GetReservation(ctx context.Context, merchantID, reservationID string) (*model.Reservation, error) {
	res, err := uc.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res == nil || res.MerchantID != merchantID {
		return nil, fmt.Errorf("%w: reservation %s", lot.ErrNotFound, reservationID)
	}
	return res, nil
}

func (uc *lotUseCase) ListReservationsByConsumer(ctx context.Context, merchantID, consumerType, consumerID string) ([]model.Reservation, error) {
	if consumerType == "" || consumerID == "" {
		return nil, fmt.Errorf("%w: consumer type and id are required", lot.ErrInvalidRequest)
	}
	return uc.repo.ListReservationsByConsumer(ctx, merchantID, consumerType, consumerID)
}

func (uc *lotUseCase) ChangeStatus(ctx context.Context, input *dto.ChangeStatusInput) (*model.Lot, error) {
	ctx, span := uc.tracer.Start(ctx, "lot.ChangeStatus")
	defer span.End()

	if err := uc.validateInput(input); err != nil {
		return nil, recordError(span, err)
	}
	span.SetAttributes(
		attribute.String("lot_id", input.LotID),
		attribute.String("status", string(input.Status)),
		attribute.Bool("override", input.Override),
	)

	trigger := lifecycle.TriggerOperator
	if input.Override {
		trigger = lifecycle.TriggerOverride
	}

	now := uc.now()
	var (
		updated *model.Lot
		from    model.LotStatus
		entry   model.LedgerEntry
	)
	err := uc.repo.RunInTx(ctx, func(tx lot.Tx) error {
		locked, err := tx.LockLots(ctx, []string{input.LotID})
		if err != nil {
			return fmt.Errorf("failed to lock lot: %w", err)
		}
		l, ok := locked[input.LotID]
		if !ok || l.MerchantID != input.MerchantID {
			return fmt.Errorf("%w: lot %s", lot.ErrNotFound, input.LotID)
		}

		from = l.Status
		entry, err = lifecycle.Transition(l, input.Status, trigger, input.Reason, input.Actor, now)
		if err != nil {
			return err
		}
		if err := tx.SaveLot(ctx, l); err != nil {
			return fmt.Errorf("failed to save lot %s: %w", l.ID, err)
		}
		updated = l
		return tx.AppendLedger(ctx, entry)
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	fields := []zap.Field{
		zap.String("lot_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
		zap.String("actor", input.Actor),
	}
	if input.Override {
		uc.logger.Warn("lot status overridden", fields...)
	} else {
		uc.logger.Info("lot status changed", fields...)
	}

	if updated.Status == model.LotStatusDamaged {
		if updated.ReservedQuantity.IsPositive() {
			// Active reservations stay in place; releasing them is a manual follow-up.
			uc.logger.Warn("damaged lot still carries active reservations",
				zap.String("lot_id", updated.ID),
				zap.String("reserved_quantity", updated.ReservedQuantity.String()))
		}
		uc.notify(ctx, model.Notification{
			Type:       model.NotificationLotDamaged,
			MerchantID: updated.MerchantID,
			ProductID:  updated.ProductID,
			LotID:      updated.ID,
			Quantity:   updated.CurrentQuantity,
			Note:       entry.Note,
		})
	}

	uc.invalidateAvailability(ctx, updated.MerchantID, updated.ProductID)
	go uc.syncLedgerToElastic(context.Background(), []model.LedgerEntry{entry})

	return updated, nil
}

func (uc *lotUseCase) AdjustLot(ctx context.Context, input *dto.AdjustLotInput) (*model.Lot, error) {
	ctx, span := uc.tracer.Start(ctx, "lot.AdjustLot")
	defer span.End()

	if err := uc.validateInput(input); err != nil {
		return nil, recordError(span, err)
	}
	if input.QuantityChange.IsZero() {
		return nil, recordError(span, fmt.Errorf("%w: quantity change must not be zero", lot.ErrInvalidRequest))
	}
	span.SetAttributes(attribute.String("lot_id", input.LotID))

	now := uc.now()
	var (
		updated *model.Lot
		entries []model.LedgerEntry
	)
	err := uc.repo.RunInTx(ctx, func(tx lot.Tx) error {
		locked, err := tx.LockLots(ctx, []string{input.LotID})
		if err != nil {
			return fmt.Errorf("failed to lock lot: %w", err)
		}
		l, ok := locked[input.LotID]
		if !ok || l.MerchantID != input.MerchantID {
			return fmt.Errorf("%w: lot %s", lot.ErrNotFound, input.LotID)
		}
		if !lifecycle.Allocatable(l.Status) {
			return fmt.Errorf("%w: lot %s is %s and cannot be adjusted", lot.ErrInvalidTransition, l.ID, l.Status)
		}

		next := l.CurrentQuantity.Add(input.QuantityChange)
		if next.LessThan(l.ReservedQuantity) || next.GreaterThan(l.InitialQuantity) {
			return fmt.Errorf("%w: adjusted quantity %s must stay between reserved %s and initial %s",
				lot.ErrInvalidRequest, next, l.ReservedQuantity, l.InitialQuantity)
		}
		l.CurrentQuantity = next
		l.UpdatedAt = now

		entries = []model.LedgerEntry{{
			ID:            uuid.New().String(),
			MerchantID:    l.MerchantID,
			LotID:         l.ID,
			ProductID:     l.ProductID,
			EntryType:     model.LedgerEntryManualAdjustment,
			QuantityDelta: decimal.Zero,
			OnHandDelta:   input.QuantityChange,
			Note:          input.Reason,
			Actor:         input.Actor,
			CreatedAt:     now,
		}}
		entries = append(entries, lifecycle.Settle(l, input.Actor, input.Reason, now)...)

		if err := tx.SaveLot(ctx, l); err != nil {
			return fmt.Errorf("failed to save lot %s: %w", l.ID, err)
		}
		updated = l
		return tx.AppendLedger(ctx, entries...)
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	uc.logger.Info("lot adjusted",
		zap.String("lot_id", updated.ID),
		zap.String("change", input.QuantityChange.String()),
		zap.String("actor", input.Actor))

	uc.invalidateAvailability(ctx, updated.MerchantID, updated.ProductID)
	go uc.syncLedgerToElastic(context.Background(), entries)

	return updated, nil
}

func (uc *lotUseCase) ListLedger(ctx context.Context, filters *dto.LedgerFilters) ([]model.LedgerEntry, int, error) {
	return uc.repo.ListLedger(ctx, filters)
}

func (uc *lotUseCase) ReconcileLot(ctx context.Context, merchantID, lotID string) (*dto.ReconcileResult, error) {
	l, err := uc.GetLot(ctx, merchantID, lotID)
	if err != nil {
		return nil, err
	}

	entries, err := uc.repo.ListLedgerByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	balance := model.ReplayLedger(lotID, entries)
	result := &dto.ReconcileResult{
		Lot:           l,
		Balance:       balance,
		ReservedDrift: l.ReservedQuantity.Sub(balance.Reserved),
		OnHandDrift:   l.CurrentQuantity.Sub(balance.OnHand),
	}
	result.Consistent = result.ReservedDrift.IsZero() && result.OnHandDrift.IsZero()

	if !result.Consistent {
		uc.logger.Error("lot ledger drift detected",
			zap.String("lot_id", lotID),
			zap.String("reserved_drift", result.ReservedDrift.String()),
			zap.String("on_hand_drift", result.OnHandDrift.String()))
	}
	return result, nil
}

func (uc *lotUseCase) SetStockPolicy(ctx context.Context, policy *model.StockPolicy) error {
	if policy.MerchantID == "" || policy.ProductID == "" {
		return fmt.Errorf("%w: merchant and product are required", lot.ErrInvalidRequest)
	}
	if policy.ReorderPoint.IsNegative() || policy.ReorderQuantity.IsNegative() {
		return fmt.Errorf("%w: reorder point and quantity must not be negative", lot.ErrInvalidRequest)
	}

	exists, err := uc.repo.ProductExists(ctx, policy.MerchantID, policy.ProductID)
	if err != nil {
		return fmt.Errorf("failed to look up product: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: unknown product %s", lot.ErrInvalidRequest, policy.ProductID)
	}
	return uc.repo.UpsertStockPolicy(ctx, policy)
}

func (uc *lotUseCase) ListStockPolicies(ctx context.Context, merchantID string) ([]model.StockPolicy, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchant is required", lot.ErrInvalidRequest)
	}
	return uc.repo.ListStockPolicies(ctx, merchantID)
}

func (uc *lotUseCase) ListAllStockPolicies(ctx context.Context) ([]model.StockPolicy, error) {
	return uc.repo.ListStockPolicies(ctx, "")
}

// invalidateAvailability runs after the commit and moves the product to a new
// generation, so a damaged or exhausted lot disappears from the next listing.
func (uc *lotUseCase) invalidateAvailability(ctx context.Context, merchantID, productID string) {
	if uc.cache == nil {
		return
	}
	genKey := availabilityGenKey(merchantID, productID)
	if _, err := uc.cache.Bump(ctx, genKey); err != nil {
		uc.logger.Warn("failed to invalidate availability cache", zap.String("key", genKey), zap.Error(err))
	}
}

func (uc *lotUseCase) notify(ctx context.Context, n model.Notification) {
	if uc.notifier == nil {
		return
	}
	n.EventID = uuid.New().String()
	n.OccurredAt = uc.now()
	uc.notifier.Notify(ctx, n)
}

const ledgerMapping = `{
	"mappings": {
		"properties": {
			"merchant_id": { "type": "keyword" },
			"lot_id": { "type": "keyword" },
			"product_id": { "type": "keyword" },
			"entry_type": { "type": "keyword" },
			"quantity_delta": { "type": "double" },
			"on_hand_delta": { "type": "double" },
			"status_from": { "type": "keyword" },
			"status_to": { "type": "keyword" },
			"reservation_id": { "type": "keyword" },
			"note": { "type": "text" },
			"actor": { "type": "keyword" },
			"created_at": { "type": "date" }
		}
	}
}`

func (uc *lotUseCase) syncLedgerToElastic(ctx context.Context, entries []model.LedgerEntry) {
	if uc.es == nil || len(entries) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := uc.es.CreateIndex(ctx, uc.opts.LedgerIndex, ledgerMapping); err != nil {
		uc.logger.Error("failed to ensure ledger index", zap.String("index", uc.opts.LedgerIndex), zap.Error(err))
		return
	}

	for _, e := range entries {
		if err := uc.es.Index(ctx, uc.opts.LedgerIndex, e.ID, e); err != nil {
			uc.logger.Error("failed to index ledger entry", zap.String("entry_id", e.ID), zap.Error(err))
		}
	}
}

func recordError(span trace.Span, err error) error {
	if err != nil && !errors.Is(err, lot.ErrInsufficientStock) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
