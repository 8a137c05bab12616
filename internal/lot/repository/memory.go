package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/lot/dto"
	"github.com/fekuna/omnipos-lot-service/internal/model"
)

// MemoryRepository keeps lots, reservations and the ledger in process.
// RunInTx holds a single mutex for the whole unit, so commits are serialized
// the same way row locks serialize them in Postgres.
type MemoryRepository struct {
	mu           sync.Mutex
	products     map[string]model.Product
	lots         map[string]model.Lot
	reservations map[string]model.Reservation
	ledger       []model.LedgerEntry
	policies     map[string]model.StockPolicy
	lotSeq       int64
	ledgerSeq    int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products:     map[string]model.Product{},
		lots:         map[string]model.Lot{},
		reservations: map[string]model.Reservation{},
		policies:     map[string]model.StockPolicy{},
	}
}

// Verify interface compliance
var _ lot.Repository = (*MemoryRepository)(nil)

// AddProduct registers a catalog product.
func (r *MemoryRepository) AddProduct(p model.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

func (r *MemoryRepository) ProductExists(ctx context.Context, merchantID, productID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	return ok && p.MerchantID == merchantID && p.IsActive, nil
}

func (r *MemoryRepository) CreateLot(ctx context.Context, l *model.Lot, receipt *model.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.lots[l.ID]; exists {
		return fmt.Errorf("%w: lot %s already exists", lot.ErrInvalidRequest, l.ID)
	}
	for _, existing := range r.lots {
		if existing.ProductID == l.ProductID && existing.LotNumber == l.LotNumber {
			return fmt.Errorf("%w: lot number %s already exists for product %s", lot.ErrInvalidRequest, l.LotNumber, l.ProductID)
		}
	}
	if err := l.CheckQuantities(); err != nil {
		return err
	}

	r.lotSeq++
	l.Seq = r.lotSeq
	l.Version = 1
	r.lots[l.ID] = *cloneLot(l)

	if receipt != nil {
		r.appendLedger(*receipt)
	}
	return nil
}

func (r *MemoryRepository) GetLot(ctx context.Context, id string) (*model.Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lots[id]
	if !ok {
		return nil, nil
	}
	return cloneLot(&l), nil
}

func (r *MemoryRepository) ListLotsByProduct(ctx context.Context, merchantID, productID string) ([]model.Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := []model.Lot{}
	for _, l := range r.lots {
		if l.MerchantID == merchantID && l.ProductID == productID {
			items = append(items, *cloneLot(&l))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

func (r *MemoryRepository) FindLots(ctx context.Context, f *dto.LotFilters) ([]model.Lot, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := []model.Lot{}
	for _, l := range r.lots {
		if f.MerchantID != "" && l.MerchantID != f.MerchantID {
			continue
		}
		if f.ProductID != "" && l.ProductID != f.ProductID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		items = append(items, *cloneLot(&l))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq > items[j].Seq })

	total := len(items)
	return paginate(items, f.Page, f.PageSize), total, nil
}

func (r *MemoryRepository) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, nil
	}
	return cloneReservation(&res), nil
}

func (r *MemoryRepository) ListReservationsByConsumer(ctx context.Context, merchantID, consumerType, consumerID string) ([]model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := []model.Reservation{}
	for _, res := range r.reservations {
		if res.MerchantID == merchantID && res.ConsumerType == consumerType && res.ConsumerID == consumerID {
			items = append(items, *cloneReservation(&res))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (r *MemoryRepository) ListLedger(ctx context.Context, f *dto.LedgerFilters) ([]model.LedgerEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := []model.LedgerEntry{}
	for i := len(r.ledger) - 1; i >= 0; i-- {
		e := r.ledger[i]
		if f.MerchantID != "" && e.MerchantID != f.MerchantID {
			continue
		}
		if f.LotID != "" && e.LotID != f.LotID {
			continue
		}
		if f.ProductID != "" && e.ProductID != f.ProductID {
			continue
		}
		if f.EntryType != "" && e.EntryType != f.EntryType {
			continue
		}
		items = append(items, e)
	}

	total := len(items)
	return paginate(items, f.Page, f.PageSize), total, nil
}

func (r *MemoryRepository) ListLedgerByLot(ctx context.Context, lotID string) ([]model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := []model.LedgerEntry{}
	for _, e := range r.ledger {
		if e.LotID == lotID {
			items = append(items, e)
		}
	}
	return items, nil
}

func (r *MemoryRepository) ListStockPolicies(ctx context.Context, merchantID string) ([]model.StockPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]model.StockPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		if merchantID != "" && p.MerchantID != merchantID {
			continue
		}
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].MerchantID != items[j].MerchantID {
			return items[i].MerchantID < items[j].MerchantID
		}
		return items[i].ProductID < items[j].ProductID
	})
	return items, nil
}

func (r *MemoryRepository) UpsertStockPolicy(ctx context.Context, p *model.StockPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.MerchantID+"|"+p.ProductID] = *p
	return nil
}

func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(tx lot.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		repo:           r,
		lots:           map[string]*model.Lot{},
		reservations:   map[string]*model.Reservation{},
		statusUpdates:  map[string]reservationStatusUpdate{},
		newReservation: map[string]bool{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (r *MemoryRepository) appendLedger(entries ...model.LedgerEntry) {
	for _, e := range entries {
		r.ledgerSeq++
		e.Seq = r.ledgerSeq
		r.ledger = append(r.ledger, e)
	}
}

type reservationStatusUpdate struct {
	status model.ReservationStatus
	at     time.Time
}

// memoryTx stages writes and applies them only on commit.
type memoryTx struct {
	repo           *MemoryRepository
	lots           map[string]*model.Lot
	reservations   map[string]*model.Reservation
	newReservation map[string]bool
	statusUpdates  map[string]reservationStatusUpdate
	entries        []model.LedgerEntry
}

func (tx *memoryTx) LockLots(ctx context.Context, ids []string) (map[string]*model.Lot, error) {
	locked := make(map[string]*model.Lot, len(ids))
	for _, id := range ids {
		if staged, ok := tx.lots[id]; ok {
			locked[id] = cloneLot(staged)
			continue
		}
		if l, ok := tx.repo.lots[id]; ok {
			locked[id] = cloneLot(&l)
		}
	}
	return locked, nil
}

func (tx *memoryTx) LockReservation(ctx context.Context, id string) (*model.Reservation, error) {
	if staged, ok := tx.reservations[id]; ok {
		return cloneReservation(staged), nil
	}
	res, ok := tx.repo.reservations[id]
	if !ok {
		return nil, nil
	}
	return cloneReservation(&res), nil
}

func (tx *memoryTx) SaveLot(ctx context.Context, l *model.Lot) error {
	if err := l.CheckQuantities(); err != nil {
		return err
	}
	current, ok := tx.lots[l.ID]
	if !ok {
		stored, exists := tx.repo.lots[l.ID]
		if !exists {
			return fmt.Errorf("%w: lot %s", lot.ErrNotFound, l.ID)
		}
		current = &stored
	}
	l.Version = current.Version + 1
	tx.lots[l.ID] = cloneLot(l)
	return nil
}

func (tx *memoryTx) CreateReservation(ctx context.Context, res *model.Reservation) error {
	if _, exists := tx.repo.reservations[res.ID]; exists {
		return fmt.Errorf("%w: reservation %s already exists", lot.ErrInvalidRequest, res.ID)
	}
	tx.reservations[res.ID] = cloneReservation(res)
	tx.newReservation[res.ID] = true
	return nil
}

func (tx *memoryTx) UpdateReservationStatus(ctx context.Context, id string, status model.ReservationStatus, at time.Time) error {
	if _, staged := tx.reservations[id]; !staged {
		if _, exists := tx.repo.reservations[id]; !exists {
			return fmt.Errorf("%w: reservation %s", lot.ErrNotFound, id)
		}
	}
	tx.statusUpdates[id] = reservationStatusUpdate{status: status, at: at}
	return nil
}

func (tx *memoryTx) AppendLedger(ctx context.Context, entries ...model.LedgerEntry) error {
	tx.entries = append(tx.entries, entries...)
	return nil
}

func (tx *memoryTx) commit() {
	for id, l := range tx.lots {
		tx.repo.lots[id] = *l
	}
	for id, res := range tx.reservations {
		if tx.newReservation[id] {
			tx.repo.reservations[id] = *res
		}
	}
	for id, upd := range tx.statusUpdates {
		res := tx.repo.reservations[id]
		res.Status = upd.status
		res.UpdatedAt = upd.at
		tx.repo.reservations[id] = res
	}
	tx.repo.appendLedger(tx.entries...)
}

func cloneLot(l *model.Lot) *model.Lot {
	c := *l
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		c.ExpiresAt = &t
	}
	if l.ManufacturedAt != nil {
		t := *l.ManufacturedAt
		c.ManufacturedAt = &t
	}
	if l.PurchaseOrderID != nil {
		s := *l.PurchaseOrderID
		c.PurchaseOrderID = &s
	}
	return &c
}

func cloneReservation(res *model.Reservation) *model.Reservation {
	c := *res
	c.Lines = append([]model.ReservationLine(nil), res.Lines...)
	return &c
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
