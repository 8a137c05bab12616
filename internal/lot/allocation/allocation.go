// Package allocation derives lot availability and builds FIFO/FEFO
// allocation plans. Everything here is pure: it works on a snapshot of lots
// and never mutates them.
package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/lot/lifecycle"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/shopspring/decimal"
)

type Options struct {
	// ExcludeStatuses narrows the eligible set {new, in_use} further.
	ExcludeStatuses []model.LotStatus
	// ExcludeExpired drops lots whose expiry date is before Now.
	ExcludeExpired bool
	Now            time.Time
}

// Less orders lots by expiry ascending (no expiry last), then receipt order.
func Less(a, b *model.Lot) bool {
	switch {
	case a.ExpiresAt != nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt == nil && b.ExpiresAt != nil:
		return false
	case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// ListAvailable keeps eligible lots in allocation order. Lots without free
// quantity stay in the listing; they just contribute nothing to a plan.
func ListAvailable(lots []model.Lot, opts Options) []model.AvailableLot {
	excluded := make(map[model.LotStatus]bool, len(opts.ExcludeStatuses))
	for _, s := range opts.ExcludeStatuses {
		excluded[s] = true
	}

	eligible := make([]model.Lot, 0, len(lots))
	for _, l := range lots {
		if !lifecycle.Allocatable(l.Status) || excluded[l.Status] {
			continue
		}
		if opts.ExcludeExpired && l.IsExpired(opts.Now) {
			continue
		}
		eligible = append(eligible, l)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return Less(&eligible[i], &eligible[j])
	})

	available := make([]model.AvailableLot, len(eligible))
	for i, l := range eligible {
		available[i] = model.AvailableLot{Lot: l, FreeQuantity: l.FreeQuantity()}
	}
	return available
}

// Allocate walks the ordered listing taking min(free, remaining) from each
// lot. A short plan is returned with CanFulfill=false rather than an error;
// shortfall policy belongs to the caller.
func Allocate(req *model.AllocationRequest, available []model.AvailableLot) (*model.AllocationPlan, error) {
	if req == nil || !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: requested quantity must be positive", lot.ErrInvalidRequest)
	}

	plan := &model.AllocationPlan{
		MerchantID:     req.MerchantID,
		ProductID:      req.ProductID,
		Requested:      req.Quantity,
		Lines:          []model.AllocationLine{},
		TotalAllocated: decimal.Zero,
	}

	remaining := req.Quantity
	for _, a := range available {
		if remaining.IsZero() {
			break
		}
		if !a.FreeQuantity.IsPositive() {
			continue
		}
		take := decimal.Min(a.FreeQuantity, remaining)
		plan.Lines = append(plan.Lines, model.AllocationLine{
			LotID:      a.Lot.ID,
			LotNumber:  a.Lot.LotNumber,
			Quantity:   take,
			UnitCost:   a.Lot.UnitCost,
			ExpiresAt:  a.Lot.ExpiresAt,
			LotVersion: a.Lot.Version,
		})
		plan.TotalAllocated = plan.TotalAllocated.Add(take)
		remaining = remaining.Sub(take)
	}

	plan.CanFulfill = remaining.IsZero()
	return plan, nil
}

// TotalFree sums the positive free quantity of a listing.
func TotalFree(available []model.AvailableLot) decimal.Decimal {
	total := decimal.Zero
	for _, a := range available {
		if a.FreeQuantity.IsPositive() {
			total = total.Add(a.FreeQuantity)
		}
	}
	return total
}
