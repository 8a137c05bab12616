// Package lifecycle governs lot status transitions.
//
// Lots start as new, move to in_use once drawn from, and to finished when
// their current quantity reaches zero. Operators may mark any lot damaged
// with a reason. Leaving finished or damaged needs an explicit override.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Trigger string

const (
	TriggerAutomatic Trigger = "automatic"
	TriggerOperator  Trigger = "operator"
	TriggerOverride  Trigger = "override"
)

type edge struct {
	from model.LotStatus
	to   model.LotStatus
}

var automaticEdges = map[edge]bool{
	{model.LotStatusNew, model.LotStatusInUse}:      true,
	{model.LotStatusInUse, model.LotStatusFinished}: true,
}

var operatorEdges = map[edge]bool{
	{model.LotStatusNew, model.LotStatusInUse}:     true,
	{model.LotStatusNew, model.LotStatusDamaged}:   true,
	{model.LotStatusInUse, model.LotStatusDamaged}: true,
	// a finished lot stays on record; damage marks it for audit
	{model.LotStatusFinished, model.LotStatusDamaged}: true,
}

// Allocatable reports whether lots in status s may be listed and reserved.
func Allocatable(s model.LotStatus) bool {
	return s == model.LotStatusNew || s == model.LotStatusInUse
}

func CanTransition(from, to model.LotStatus, trigger Trigger) bool {
	if from == to || !from.IsValid() || !to.IsValid() {
		return false
	}
	switch trigger {
	case TriggerAutomatic:
		return automaticEdges[edge{from, to}]
	case TriggerOperator:
		return operatorEdges[edge{from, to}]
	case TriggerOverride:
		return true
	}
	return false
}

func requiresReason(to model.LotStatus, trigger Trigger) bool {
	return to == model.LotStatusDamaged || trigger == TriggerOverride
}

// Transition moves l to the target status and returns the status_change entry
// to append. l is left untouched on error.
func Transition(l *model.Lot, to model.LotStatus, trigger Trigger, note, actor string, now time.Time) (model.LedgerEntry, error) {
	from := l.Status
	if !CanTransition(from, to, trigger) {
		return model.LedgerEntry{}, fmt.Errorf("%w: %s -> %s (%s)", lot.ErrInvalidTransition, from, to, trigger)
	}
	note = strings.TrimSpace(note)
	if requiresReason(to, trigger) && note == "" {
		return model.LedgerEntry{}, fmt.Errorf("%w: a reason is required to move lot %s to %s", lot.ErrInvalidRequest, l.ID, to)
	}
	if trigger == TriggerOverride {
		note = "override: " + note
	}

	l.Status = to
	l.UpdatedAt = now

	return model.LedgerEntry{
		ID:            uuid.New().String(),
		MerchantID:    l.MerchantID,
		LotID:         l.ID,
		ProductID:     l.ProductID,
		EntryType:     model.LedgerEntryStatusChange,
		QuantityDelta: decimal.Zero,
		OnHandDelta:   decimal.Zero,
		StatusFrom:    &from,
		StatusTo:      &to,
		Note:          note,
		Actor:         actor,
		CreatedAt:     now,
	}, nil
}

// Settle applies the automatic transitions that follow a quantity change:
// new -> in_use once free or current drops below the initial quantity, and
// in_use -> finished once current reaches zero.
func Settle(l *model.Lot, actor, note string, now time.Time) []model.LedgerEntry {
	var entries []model.LedgerEntry

	if l.Status == model.LotStatusNew &&
		(l.FreeQuantity().LessThan(l.InitialQuantity) || l.CurrentQuantity.LessThan(l.InitialQuantity)) {
		if e, err := Transition(l, model.LotStatusInUse, TriggerAutomatic, note, actor, now); err == nil {
			entries = append(entries, e)
		}
	}

	if l.Status == model.LotStatusInUse && l.CurrentQuantity.IsZero() {
		if e, err := Transition(l, model.LotStatusFinished, TriggerAutomatic, note, actor, now); err == nil {
			entries = append(entries, e)
		}
	}

	return entries
}
