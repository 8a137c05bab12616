package lifecycle

import (
	"testing"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLot(status model.LotStatus, initial, current, reserved int64) *model.Lot {
	return &model.Lot{
		ID:               "lot-1",
		MerchantID:       "m1",
		ProductID:        "p1",
		InitialQuantity:  decimal.NewFromInt(initial),
		CurrentQuantity:  decimal.NewFromInt(current),
		ReservedQuantity: decimal.NewFromInt(reserved),
		Status:           status,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.LotStatus
		trigger  Trigger
		want     bool
	}{
		{model.LotStatusNew, model.LotStatusInUse, TriggerAutomatic, true},
		{model.LotStatusInUse, model.LotStatusFinished, TriggerAutomatic, true},
		{model.LotStatusNew, model.LotStatusFinished, TriggerAutomatic, false},
		{model.LotStatusNew, model.LotStatusDamaged, TriggerAutomatic, false},
		{model.LotStatusNew, model.LotStatusInUse, TriggerOperator, true},
		{model.LotStatusNew, model.LotStatusDamaged, TriggerOperator, true},
		{model.LotStatusInUse, model.LotStatusDamaged, TriggerOperator, true},
		{model.LotStatusInUse, model.LotStatusFinished, TriggerOperator, false},
		{model.LotStatusFinished, model.LotStatusDamaged, TriggerOperator, true},
		{model.LotStatusDamaged, model.LotStatusDamaged, TriggerOperator, false},
		{model.LotStatusFinished, model.LotStatusInUse, TriggerOperator, false},
		{model.LotStatusDamaged, model.LotStatusInUse, TriggerOperator, false},
		{model.LotStatusDamaged, model.LotStatusInUse, TriggerOverride, true},
		{model.LotStatusFinished, model.LotStatusNew, TriggerOverride, true},
		{model.LotStatusDamaged, model.LotStatusDamaged, TriggerOverride, false},
		{model.LotStatusNew, model.LotStatus("archived"), TriggerOverride, false},
	}

	for _, tt := range tests {
		got := CanTransition(tt.from, tt.to, tt.trigger)
		assert.Equalf(t, tt.want, got, "%s -> %s (%s)", tt.from, tt.to, tt.trigger)
	}
}

func TestAllocatable(t *testing.T) {
	assert.True(t, Allocatable(model.LotStatusNew))
	assert.True(t, Allocatable(model.LotStatusInUse))
	assert.False(t, Allocatable(model.LotStatusFinished))
	assert.False(t, Allocatable(model.LotStatusDamaged))
}

func TestTransition(t *testing.T) {
	t.Run("Writes a zero-delta status_change entry", func(t *testing.T) {
		l := newLot(model.LotStatusInUse, 10, 6, 2)
		entry, err := Transition(l, model.LotStatusDamaged, TriggerOperator, "water damage", "u1", now)
		require.NoError(t, err)

		assert.Equal(t, model.LotStatusDamaged, l.Status)
		assert.Equal(t, model.LedgerEntryStatusChange, entry.EntryType)
		assert.True(t, entry.QuantityDelta.IsZero())
		assert.True(t, entry.OnHandDelta.IsZero())
		assert.Equal(t, model.LotStatusInUse, *entry.StatusFrom)
		assert.Equal(t, model.LotStatusDamaged, *entry.StatusTo)
		assert.Equal(t, "water damage", entry.Note)
		assert.Equal(t, "u1", entry.Actor)
		assert.Equal(t, now, entry.CreatedAt)
	})

	t.Run("Damaging requires a reason", func(t *testing.T) {
		l := newLot(model.LotStatusNew, 10, 10, 0)
		_, err := Transition(l, model.LotStatusDamaged, TriggerOperator, "  ", "u1", now)
		assert.ErrorIs(t, err, lot.ErrInvalidRequest)
		assert.Equal(t, model.LotStatusNew, l.Status)
	})

	t.Run("Finished lot can be marked damaged with a reason", func(t *testing.T) {
		l := newLot(model.LotStatusFinished, 10, 0, 0)
		_, err := Transition(l, model.LotStatusDamaged, TriggerOperator, "", "u1", now)
		assert.ErrorIs(t, err, lot.ErrInvalidRequest)

		entry, err := Transition(l, model.LotStatusDamaged, TriggerOperator, "recalled by supplier", "u1", now)
		require.NoError(t, err)
		assert.Equal(t, model.LotStatusDamaged, l.Status)
		assert.Equal(t, "recalled by supplier", entry.Note)
		require.NotNil(t, entry.StatusFrom)
		assert.Equal(t, model.LotStatusFinished, *entry.StatusFrom)
	})

	t.Run("Rejects disallowed moves without touching the lot", func(t *testing.T) {
		l := newLot(model.LotStatusFinished, 10, 0, 0)
		_, err := Transition(l, model.LotStatusInUse, TriggerOperator, "reopen", "u1", now)
		assert.ErrorIs(t, err, lot.ErrInvalidTransition)
		assert.Equal(t, model.LotStatusFinished, l.Status)
	})

	t.Run("Override is prefixed in the note", func(t *testing.T) {
		l := newLot(model.LotStatusDamaged, 10, 4, 0)
		entry, err := Transition(l, model.LotStatusInUse, TriggerOverride, "mislabelled", "admin", now)
		require.NoError(t, err)
		assert.Equal(t, "override: mislabelled", entry.Note)
		assert.Equal(t, model.LotStatusInUse, l.Status)
	})
}

func TestSettle(t *testing.T) {
	t.Run("First reservation opens a new lot", func(t *testing.T) {
		l := newLot(model.LotStatusNew, 10, 10, 3)
		entries := Settle(l, "u1", "reserved", now)
		require.Len(t, entries, 1)
		assert.Equal(t, model.LotStatusInUse, l.Status)
	})

	t.Run("Untouched new lot stays new", func(t *testing.T) {
		l := newLot(model.LotStatusNew, 10, 10, 0)
		assert.Empty(t, Settle(l, "u1", "", now))
		assert.Equal(t, model.LotStatusNew, l.Status)
	})

	t.Run("Emptied lot finishes", func(t *testing.T) {
		l := newLot(model.LotStatusInUse, 10, 0, 0)
		entries := Settle(l, "u1", "shipped", now)
		require.Len(t, entries, 1)
		assert.Equal(t, model.LotStatusFinished, l.Status)
	})

	t.Run("New lot emptied in one step passes through in_use", func(t *testing.T) {
		l := newLot(model.LotStatusNew, 10, 0, 0)
		entries := Settle(l, "u1", "shipped", now)
		require.Len(t, entries, 2)
		assert.Equal(t, model.LotStatusInUse, *entries[0].StatusTo)
		assert.Equal(t, model.LotStatusFinished, *entries[1].StatusTo)
	})

	t.Run("Damaged lot is never settled", func(t *testing.T) {
		l := newLot(model.LotStatusDamaged, 10, 0, 0)
		assert.Empty(t, Settle(l, "u1", "", now))
		assert.Equal(t, model.LotStatusDamaged, l.Status)
	})
}
