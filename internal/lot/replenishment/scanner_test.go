package replenishment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/lot/dto"
	"github.com/fekuna/omnipos-lot-service/internal/lot/repository"
	"github.com/fekuna/omnipos-lot-service/internal/lot/usecase"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeLocker struct {
	err      error
	obtained int
	released int
}

func (f *fakeLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.obtained++
	return func(context.Context) error {
		f.released++
		return nil
	}, nil
}

func newEngine(t *testing.T) lot.UseCase {
	t.Helper()
	repo := repository.NewMemoryRepository()
	repo.AddProduct(model.Product{ID: "low", MerchantID: "m1", IsActive: true})
	repo.AddProduct(model.Product{ID: "plenty", MerchantID: "m1", IsActive: true})
	uc := usecase.NewLotUseCase(repo, nil, nil, nil, usecase.Options{}, logger.NewNop())

	ctx := context.Background()
	for product, qty := range map[string]int64{"low": 3, "plenty": 40} {
		_, err := uc.ReceiveLot(ctx, &dto.ReceiveLotInput{
			MerchantID: "m1", ProductID: product, LotNumber: product + "-1", Quantity: decimal.NewFromInt(qty),
		})
		require.NoError(t, err)
		require.NoError(t, uc.SetStockPolicy(ctx, &model.StockPolicy{
			MerchantID: "m1", ProductID: product, ReorderPoint: decimal.NewFromInt(5), ReorderQuantity: decimal.NewFromInt(25),
		}))
	}
	return uc
}

func TestScanner_Scan(t *testing.T) {
	uc := newEngine(t)
	notifier := &captureNotifier{}
	s := NewScanner(uc, nil, notifier, Config{}, logger.NewNop())

	suggestions, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "low", suggestions[0].ProductID)
	assert.Equal(t, model.NotificationPurchaseSuggested, suggestions[0].Type)
	assert.True(t, suggestions[0].Quantity.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 1, notifier.count())
}

func TestScanner_ReservedStockCountsAsUsed(t *testing.T) {
	uc := newEngine(t)
	_, _, err := uc.ReserveQuantity(context.Background(), &dto.ReserveQuantityInput{
		MerchantID: "m1", ProductID: "plenty", Quantity: decimal.NewFromInt(36),
		ConsumerType: "sales_order", ConsumerID: "SO-9", Actor: "clerk",
	})
	require.NoError(t, err)

	s := NewScanner(uc, nil, nil, Config{}, logger.NewNop())
	suggestions, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)
}

func TestScanner_RunOnceLocking(t *testing.T) {
	t.Run("Holds and releases the lock around a scan", func(t *testing.T) {
		locker := &fakeLocker{}
		notifier := &captureNotifier{}
		s := NewScanner(newEngine(t), locker, notifier, Config{}, logger.NewNop())

		s.RunOnce(context.Background())
		assert.Equal(t, 1, locker.obtained)
		assert.Equal(t, 1, locker.released)
		assert.Equal(t, 1, notifier.count())
	})

	t.Run("Skips when another instance holds the lock", func(t *testing.T) {
		notifier := &captureNotifier{}
		s := NewScanner(newEngine(t), &fakeLocker{err: redislock.ErrNotObtained}, notifier, Config{}, logger.NewNop())

		s.RunOnce(context.Background())
		assert.Equal(t, 0, notifier.count())
	})

	t.Run("Skips when redis fails", func(t *testing.T) {
		notifier := &captureNotifier{}
		s := NewScanner(newEngine(t), &fakeLocker{err: errors.New("connection refused")}, notifier, Config{}, logger.NewNop())

		s.RunOnce(context.Background())
		assert.Equal(t, 0, notifier.count())
	})
}

func TestScanner_Run(t *testing.T) {
	notifier := &captureNotifier{}
	s := NewScanner(newEngine(t), nil, notifier, Config{Interval: 10 * time.Millisecond}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return notifier.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
