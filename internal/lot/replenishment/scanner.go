// Package replenishment raises purchase suggestions when a product's free
// stock drops to its reorder point. It only reads from the lot engine.
package replenishment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/lot/allocation"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockKey = "lock:lots:replenishment"

// Locker hands out a release func for a held lock.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// RedisLocker adapts redislock to Locker.
type RedisLocker struct {
	Client *redislock.Client
}

func (l RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.Client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
}

type Scanner struct {
	uc       lot.UseCase
	locker   Locker
	notifier lot.Notifier
	cfg      Config
	now      func() time.Time
	logger   logger.ZapLogger
}

// NewScanner builds a scanner. A nil locker means this is the only instance.
func NewScanner(uc lot.UseCase, locker Locker, notifier lot.Notifier, cfg Config, log logger.ZapLogger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Scanner{
		uc:       uc,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   log,
	}
}

func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info("Starting replenishment scanner", zap.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping replenishment scanner")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce scans under the singleton lock. It skips the round when another
// instance holds the lock or the lock cannot be checked.
func (s *Scanner) RunOnce(ctx context.Context) {
	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, lockKey, s.cfg.LockTTL)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.logger.Debug("replenishment scan already running elsewhere")
			return
		}
		if err != nil {
			s.logger.Warn("could not obtain replenishment lock", zap.Error(err))
			return
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.logger.Warn("failed to release replenishment lock", zap.Error(err))
			}
		}()
	}

	suggestions, err := s.Scan(ctx)
	if err != nil {
		s.logger.Error("replenishment scan failed", zap.Error(err))
		return
	}
	s.logger.Info("replenishment scan finished", zap.Int("suggestions", len(suggestions)))
}

func (s *Scanner) Scan(ctx context.Context) ([]model.Notification, error) {
	policies, err := s.uc.ListAllStockPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock policies: %w", err)
	}

	var suggestions []model.Notification
	for _, p := range policies {
		available, err := s.uc.ListAvailable(ctx, p.MerchantID, p.ProductID)
		if err != nil {
			s.logger.Warn("failed to read availability",
				zap.String("merchant_id", p.MerchantID),
				zap.String("product_id", p.ProductID),
				zap.Error(err))
			continue
		}

		free := allocation.TotalFree(available)
		if free.GreaterThan(p.ReorderPoint) {
			continue
		}

		n := model.Notification{
			EventID:    uuid.New().String(),
			Type:       model.NotificationPurchaseSuggested,
			MerchantID: p.MerchantID,
			ProductID:  p.ProductID,
			Quantity:   p.ReorderQuantity,
			Note:       fmt.Sprintf("free stock %s at or below reorder point %s", free, p.ReorderPoint),
			OccurredAt: s.now().UTC(),
		}
		suggestions = append(suggestions, n)
		if s.notifier != nil {
			s.notifier.Notify(ctx, n)
		}
	}
	return suggestions, nil
}
