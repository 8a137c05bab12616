package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/logger"
	"go.uber.org/zap"
)

const defaultPublishTimeout = 5 * time.Second

// Publisher is satisfied by *broker.KafkaProducer.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaNotifier publishes lot notifications in the background. A failed
// publish is logged and dropped.
type KafkaNotifier struct {
	publisher Publisher
	timeout   time.Duration
	logger    logger.ZapLogger
	wg        sync.WaitGroup
}

var _ lot.Notifier = (*KafkaNotifier)(nil)

func NewKafkaNotifier(publisher Publisher, timeout time.Duration, log logger.ZapLogger) *KafkaNotifier {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &KafkaNotifier{
		publisher: publisher,
		timeout:   timeout,
		logger:    log,
	}
}

func (n *KafkaNotifier) Notify(_ context.Context, notification model.Notification) {
	value, err := json.Marshal(notification)
	if err != nil {
		n.logger.Error("failed to encode notification", zap.String("event_type", string(notification.Type)), zap.Error(err))
		return
	}

	// keyed by product so one product's events stay ordered on a partition
	key := notification.MerchantID + ":" + notification.ProductID

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.publisher.Publish(ctx, key, value); err != nil {
			n.logger.Warn("failed to publish notification",
				zap.String("event_id", notification.EventID),
				zap.String("event_type", string(notification.Type)),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (n *KafkaNotifier) Wait() {
	n.wg.Wait()
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, model.Notification) {}
