package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/safetyhub/escalation-engine/internal/domain"
	"github.com/safetyhub/escalation-engine/internal/observability"
	"github.com/safetyhub/escalation-engine/internal/queue"
	"github.com/safetyhub/escalation-engine/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerPool consumes the channel work queues and runs delivery attempts
// through the dispatcher. One consumer loop per channel queue; prefetch on
// the consumer bounds per-queue concurrency.
type WorkerPool struct {
	dispatcher *Dispatcher
	consumer   queue.Consumer
	limiter    ratelimit.RateLimiter
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func NewWorkerPool(d *Dispatcher, consumer queue.Consumer, limiter ratelimit.RateLimiter, logger *zap.Logger) (*WorkerPool, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		dispatcher: d,
		consumer:   consumer,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

func (w *WorkerPool) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Run blocks until the context is cancelled or a consumer loop fails.
func (w *WorkerPool) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, queueName := range queue.WorkQueueNames() {
		name := queueName
		group.Go(func() error {
			return w.consumer.Consume(groupCtx, name, w.handleMessage)
		})
	}
	return group.Wait()
}

// handleMessage is the per-message delivery path. A returned error requeues
// the message, so only infrastructure failures come back. The atomic claim
// makes broker redeliveries and competing consumers converge on exactly one
// transport attempt per row.
func (w *WorkerPool) handleMessage(ctx context.Context, msg queue.DeliveryMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	logger := observability.WithContextLogger(w.logger, ctx)

	// The limiter runs before the claim so a limiter failure requeues the
	// message with the row still claimable.
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, queue.QueueName(msg.Channel)); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	row, err := w.dispatcher.store.ClaimForSending(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("delivery message for unknown notification",
				zap.String("notificationId", msg.NotificationID),
			)
			return nil
		}
		return fmt.Errorf("failed to claim notification for sending: %w", err)
	}
	// Nil means another worker holds the claim or the row already settled.
	if row == nil {
		logger.Debug("notification already claimed or settled",
			zap.String("notificationId", msg.NotificationID),
		)
		return nil
	}

	channel := row.Channel.String()
	if w.metrics != nil {
		w.metrics.IncWorkerInFlight(channel)
		defer w.metrics.DecWorkerInFlight(channel)
	}

	return w.dispatcher.Deliver(ctx, row)
}
