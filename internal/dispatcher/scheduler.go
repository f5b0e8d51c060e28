package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/safetyhub/escalation-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultScanInterval = 15 * time.Second
	defaultScanBatch    = 100
)

// Scheduler releases delayed notifications. Delayed NOTIFY actions persist
// as Pending rows with scheduledAt; the scheduler scans for due rows, claims
// each by clearing scheduledAt, and publishes the delivery message. Claiming
// first keeps multiple instances from double-publishing; the worker's
// Pending check absorbs the rare duplicate.
type Scheduler struct {
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewScheduler(d *Dispatcher, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		dispatcher: d,
		interval:   interval,
		batchSize:  defaultScanBatch,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Run scans once immediately, then on every tick until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Scan(ctx); err != nil {
		s.logger.Error("scheduled notification scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("scheduled notification scan failed", zap.Error(err))
			}
		}
	}
}

// Scan releases one batch of due notifications.
func (s *Scheduler) Scan(ctx context.Context) error {
	due, err := s.dispatcher.store.GetDueScheduled(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return err
	}

	for i := range due {
		row := &due[i]
		claimed, err := s.dispatcher.store.ClearScheduledAt(ctx, row.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}

		if err := s.dispatcher.publish(ctx, row); err != nil {
			s.logger.Warn("failed to publish scheduled notification",
				zap.String("notificationId", row.ID),
				zap.Error(err),
			)
			s.dispatcher.failRow(ctx, row, fmt.Sprintf("queue publish failed: %v", err))
			continue
		}
		if s.metrics != nil {
			s.metrics.IncScheduledDue(row.Channel.String())
		}
		s.logger.Info("released scheduled notification",
			zap.String("notificationId", row.ID),
			zap.String("channel", row.Channel.String()),
		)
	}

	return nil
}
