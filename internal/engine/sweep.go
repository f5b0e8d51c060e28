package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultSweepInterval = 30 * time.Second

// Sweep evaluates every open incident once over a bounded worker group.
// Per-incident failures are logged and do not affect other incidents; only
// a snapshot-provider failure aborts the sweep.
func (e *Engine) Sweep(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.snapshots == nil {
		return fmt.Errorf("snapshot provider not configured")
	}

	snapshots, err := e.snapshots.GetOpenIncidentSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch open incident snapshots: %w", err)
	}

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, snapshot := range snapshots {
		g.Go(func() error {
			if _, err := e.Evaluate(ctx, snapshot); err != nil {
				if ctx.Err() == nil {
					e.logger.Error("incident evaluation failed",
						zap.String("incidentId", snapshot.ID),
						zap.Error(err),
					)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Run sweeps immediately and then on every interval tick until the context
// is cancelled. Duration-based rules depend on the periodic sweep.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.setLifecycleContext(ctx)

	if err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Drain()
			return nil
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					e.Drain()
					return nil
				}
				e.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
