package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EventPruner deletes audit events older than a cutoff.
type EventPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner enforces audit retention on an interval.
type Pruner struct {
	store     EventPruner
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewPruner creates a retention pruner.
func NewPruner(store EventPruner, retention, interval time.Duration, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{store: store, retention: retention, interval: interval, logger: logger, now: time.Now}
}

// PruneOnce removes expired events. A non-positive retention keeps everything.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	n, err := p.store.Prune(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("audit events pruned", zap.Int64("count", n))
	}
	return n, nil
}

// Run prunes immediately and then on every tick until ctx ends.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PruneOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("audit prune failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
