package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/pkg/queue"
)

// EventStore persists audit events.
type EventStore interface {
	Insert(ctx context.Context, e audit.Event) error
}

// JobSource is the job queue as seen by the processor.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// AuditProcessor drains audit jobs into the event store.
type AuditProcessor struct {
	store   EventStore
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewAuditProcessor creates an audit job processor.
func NewAuditProcessor(store EventStore, q JobSource, logger *zap.Logger) *AuditProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditProcessor{store: store, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one audit job.
func (p *AuditProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAudit {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var e audit.Event
	if err := json.Unmarshal(job.Payload, &e); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if e.ID == "" {
		e.ID = job.ID
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = job.CreatedAt
	}
	if err := p.store.Insert(ctx, e); err != nil {
		return err
	}
	p.logger.Debug("audit event stored", zap.String("event_id", e.ID), zap.String("action", string(e.Action)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *AuditProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("audit worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *AuditProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
