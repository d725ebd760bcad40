package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Enqueuer is the part of the job queue the recorder needs.
type Enqueuer interface {
	EnqueueAudit(ctx context.Context, payload any) error
}

// Recorder enqueues events for the audit worker. Enqueue failures are
// logged and dropped.
type Recorder struct {
	queue   Enqueuer
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRecorder creates a queue-backed recorder.
func NewRecorder(q Enqueuer, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{queue: q, timeout: 2 * time.Second, logger: logger, now: time.Now}
}

// Record enqueues e. The enqueue survives cancellation of ctx so that an
// event raised by a disconnecting request is still written.
func (r *Recorder) Record(ctx context.Context, e Event) {
	e.fill(r.now())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.queue.EnqueueAudit(ctx, e); err != nil {
		r.logger.Warn("audit enqueue failed",
			zap.String("action", string(e.Action)),
			zap.String("session", e.SessionTag),
			zap.Error(err),
		)
	}
}
