package console

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/metrics"
)

// Observe returns Events that feed m and sink. Either may be nil.
func Observe(m *metrics.Metrics, sink audit.Sink, logger *zap.Logger) Events {
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Events{
		Refresh: func(ctx context.Context, tag, userID string, outcome apiclient.RefreshOutcome) {
			if m != nil {
				m.Refresh(string(outcome))
			}
			switch outcome {
			case apiclient.RefreshSucceeded, apiclient.RefreshFailed:
				sink.Record(ctx, audit.Event{Action: audit.ActionTokenRefresh, SessionTag: tag, UserID: userID, Outcome: string(outcome)})
			}
		},
		Logout: func(ctx context.Context, tag, userID string) {
			logger.Info("session ended after failed refresh", zap.String("session", tag), zap.String("user", userID))
			if m != nil {
				m.Logout()
			}
			sink.Record(ctx, audit.Event{Action: audit.ActionForcedLogout, SessionTag: tag, UserID: userID})
		},
		Redirect: func(string) {
			if m != nil {
				m.Redirect()
			}
		},
		Response: func(method, path string, status int, elapsed time.Duration) {
			if m != nil {
				m.ObserveAPI(method, path, status, elapsed)
			}
		},
		Bootstrap: func(_ context.Context, _ *Session, res bootstrap.Result) {
			if m != nil {
				m.Bootstrap(res.Authenticated)
			}
		},
	}
}
