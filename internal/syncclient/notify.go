package syncclient

import (
	"context"

	"go.uber.org/zap"
)

// Notifier surfaces helper-facing notifications (new tag, new suggestion).
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// LogNotifier writes notifications to the log, the default delivery method.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, title, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification",
		zap.String("title", title),
		zap.String("body", body))
	return nil
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) error { return nil }
