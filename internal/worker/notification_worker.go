package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/referral-service/internal/service"
)

// StartNotificationWorker registers notification handlers and runs the outbox
// worker in the background until ctx is cancelled. The returned channel is
// closed once the worker has stopped.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, outbox *OutboxWorker, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if notificationService == nil || outbox == nil {
		close(done)
		return done
	}
	notificationService.RegisterHandlers()

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("outbox worker panic", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		if err := outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox worker exited", zap.Error(err))
		}
	}()
	return done
}
