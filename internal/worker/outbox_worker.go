package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/referral-service/internal/config"
	"github.com/spec-kit/referral-service/internal/domain"
	"github.com/spec-kit/referral-service/internal/events"
	"github.com/spec-kit/referral-service/internal/observability"
	"github.com/spec-kit/referral-service/internal/repository"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 8
	defaultBaseBackoff  = 5 * time.Second
	defaultMaxBackoff   = 10 * time.Minute
	deliveryTimeout     = 30 * time.Second
)

// errNoHandler marks messages whose kind has no subscriber. They are never retried.
var errNoHandler = errors.New("no handler registered")

// OutboxWorker delivers pending outbox messages through the dispatcher.
type OutboxWorker struct {
	tx         repository.Transactor
	dispatcher events.Dispatcher
	guard      *DeliveryGuard
	metrics    *observability.Metrics
	logger     *zap.Logger

	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration

	wake chan struct{}
	now  func() time.Time

	randMu sync.Mutex
	rnd    *rand.Rand
}

// OutboxWorkerParams bundles collaborators. Guard and Metrics are optional.
type OutboxWorkerParams struct {
	Transactor repository.Transactor
	Dispatcher events.Dispatcher
	Guard      *DeliveryGuard
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Config     config.OutboxConfig
	Clock      func() time.Time
}

// NewOutboxWorker validates params and applies defaults.
func NewOutboxWorker(params OutboxWorkerParams) (*OutboxWorker, error) {
	if params.Transactor == nil {
		return nil, errors.New("transactor is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	cfg := params.Config
	w := &OutboxWorker{
		tx:           params.Transactor,
		dispatcher:   params.Dispatcher,
		guard:        params.Guard,
		metrics:      params.Metrics,
		logger:       logger.Named("outbox"),
		batchSize:    orDefault(cfg.BatchSize, defaultBatchSize),
		pollInterval: orDefaultDuration(cfg.PollInterval, defaultPollInterval),
		maxAttempts:  orDefault(cfg.MaxAttempts, defaultMaxAttempts),
		baseBackoff:  orDefaultDuration(cfg.BaseBackoff, defaultBaseBackoff),
		maxBackoff:   orDefaultDuration(cfg.MaxBackoff, defaultMaxBackoff),
		wake:         make(chan struct{}, 1),
		now:          clock,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	return w, nil
}

// Wake asks the worker to poll now. It never blocks.
func (w *OutboxWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	w.logger.Info("outbox worker started",
		zap.Int("batch_size", w.batchSize),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("max_attempts", w.maxAttempts))

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("outbox worker stopped")
			return err
		}

		n, err := w.ProcessBatch(ctx)
		wait := w.pollInterval
		switch {
		case err != nil && ctx.Err() == nil:
			failures++
			wait = w.backoff(failures)
			w.logger.Error("outbox batch failed", zap.Error(err), zap.Duration("retry_in", wait))
		case n >= w.batchSize:
			failures = 0
			continue
		default:
			failures = 0
		}

		timer := time.NewTimer(wait + w.jitter(wait))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// ProcessBatch delivers one batch of due messages and returns how many were handled.
func (w *OutboxWorker) ProcessBatch(ctx context.Context) (int, error) {
	handled := 0
	err := w.tx.WithinTx(ctx, func(scope repository.Scope) error {
		outbox := scope.Outbox()
		msgs, err := outbox.FetchDue(ctx, w.batchSize, w.now())
		if err != nil {
			return fmt.Errorf("fetch due messages: %w", err)
		}
		for _, msg := range msgs {
			if err := w.deliver(ctx, outbox, msg); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

func (w *OutboxWorker) deliver(ctx context.Context, outbox repository.OutboxRepository, msg domain.OutboxMessage) error {
	fields := []zap.Field{
		zap.String("outbox_id", msg.ID),
		zap.String("ticket_id", msg.TicketID),
		zap.String("kind", msg.Kind),
		zap.Int("attempt", msg.AttemptCount+1),
	}
	kind := events.EventType(msg.Kind)

	if !w.dispatcher.HasSubscribers(kind) {
		w.logger.Error("outbox message has no handler", fields...)
		w.metrics.RecordDelivery(msg.Kind, "dead")
		return w.markDead(ctx, outbox, msg, errNoHandler)
	}

	claimed := false
	if w.guard != nil {
		ok, err := w.guard.Claim(ctx, msg.Kind, msg.ID)
		switch {
		case err != nil:
			w.logger.Warn("idempotency guard unavailable, delivering without it", append(fields, zap.Error(err))...)
		case !ok:
			w.logger.Info("outbox message already delivered", fields...)
			w.metrics.RecordDelivery(msg.Kind, "duplicate")
			return outbox.MarkDelivered(ctx, msg.ID, w.now())
		default:
			claimed = true
		}
	}

	deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	err := w.dispatcher.Publish(deliverCtx, events.Event{
		ID:        msg.ID,
		Type:      kind,
		TicketID:  msg.TicketID,
		Attempt:   msg.AttemptCount + 1,
		Timestamp: msg.CreatedAt,
		Payload:   msg.Payload,
	})
	cancel()

	if err == nil {
		w.metrics.RecordDelivery(msg.Kind, "delivered")
		w.logger.Debug("outbox message delivered", fields...)
		return outbox.MarkDelivered(ctx, msg.ID, w.now())
	}

	if claimed {
		if relErr := w.guard.Release(ctx, msg.Kind, msg.ID); relErr != nil {
			w.logger.Warn("release idempotency claim failed", append(fields, zap.Error(relErr))...)
		}
	}

	attempts := msg.AttemptCount + 1
	if attempts >= w.maxAttempts {
		w.logger.Error("outbox message exhausted retries", append(fields, zap.Error(err))...)
		w.metrics.RecordDelivery(msg.Kind, "dead")
		return w.markDead(ctx, outbox, msg, err)
	}

	delay := w.backoff(attempts)
	delay += w.jitter(delay)
	w.logger.Warn("outbox delivery failed", append(fields, zap.Error(err), zap.Duration("retry_in", delay))...)
	w.metrics.RecordDelivery(msg.Kind, "retry")
	if markErr := outbox.MarkRetry(ctx, msg.ID, attempts, w.now().Add(delay), err.Error()); markErr != nil {
		return fmt.Errorf("mark retry %s: %w", msg.ID, markErr)
	}
	return nil
}

func (w *OutboxWorker) markDead(ctx context.Context, outbox repository.OutboxRepository, msg domain.OutboxMessage, cause error) error {
	if err := outbox.MarkDead(ctx, msg.ID, msg.AttemptCount+1, cause.Error()); err != nil {
		return fmt.Errorf("mark dead %s: %w", msg.ID, err)
	}
	return nil
}

// backoff doubles the base delay per attempt up to maxBackoff.
func (w *OutboxWorker) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := w.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.maxBackoff {
			return w.maxBackoff
		}
	}
	if d > w.maxBackoff {
		return w.maxBackoff
	}
	return d
}

// jitter returns a random duration in [0, d/4).
func (w *OutboxWorker) jitter(d time.Duration) time.Duration {
	window := int64(d / 4)
	if window <= 0 {
		return 0
	}
	w.randMu.Lock()
	defer w.randMu.Unlock()
	return time.Duration(w.rnd.Int63n(window))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
